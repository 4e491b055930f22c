package utils

import (
	"net"
	"strconv"
	"strings"
)

// NormalizeIP 标准化IP地址：
// - 若是带端口的地址，去掉端口
// - 若是 X-Forwarded-For 列表，取第一个
// - 若是 IPv4-mapped IPv6 (::ffff:192.0.2.1)，转成纯 IPv4
// - 否则按原样返回（包括真 IPv6）
func NormalizeIP(input string) string {
	if input == "" {
		return ""
	}

	// 先按逗号切分（X-Forwarded-For 可能是列表）
	ip := strings.TrimSpace(strings.Split(input, ",")[0])

	// 去掉端口（host:port 或 [ipv6]:port）
	if h, _, err := net.SplitHostPort(ip); err == nil {
		ip = h
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ip
	}

	if v4 := parsed.To4(); v4 != nil {
		return v4.String()
	}

	return parsed.String()
}

// IsValidIP 检查是否为合法IP地址
func IsValidIP(s string) bool {
	return net.ParseIP(s) != nil
}

// IsValidCIDR 检查是否为合法CIDR表示法
func IsValidCIDR(s string) bool {
	_, _, err := net.ParseCIDR(s)
	return err == nil
}

// IsValidHostname 检查是否为合法主机名 (RFC 1123)
func IsValidHostname(s string) bool {
	if s == "" || len(s) > 253 {
		return false
	}
	// 纯IP不算主机名
	if net.ParseIP(s) != nil {
		return false
	}
	labels := strings.Split(strings.TrimSuffix(s, "."), ".")
	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, c := range label {
			if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-') {
				return false
			}
		}
	}
	return true
}

// IsValidPortRange 检查端口范围表达式，支持 "80"、"1-1024"、"22,80,443"、"1-1024,8080" 组合
func IsValidPortRange(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return false
		}
		bounds := strings.Split(part, "-")
		if len(bounds) > 2 {
			return false
		}
		prev := 0
		for i, b := range bounds {
			port, err := strconv.Atoi(b)
			if err != nil || port < 1 || port > 65535 {
				return false
			}
			if i == 1 && port < prev {
				return false
			}
			prev = port
		}
	}
	return true
}

// IPInCIDRs 检查IP是否落在给定的CIDR列表内，列表为空时视为不限制
func IPInCIDRs(ip string, cidrs []string) bool {
	if len(cidrs) == 0 {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}
