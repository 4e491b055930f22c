package normalizer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/url"
	"strings"

	"vulnmaster/internal/model/scan"
)

// 模板漏洞引擎的severity词表与五级标度同形，unknown归入info
var nucleiSeverityTable = map[string]string{
	"critical": scan.SeverityCritical,
	"high":     scan.SeverityHigh,
	"medium":   scan.SeverityMedium,
	"low":      scan.SeverityLow,
	"info":     scan.SeverityInfo,
}

// nucleiResult 对应JSONL输出的单行结果
type nucleiResult struct {
	TemplateID string `json:"template-id"`
	Type       string `json:"type"`
	Host       string `json:"host"`
	IP         string `json:"ip"`
	Port       string `json:"port"`
	MatchedAt  string `json:"matched-at"`
	Info       struct {
		Name           string `json:"name"`
		Severity       string `json:"severity"`
		Description    string `json:"description"`
		Classification struct {
			CVEIDs    []string `json:"cve-id"`
			CVSSScore float64  `json:"cvss-score"`
		} `json:"classification"`
	} `json:"info"`
}

// parseNucleiJSONL 逐行解析JSONL输出
// 行级容错：坏行(通常是被截断的最后一行)跳过，不影响其他行
func parseNucleiJSONL(raw []byte) ([]scan.Finding, error) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	byHost := make(map[string]*scan.Finding)
	var order []string

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var r nucleiResult
		if err := json.Unmarshal(line, &r); err != nil {
			continue // 坏行跳过
		}

		address := nucleiAddress(r)
		if address == "" {
			continue
		}

		finding, exists := byHost[address]
		if !exists {
			finding = &scan.Finding{Address: address}
			byHost[address] = finding
			order = append(order, address)
		}

		port := 0
		if p, err := parsePort(r.Port); err == nil {
			port = p
		}

		severity := nucleiSeverityTable[strings.ToLower(r.Info.Severity)]
		if severity == "" {
			severity = scan.SeverityInfo
		}

		finding.Vulns = append(finding.Vulns, scan.FindingVuln{
			Name:      r.Info.Name,
			Severity:  severity,
			Score:     r.Info.Classification.CVSSScore,
			ScannerID: r.TemplateID,
			CVEIDs:    normalizeCVEIDs(r.Info.Classification.CVEIDs),
			Port:      port,
			Proto:     "tcp",
			Evidence:  r.MatchedAt,
		})
	}

	findings := make([]scan.Finding, 0, len(order))
	for _, host := range order {
		findings = append(findings, *byHost[host])
	}
	return findings, nil
}

// nucleiAddress 提取主机地址，优先用引擎解析出的IP
func nucleiAddress(r nucleiResult) string {
	if r.IP != "" {
		return r.IP
	}
	host := r.Host
	if strings.Contains(host, "://") {
		if u, err := url.Parse(host); err == nil {
			host = u.Hostname()
		}
	}
	// 去掉host:port形式的端口
	if i := strings.LastIndexByte(host, ':'); i > 0 && !strings.Contains(host, "]") {
		if _, err := parsePort(host[i+1:]); err == nil {
			host = host[:i]
		}
	}
	return host
}

// normalizeCVEIDs 统一成大写的CVE-YYYY-NNNN形式
func normalizeCVEIDs(ids []string) []string {
	var out []string
	for _, id := range ids {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
