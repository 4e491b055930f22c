package normalizer

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"vulnmaster/internal/model/scan"
	"vulnmaster/internal/model/system"
)

// 漏洞管理引擎的threat词表到五级标度的固定映射
// 引擎的threat只有四档，Critical由评分(>=9.0)升格得到
var openvasSeverityTable = map[string]string{
	"High":   scan.SeverityHigh,
	"Medium": scan.SeverityMedium,
	"Low":    scan.SeverityLow,
	"Log":    scan.SeverityInfo,
	"Debug":  scan.SeverityInfo,
}

// openvasResult 对应报告XML的<result>元素
type openvasResult struct {
	Name     string `xml:"name"`
	Host     string `xml:"host"`
	Port     string `xml:"port"` // "443/tcp" 或 "general/tcp"
	Threat   string `xml:"threat"`
	Severity string `xml:"severity"` // CVSS评分字符串
	NVT      struct {
		OID  string `xml:"oid,attr"`
		Refs struct {
			Refs []struct {
				Type string `xml:"type,attr"`
				ID   string `xml:"id,attr"`
			} `xml:"ref"`
		} `xml:"refs"`
	} `xml:"nvt"`
	Description string `xml:"description"`
}

// parseOpenVASReport 流式解析漏洞管理引擎的XML报告
// 按host聚合result，截断尾部非致命
func parseOpenVASReport(raw []byte) ([]scan.Finding, error) {
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	byHost := make(map[string]*scan.Finding)
	var order []string
	var truncated error

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			truncated = fmt.Errorf("%w: %v", system.ErrParseTruncated, err)
			break
		}

		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "result" {
			continue
		}

		var r openvasResult
		if err := decoder.DecodeElement(&r, &start); err != nil {
			truncated = fmt.Errorf("%w: %v", system.ErrParseTruncated, err)
			break
		}
		if r.Host == "" {
			continue
		}

		finding, exists := byHost[r.Host]
		if !exists {
			finding = &scan.Finding{Address: r.Host}
			byHost[r.Host] = finding
			order = append(order, r.Host)
		}

		port, proto := splitOpenVASPort(r.Port)
		score, _ := strconv.ParseFloat(r.Severity, 64)

		finding.Vulns = append(finding.Vulns, scan.FindingVuln{
			Name:      r.Name,
			Severity:  mapOpenVASSeverity(r.Threat, score),
			Score:     score,
			ScannerID: r.NVT.OID,
			CVEIDs:    extractOpenVASCVEs(r),
			Port:      port,
			Proto:     proto,
			Evidence:  firstLine(r.Description),
		})
	}

	findings := make([]scan.Finding, 0, len(order))
	for _, host := range order {
		findings = append(findings, *byHost[host])
	}
	return findings, truncated
}

// splitOpenVASPort 解析"443/tcp"形式的端口字段，"general/tcp"表示主机级
func splitOpenVASPort(s string) (int, string) {
	parts := strings.SplitN(s, "/", 2)
	proto := "tcp"
	if len(parts) == 2 {
		proto = parts[1]
	}
	port, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, proto // general等非数字端口归为主机级
	}
	return port, proto
}

// mapOpenVASSeverity threat词表映射，评分达到9.0升格为critical
func mapOpenVASSeverity(threat string, score float64) string {
	if score >= 9.0 {
		return scan.SeverityCritical
	}
	if severity, ok := openvasSeverityTable[threat]; ok {
		return severity
	}
	return scan.SeverityInfo
}

// extractOpenVASCVEs 提取引擎已断言的CVE引用
func extractOpenVASCVEs(r openvasResult) []string {
	var cves []string
	for _, ref := range r.NVT.Refs.Refs {
		if strings.EqualFold(ref.Type, "cve") && ref.ID != "" {
			cves = append(cves, ref.ID)
		}
	}
	return cves
}

// firstLine 取描述的首行作为证据摘要
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
