package normalizer

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"vulnmaster/internal/model/scan"
	"vulnmaster/internal/model/system"
)

// Web应用引擎的risk词表到五级标度的固定映射
var zapSeverityTable = map[string]string{
	"High":          scan.SeverityHigh,
	"Medium":        scan.SeverityMedium,
	"Low":           scan.SeverityLow,
	"Informational": scan.SeverityInfo,
}

// zapAlert 对应告警JSON的单条alert
type zapAlert struct {
	Alert      string `json:"alert"`
	PluginID   string `json:"pluginId"`
	Risk       string `json:"risk"`
	Confidence string `json:"confidence"`
	URL        string `json:"url"`
	Param      string `json:"param"`
	Evidence   string `json:"evidence"`
	CWEID      string `json:"cweid"`
}

type zapAlertsResponse struct {
	Alerts []zapAlert `json:"alerts"`
}

// parseZAPAlerts 解析告警JSON，按URL的主机聚合
func parseZAPAlerts(raw []byte) ([]scan.Finding, error) {
	var resp zapAlertsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", system.ErrParseTruncated, err)
	}

	byHost := make(map[string]*scan.Finding)
	var order []string

	for _, alert := range resp.Alerts {
		host, port := splitAlertURL(alert.URL)
		if host == "" {
			continue
		}

		finding, exists := byHost[host]
		if !exists {
			finding = &scan.Finding{Address: host}
			byHost[host] = finding
			order = append(order, host)
		}

		severity, ok := zapSeverityTable[alert.Risk]
		if !ok {
			severity = scan.SeverityInfo
		}

		evidence := alert.Evidence
		if evidence == "" {
			evidence = alert.URL
		}

		finding.Vulns = append(finding.Vulns, scan.FindingVuln{
			Name:      alert.Alert,
			Severity:  severity,
			ScannerID: alert.PluginID,
			Port:      port,
			Proto:     "tcp",
			Evidence:  evidence,
		})
	}

	findings := make([]scan.Finding, 0, len(order))
	for _, host := range order {
		findings = append(findings, *byHost[host])
	}
	return findings, nil
}

// splitAlertURL 从告警URL里提取主机和端口，端口缺省按scheme补齐
func splitAlertURL(rawURL string) (string, int) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "", 0
	}

	port := 0
	if p := u.Port(); p != "" {
		port, _ = parsePort(p)
	} else if strings.EqualFold(u.Scheme, "https") {
		port = 443
	} else if strings.EqualFold(u.Scheme, "http") {
		port = 80
	}
	return u.Hostname(), port
}

// parsePort 解析端口字符串，要求落在1~65535
func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port out of range: %d", port)
	}
	return port, nil
}
