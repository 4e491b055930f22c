package scan

// 规范化后的严重程度五级标度
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// SeverityRank 严重程度排序值，越大越严重
// 未知值归为0，低于info，保证升级判断安全
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Finding 引擎无关的原始观测结果
// 由规范化器产出，作为摄入服务的输入单元，不单独落库
type Finding struct {
	Address  string           `json:"address"`  // 主机地址(IP)
	Hostname string           `json:"hostname"` // 主机名，可选
	OS       string           `json:"os"`       // 操作系统猜测，可选
	Services []FindingService `json:"services"` // 端口/服务观测
	Vulns    []FindingVuln    `json:"vulns"`    // 原始漏洞提及
}

// FindingService 单个端口/服务观测
type FindingService struct {
	Port    int    `json:"port"`    // 端口号
	Proto   string `json:"proto"`   // 协议(tcp/udp)
	State   string `json:"state"`   // 端口状态(open/filtered/closed)
	Name    string `json:"name"`    // 服务名称
	Product string `json:"product"` // 产品名称
	Version string `json:"version"` // 产品版本
	CPE     string `json:"cpe"`     // 引擎给出的CPE标识，可选
}

// FindingVuln 引擎断言的原始漏洞提及
type FindingVuln struct {
	Name      string   `json:"name"`       // 漏洞名称
	Severity  string   `json:"severity"`   // 规范化后的严重程度
	Score     float64  `json:"score"`      // 数值评分(CVSS)，可选
	ScannerID string   `json:"scanner_id"` // 扫描器原生标识(OID/模板ID/插件ID)
	CVEIDs    []string `json:"cve_ids"`    // 引擎已内嵌的CVE编号
	Port      int      `json:"port"`       // 关联端口，0表示主机级
	Proto     string   `json:"proto"`      // 关联协议
	Evidence  string   `json:"evidence"`   // 证据/描述摘要
}
