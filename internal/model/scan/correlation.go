package scan

// CPESource CPE标识来源
type CPESource string

const (
	CPESourceEngine      CPESource = "engine_detected" // 引擎直接给出
	CPESourceConstructed CPESource = "constructed"     // 由产品/版本构造
	CPESourceNone        CPESource = "none"            // 无法解析
)

// CPE 平台标识(临时计算值，不单独落库)
// Confidence为0时短路关联流程
type CPE struct {
	Source     CPESource `json:"source"`     // 标识来源
	Value      string    `json:"value"`      // CPE字符串
	Confidence int       `json:"confidence"` // 置信度(0-100)
}

// 关联结果状态标签
const (
	CorrelationSuccess = "success" // 关联成功
	CorrelationNoCPE   = "no_cpe"  // 无可用CPE
	CorrelationNoCVEs  = "no_cves" // 无匹配CVE
	CorrelationError   = "error"   // 关联出错
)

// CorrelationResult 单个服务的关联结果(返回给调用方/日志，不落库)
type CorrelationResult struct {
	ServiceID      uint64   `json:"service_id"`      // 服务ID
	HostID         uint64   `json:"host_id"`         // 主机ID
	CPE            CPE      `json:"cpe"`             // 解析出的CPE
	CVEsConsidered []string `json:"cves_considered"` // 参与比对的CVE编号
	Created        int      `json:"created"`         // 新建漏洞数
	Refreshed      int      `json:"refreshed"`       // 刷新last_seen的已有漏洞数
	Status         string   `json:"status"`          // 状态标签
	Error          string   `json:"error,omitempty"` // 错误信息(status=error时)
}

// BatchCorrelationResult 批量关联汇总
// 单个服务出错不会中断批处理，错误与成功并列上报
type BatchCorrelationResult struct {
	Total     int                 `json:"total"`     // 处理服务总数
	Succeeded int                 `json:"succeeded"` // 成功数
	NoCPE     int                 `json:"no_cpe"`    // 无CPE数
	NoCVEs    int                 `json:"no_cves"`   // 无匹配数
	Errors    int                 `json:"errors"`    // 出错数
	Created   int                 `json:"created"`   // 新建漏洞总数
	Refreshed int                 `json:"refreshed"` // 刷新漏洞总数
	Results   []CorrelationResult `json:"results"`   // 逐服务明细
}

// Add 合入单个服务的关联结果
func (b *BatchCorrelationResult) Add(r CorrelationResult) {
	b.Total++
	b.Created += r.Created
	b.Refreshed += r.Refreshed
	b.Results = append(b.Results, r)

	switch r.Status {
	case CorrelationSuccess:
		b.Succeeded++
	case CorrelationNoCPE:
		b.NoCPE++
	case CorrelationNoCVEs:
		b.NoCVEs++
	case CorrelationError:
		b.Errors++
	}
}
