/**
 * 模型:扫描任务
 * @author: sun977
 * @date: 2026.03.20
 * @description: 扫描任务实体及其状态机定义
 * @func: ScanJob结构体、状态转换规则、目标列表序列化
 */
package scan

import (
	"encoding/json"
	"time"

	"vulnmaster/internal/model/basemodel"
)

// ScanKind 扫描类型
type ScanKind string

const (
	KindDiscovery    ScanKind = "discovery"      // 主机发现
	KindPortScan     ScanKind = "port_scan"      // 端口扫描
	KindServiceScan  ScanKind = "service_scan"   // 服务识别
	KindVulnScan     ScanKind = "vulnerability"  // 漏洞扫描(漏洞管理引擎)
	KindFull         ScanKind = "full"           // 全量网络扫描
	KindTemplateScan ScanKind = "template_scan"  // 模板漏洞扫描
	KindWebAppScan   ScanKind = "web_app_scan"   // Web应用扫描
	KindFullVulnScan ScanKind = "full_vuln_scan" // 全量漏洞扫描
)

// AllScanKinds 全部合法扫描类型
var AllScanKinds = []ScanKind{
	KindDiscovery, KindPortScan, KindServiceScan, KindVulnScan,
	KindFull, KindTemplateScan, KindWebAppScan, KindFullVulnScan,
}

// IsValid 检查扫描类型是否合法
func (k ScanKind) IsValid() bool {
	for _, kind := range AllScanKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// IsWebKind 检查是否为Web类扫描(目标为URL)
func (k ScanKind) IsWebKind() bool {
	return k == KindWebAppScan
}

// ScanJobStatus 扫描任务状态
type ScanJobStatus string

const (
	StatusQueued    ScanJobStatus = "queued"    // 已入队待调度
	StatusRunning   ScanJobStatus = "running"   // 执行中
	StatusCompleted ScanJobStatus = "completed" // 已完成
	StatusFailed    ScanJobStatus = "failed"    // 已失败
	StatusCancelled ScanJobStatus = "cancelled" // 已取消
)

// IsTerminal 检查是否为终态
func (s ScanJobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo 检查状态转换是否合法
// queued -> running | cancelled
// running -> running(进度更新) | completed | failed | cancelled
// 终态不允许任何转换
func (s ScanJobStatus) CanTransitionTo(next ScanJobStatus) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusRunning || next == StatusCompleted ||
			next == StatusFailed || next == StatusCancelled
	default:
		return false
	}
}

// ScanJob 扫描任务表
// 记录一次扫描请求的完整生命周期
type ScanJob struct {
	basemodel.BaseModel

	JobID     string   `json:"job_id" gorm:"column:job_id;size:64;uniqueIndex;not null;comment:任务UUID"`
	Name      string   `json:"name" gorm:"size:200;not null;comment:任务名称"`
	OrgID     uint64   `json:"org_id" gorm:"index;not null;comment:组织ID(外部认证层提供的分区键)"`
	Kind      ScanKind `json:"kind" gorm:"size:50;not null;comment:扫描类型"`
	Status    ScanJobStatus `json:"status" gorm:"size:20;index;default:'queued';comment:任务状态"`
	Progress  int      `json:"progress" gorm:"default:0;comment:进度百分比(0-100)"`
	Targets   string   `json:"targets" gorm:"type:json;not null;comment:目标列表(JSON)"`
	PortRange string   `json:"port_range" gorm:"size:200;comment:端口范围"`
	Options   string   `json:"options" gorm:"type:json;comment:引擎选项(JSON)"`

	// 取消标志，worker在轮询间隙协作式检查
	CancelRequested bool `json:"cancel_requested" gorm:"default:false;comment:是否已请求取消"`

	// 聚合计数器，由Finding摄入服务回写
	HostsScanned    int `json:"hosts_scanned" gorm:"default:0;comment:已扫描主机数"`
	HostsResponsive int `json:"hosts_responsive" gorm:"default:0;comment:存活主机数"`
	ServicesFound   int `json:"services_found" gorm:"default:0;comment:发现服务数"`
	VulnCritical    int `json:"vuln_critical" gorm:"default:0;comment:严重漏洞数"`
	VulnHigh        int `json:"vuln_high" gorm:"default:0;comment:高危漏洞数"`
	VulnMedium      int `json:"vuln_medium" gorm:"default:0;comment:中危漏洞数"`
	VulnLow         int `json:"vuln_low" gorm:"default:0;comment:低危漏洞数"`
	VulnInfo        int `json:"vuln_info" gorm:"default:0;comment:信息级漏洞数"`

	FailReason  string     `json:"fail_reason" gorm:"type:text;comment:失败原因"`
	StartedAt   *time.Time `json:"started_at" gorm:"comment:开始时间"`
	CompletedAt *time.Time `json:"completed_at" gorm:"comment:结束时间"`
}

// TableName 定义数据库表名
func (ScanJob) TableName() string {
	return "scan_jobs"
}

// SetTargets 序列化目标列表
func (j *ScanJob) SetTargets(targets []string) error {
	data, err := json.Marshal(targets)
	if err != nil {
		return err
	}
	j.Targets = string(data)
	return nil
}

// GetTargets 反序列化目标列表
func (j *ScanJob) GetTargets() []string {
	var targets []string
	if j.Targets == "" {
		return targets
	}
	_ = json.Unmarshal([]byte(j.Targets), &targets)
	return targets
}

// SetOptions 序列化引擎选项
func (j *ScanJob) SetOptions(options map[string]interface{}) error {
	if options == nil {
		j.Options = ""
		return nil
	}
	data, err := json.Marshal(options)
	if err != nil {
		return err
	}
	j.Options = string(data)
	return nil
}

// GetOptions 反序列化引擎选项
func (j *ScanJob) GetOptions() map[string]interface{} {
	options := make(map[string]interface{})
	if j.Options == "" {
		return options
	}
	_ = json.Unmarshal([]byte(j.Options), &options)
	return options
}

// VulnTotal 漏洞总数
func (j *ScanJob) VulnTotal() int {
	return j.VulnCritical + j.VulnHigh + j.VulnMedium + j.VulnLow + j.VulnInfo
}
