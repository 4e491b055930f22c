/**
 * 模型:资产实体
 * @author: sun977
 * @date: 2026.04.02
 * @description: 主机/服务/漏洞资产表，按组织分区，重复扫描走upsert不产生副本
 * @func: AssetHost、AssetService、AssetVuln、ScanJobHost
 */
package asset

import (
	"time"

	"vulnmaster/internal/model/basemodel"
)

// AssetHost 主机资产表
// 以 (org_id, ip) 为业务主键，重复扫描更新而非新建
type AssetHost struct {
	basemodel.BaseModel

	OrgID      uint64     `json:"org_id" gorm:"uniqueIndex:uk_org_ip;not null;comment:组织ID"`
	IP         string     `json:"ip" gorm:"column:ip;size:50;uniqueIndex:uk_org_ip;not null;comment:IP地址"`
	Hostname   string     `json:"hostname" gorm:"size:200;comment:主机名"`
	OS         string     `json:"os" gorm:"size:100;comment:操作系统"`
	Responsive bool       `json:"responsive" gorm:"default:false;comment:是否存活"`
	LastSeenAt *time.Time `json:"last_seen_at" gorm:"comment:最后发现时间"`
}

// TableName 定义数据库表名
func (AssetHost) TableName() string {
	return "asset_hosts"
}

// AssetService 服务资产表
// 以 (host_id, port, proto) 为业务主键，保存最近一次探测到的产品信息
type AssetService struct {
	basemodel.BaseModel

	HostID     uint64     `json:"host_id" gorm:"uniqueIndex:uk_host_port_proto;not null;comment:主机ID"`
	Port       int        `json:"port" gorm:"uniqueIndex:uk_host_port_proto;not null;comment:端口号"`
	Proto      string     `json:"proto" gorm:"size:10;uniqueIndex:uk_host_port_proto;default:'tcp';comment:协议(tcp/udp)"`
	State      string     `json:"state" gorm:"size:20;comment:端口状态(open/filtered/closed)"`
	Name       string     `json:"name" gorm:"size:100;comment:服务名称"`
	Product    string     `json:"product" gorm:"size:100;comment:产品名称"`
	Version    string     `json:"version" gorm:"size:100;comment:服务版本"`
	CPE        string     `json:"cpe" gorm:"size:255;comment:引擎给出的CPE标识"`
	LastSeenAt *time.Time `json:"last_seen_at" gorm:"comment:最后发现时间"`
}

// TableName 定义数据库表名
func (AssetService) TableName() string {
	return "asset_services"
}

// AssetVuln 漏洞资产表
// 有CVE编号时以 (host_id, service_id, cve) 去重，否则以 (host_id, service_id, name) 去重
// 重复检出只刷新 last_seen_at；severity 只升不降；status 由外部处置流程维护
type AssetVuln struct {
	basemodel.BaseModel

	OrgID     uint64  `json:"org_id" gorm:"index;not null;comment:组织ID"`
	HostID    uint64  `json:"host_id" gorm:"index:idx_host_service;not null;comment:主机ID"`
	ServiceID uint64  `json:"service_id" gorm:"index:idx_host_service;comment:服务ID(0表示主机级漏洞)"`
	Name      string  `json:"name" gorm:"size:255;not null;comment:漏洞名称"`
	CVE       string  `json:"cve" gorm:"size:50;index;comment:CVE编号"`
	Severity  string  `json:"severity" gorm:"size:20;default:'medium';comment:严重程度(critical/high/medium/low/info)"`
	Score     float64 `json:"score" gorm:"default:0;comment:数值评分(CVSS)"`
	Source    string  `json:"source" gorm:"size:100;comment:检出来源(引擎或correlator)"`
	Evidence  string  `json:"evidence" gorm:"type:text;comment:证据/描述摘要"`

	Status      string     `json:"status" gorm:"size:20;default:'open';comment:状态(open/in_progress/resolved/false_positive)"`
	FirstSeenAt *time.Time `json:"first_seen_at" gorm:"comment:首次发现时间"`
	LastSeenAt  *time.Time `json:"last_seen_at" gorm:"comment:最后发现时间"`
}

// TableName 定义数据库表名
func (AssetVuln) TableName() string {
	return "asset_vulns"
}

// ScanJobHost 任务-主机关联表
// 支撑按任务物化的主机/漏洞列表查询
type ScanJobHost struct {
	basemodel.BaseModel

	JobID  string `json:"job_id" gorm:"size:64;uniqueIndex:uk_job_host;not null;comment:任务UUID"`
	HostID uint64 `json:"host_id" gorm:"uniqueIndex:uk_job_host;not null;comment:主机ID"`
}

// TableName 定义数据库表名
func (ScanJobHost) TableName() string {
	return "scan_job_hosts"
}
