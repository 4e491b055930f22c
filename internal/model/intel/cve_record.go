package intel

import (
	"time"

	"vulnmaster/internal/model/basemodel"
)

// CVERecord 漏洞情报缓存条目
// 缓存的写入/刷新由外部情报管道负责，本系统只读
type CVERecord struct {
	basemodel.BaseModel

	CVEID       string     `json:"cve_id" gorm:"column:cve_id;size:50;uniqueIndex;not null;comment:CVE编号"`
	Summary     string     `json:"summary" gorm:"type:text;comment:漏洞摘要"`
	Severity    string     `json:"severity" gorm:"size:20;index;comment:严重程度(critical/high/medium/low/info)"`
	Score       float64    `json:"score" gorm:"index;comment:CVSS评分"`
	PublishedAt *time.Time `json:"published_at" gorm:"index;comment:发布时间"`

	// 受影响产品范围，按规范化产品名匹配
	Product      string `json:"product" gorm:"size:100;index;not null;comment:受影响产品(规范化小写)"`
	VersionStart string `json:"version_start" gorm:"size:50;comment:受影响起始版本(含)"`
	VersionEnd   string `json:"version_end" gorm:"size:50;comment:受影响结束版本(含)"`
}

// TableName 定义数据库表名
func (CVERecord) TableName() string {
	return "cve_records"
}
