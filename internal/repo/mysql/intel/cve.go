/**
 * 漏洞情报仓库层
 * @author: sun977
 * @date: 2026.06.05
 * @description: CVE情报缓存的只读查询，写入由外部情报管道负责
 * @func: 单纯数据访问，不应该包含业务逻辑
 */
package intel

import (
	"context"
	"errors"

	"vulnmaster/internal/model/intel"

	"gorm.io/gorm"
)

// CVEIntelRepository 漏洞情报仓库
type CVEIntelRepository struct {
	db *gorm.DB
}

// NewCVEIntelRepository 创建 CVEIntelRepository 实例
func NewCVEIntelRepository(db *gorm.DB) *CVEIntelRepository {
	return &CVEIntelRepository{db: db}
}

// LookupByPlatform 按规范化产品名查询候选CVE
// 排序固定：评分降序、发布时间降序、CVE编号升序，保证关联结果可复现
func (r *CVEIntelRepository) LookupByPlatform(ctx context.Context, product string, limit int) ([]*intel.CVERecord, error) {
	var records []*intel.CVERecord
	query := r.db.WithContext(ctx).
		Where("product = ?", product).
		Order("score desc, published_at desc, cve_id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&records).Error
	return records, err
}

// GetByCVEID 根据CVE编号获取情报记录
func (r *CVEIntelRepository) GetByCVEID(ctx context.Context, cveID string) (*intel.CVERecord, error) {
	var record intel.CVERecord
	err := r.db.WithContext(ctx).Where("cve_id = ?", cveID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}
