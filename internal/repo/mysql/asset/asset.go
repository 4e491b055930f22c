/**
 * 资产仓库层
 * @author: sun977
 * @date: 2026.06.05
 * @description: 主机/服务/漏洞资产数据访问，upsert按业务主键去重
 * @func: 单纯数据访问，不应该包含业务逻辑
 */
package asset

import (
	"context"
	"errors"

	"vulnmaster/internal/model/asset"
	"vulnmaster/internal/model/scan"
	"vulnmaster/internal/pkg/logger"

	"gorm.io/gorm"
)

// AssetRepository 资产仓库
// 负责 AssetHost、AssetService、AssetVuln 和任务关联表的数据访问
type AssetRepository struct {
	db *gorm.DB
}

// NewAssetRepository 创建 AssetRepository 实例
func NewAssetRepository(db *gorm.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

// -----------------------------------------------------------------------------
// AssetHost (主机资产)
// -----------------------------------------------------------------------------

// UpsertHost 按 (org_id, ip) 更新或创建主机
// 调用方(摄入服务)以按键互斥保证并发安全，这里做查改写
func (r *AssetRepository) UpsertHost(ctx context.Context, host *asset.AssetHost) (*asset.AssetHost, error) {
	if host == nil {
		return nil, errors.New("host is nil")
	}

	var existing asset.AssetHost
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND ip = ?", host.OrgID, host.IP).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := r.db.WithContext(ctx).Create(host).Error; err != nil {
			logger.LogError(err, "", "", "asset_repo", "create_host", map[string]interface{}{
				"ip": host.IP,
			})
			return nil, err
		}
		return host, nil
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"responsive":   host.Responsive,
		"last_seen_at": host.LastSeenAt,
	}
	// 空值不覆盖已有信息
	if host.Hostname != "" {
		updates["hostname"] = host.Hostname
	}
	if host.OS != "" {
		updates["os"] = host.OS
	}
	if err := r.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
		logger.LogError(err, "", "", "asset_repo", "update_host", map[string]interface{}{
			"id": existing.ID,
		})
		return nil, err
	}
	return &existing, nil
}

// GetHostByID 根据ID获取主机
func (r *AssetRepository) GetHostByID(ctx context.Context, id uint64) (*asset.AssetHost, error) {
	var host asset.AssetHost
	err := r.db.WithContext(ctx).First(&host, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("host not found")
		}
		return nil, err
	}
	return &host, nil
}

// ListHostsByJob 获取任务涉及的主机列表
func (r *AssetRepository) ListHostsByJob(ctx context.Context, jobID string) ([]*asset.AssetHost, error) {
	var hosts []*asset.AssetHost
	err := r.db.WithContext(ctx).
		Joins("JOIN scan_job_hosts ON scan_job_hosts.host_id = asset_hosts.id").
		Where("scan_job_hosts.job_id = ?", jobID).
		Order("asset_hosts.id asc").
		Find(&hosts).Error
	return hosts, err
}

// -----------------------------------------------------------------------------
// AssetService (服务资产)
// -----------------------------------------------------------------------------

// UpsertService 按 (host_id, port, proto) 更新或创建服务
func (r *AssetRepository) UpsertService(ctx context.Context, service *asset.AssetService) (*asset.AssetService, error) {
	if service == nil {
		return nil, errors.New("service is nil")
	}

	var existing asset.AssetService
	err := r.db.WithContext(ctx).
		Where("host_id = ? AND port = ? AND proto = ?", service.HostID, service.Port, service.Proto).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := r.db.WithContext(ctx).Create(service).Error; err != nil {
			logger.LogError(err, "", "", "asset_repo", "create_service", map[string]interface{}{
				"host_id": service.HostID,
				"port":    service.Port,
			})
			return nil, err
		}
		return service, nil
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"state":        service.State,
		"last_seen_at": service.LastSeenAt,
	}
	// 保存最近一次探测到的产品信息，空值不覆盖
	if service.Name != "" {
		updates["name"] = service.Name
	}
	if service.Product != "" {
		updates["product"] = service.Product
	}
	if service.Version != "" {
		updates["version"] = service.Version
	}
	if service.CPE != "" {
		updates["cpe"] = service.CPE
	}
	if err := r.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

// GetServiceByID 根据ID获取服务
func (r *AssetRepository) GetServiceByID(ctx context.Context, id uint64) (*asset.AssetService, error) {
	var service asset.AssetService
	err := r.db.WithContext(ctx).First(&service, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("service not found")
		}
		return nil, err
	}
	return &service, nil
}

// ListServicesByHost 获取指定主机的服务列表
func (r *AssetRepository) ListServicesByHost(ctx context.Context, hostID uint64) ([]*asset.AssetService, error) {
	var services []*asset.AssetService
	err := r.db.WithContext(ctx).
		Where("host_id = ?", hostID).Order("port asc").
		Find(&services).Error
	return services, err
}

// ListServicesByJob 获取任务涉及主机的全部服务
func (r *AssetRepository) ListServicesByJob(ctx context.Context, jobID string) ([]*asset.AssetService, error) {
	var services []*asset.AssetService
	err := r.db.WithContext(ctx).
		Joins("JOIN scan_job_hosts ON scan_job_hosts.host_id = asset_services.host_id").
		Where("scan_job_hosts.job_id = ?", jobID).
		Order("asset_services.host_id asc, asset_services.port asc").
		Find(&services).Error
	return services, err
}

// -----------------------------------------------------------------------------
// AssetVuln (漏洞资产)
// -----------------------------------------------------------------------------

// UpsertVuln 漏洞去重写入
// 有CVE编号按 (host_id, service_id, cve) 去重，否则按 (host_id, service_id, name)
// 已存在时只刷新 last_seen_at 和证据，severity只升不降，status不动
// 返回是否新建
func (r *AssetRepository) UpsertVuln(ctx context.Context, vuln *asset.AssetVuln) (bool, error) {
	if vuln == nil {
		return false, errors.New("vuln is nil")
	}

	query := r.db.WithContext(ctx).
		Where("host_id = ? AND service_id = ?", vuln.HostID, vuln.ServiceID)
	if vuln.CVE != "" {
		query = query.Where("cve = ?", vuln.CVE)
	} else {
		query = query.Where("cve = '' AND name = ?", vuln.Name)
	}

	var existing asset.AssetVuln
	err := query.First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := r.db.WithContext(ctx).Create(vuln).Error; err != nil {
			logger.LogError(err, "", "", "asset_repo", "create_vuln", map[string]interface{}{
				"host_id": vuln.HostID,
				"cve":     vuln.CVE,
			})
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	updates := map[string]interface{}{
		"last_seen_at": vuln.LastSeenAt,
	}
	if vuln.Evidence != "" {
		updates["evidence"] = vuln.Evidence
	}
	// severity只升不降
	if scan.SeverityRank(vuln.Severity) > scan.SeverityRank(existing.Severity) {
		updates["severity"] = vuln.Severity
		updates["score"] = vuln.Score
	}
	if err := r.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
		return false, err
	}
	return false, nil
}

// UpsertCorrelatedVuln 关联器写入入口，语义同 UpsertVuln
func (r *AssetRepository) UpsertCorrelatedVuln(ctx context.Context, vuln *asset.AssetVuln) (bool, error) {
	return r.UpsertVuln(ctx, vuln)
}

// ListVulnsByHost 获取主机的漏洞列表
func (r *AssetRepository) ListVulnsByHost(ctx context.Context, hostID uint64) ([]*asset.AssetVuln, error) {
	var vulns []*asset.AssetVuln
	err := r.db.WithContext(ctx).
		Where("host_id = ?", hostID).Order("score desc, id asc").
		Find(&vulns).Error
	return vulns, err
}

// ListVulnsByJob 获取任务涉及主机的漏洞列表
func (r *AssetRepository) ListVulnsByJob(ctx context.Context, jobID string) ([]*asset.AssetVuln, error) {
	var vulns []*asset.AssetVuln
	err := r.db.WithContext(ctx).
		Joins("JOIN scan_job_hosts ON scan_job_hosts.host_id = asset_vulns.host_id").
		Where("scan_job_hosts.job_id = ?", jobID).
		Order("asset_vulns.score desc, asset_vulns.id asc").
		Find(&vulns).Error
	return vulns, err
}

// CountVulnsBySeverity 按severity统计任务涉及的漏洞数(计数器回写用)
func (r *AssetRepository) CountVulnsBySeverity(ctx context.Context, jobID string) (map[string]int, error) {
	type row struct {
		Severity string
		Count    int
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&asset.AssetVuln{}).
		Select("asset_vulns.severity as severity, count(*) as count").
		Joins("JOIN scan_job_hosts ON scan_job_hosts.host_id = asset_vulns.host_id").
		Where("scan_job_hosts.job_id = ?", jobID).
		Group("asset_vulns.severity").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Severity] = r.Count
	}
	return counts, nil
}

// -----------------------------------------------------------------------------
// ScanJobHost (任务-主机关联)
// -----------------------------------------------------------------------------

// LinkJobHost 记录任务与主机的关联，重复关联幂等
func (r *AssetRepository) LinkJobHost(ctx context.Context, jobID string, hostID uint64) error {
	var existing asset.ScanJobHost
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND host_id = ?", jobID, hostID).
		First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	link := &asset.ScanJobHost{JobID: jobID, HostID: hostID}
	return r.db.WithContext(ctx).Create(link).Error
}
