/**
 * CVE关联器
 * @author: sun977
 * @date: 2026.05.18
 * @description: 把服务的平台标识与漏洞情报缓存比对，物化漏洞资产记录
 * @func: Correlate、CorrelateHost、CorrelateScan
 */
package correlator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vulnmaster/internal/config"
	"vulnmaster/internal/model/asset"
	"vulnmaster/internal/model/intel"
	"vulnmaster/internal/model/scan"
	"vulnmaster/internal/model/system"
	"vulnmaster/internal/pkg/logger"

	"github.com/sirupsen/logrus"
)

// IntelStore 漏洞情报缓存的只读查询接口
// 返回结果按评分降序、发布时间降序排列，保证关联结果可复现
type IntelStore interface {
	LookupByPlatform(ctx context.Context, product string, limit int) ([]*intel.CVERecord, error)
}

// AssetStore 关联器依赖的资产读写接口
type AssetStore interface {
	GetHostByID(ctx context.Context, hostID uint64) (*asset.AssetHost, error)
	GetServiceByID(ctx context.Context, serviceID uint64) (*asset.AssetService, error)
	ListServicesByHost(ctx context.Context, hostID uint64) ([]*asset.AssetService, error)
	ListServicesByJob(ctx context.Context, jobID string) ([]*asset.AssetService, error)
	UpsertCorrelatedVuln(ctx context.Context, vuln *asset.AssetVuln) (bool, error)
}

// Correlator CVE关联器
type Correlator struct {
	cfg    *config.CorrelatorConfig
	intel  IntelStore
	assets AssetStore
}

// NewCorrelator 创建CVE关联器
func NewCorrelator(cfg *config.CorrelatorConfig, intelStore IntelStore, assetStore AssetStore) *Correlator {
	return &Correlator{
		cfg:    cfg,
		intel:  intelStore,
		assets: assetStore,
	}
}

// Correlate 对单个服务执行关联
// 情报查询带独立超时：单个服务查询慢不应拖垮整个任务，失败降级为error状态
func (c *Correlator) Correlate(ctx context.Context, service *asset.AssetService) scan.CorrelationResult {
	result := scan.CorrelationResult{
		ServiceID: service.ID,
		HostID:    service.HostID,
		CPE:       ResolveCPE(service),
	}

	if result.CPE.Confidence == 0 {
		result.Status = scan.CorrelationNoCPE
		return result
	}

	host, err := c.assets.GetHostByID(ctx, service.HostID)
	if err != nil {
		return c.fail(result, fmt.Errorf("load host %d: %w", service.HostID, err))
	}

	product, version := cpePlatform(result.CPE.Value)
	if product == "" {
		result.Status = scan.CorrelationNoCPE
		return result
	}
	if version == "" {
		version = strings.TrimSpace(service.Version)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, c.cfg.LookupTimeout)
	defer cancel()

	records, err := c.intel.LookupByPlatform(lookupCtx, product, 0)
	if err != nil {
		return c.fail(result, fmt.Errorf("%w: %v", system.ErrIntelUnreachable, err))
	}

	matched := c.filterByVersion(records, version)
	if len(matched) == 0 {
		result.Status = scan.CorrelationNoCVEs
		return result
	}

	for _, record := range matched {
		result.CVEsConsidered = append(result.CVEsConsidered, record.CVEID)

		created, err := c.assets.UpsertCorrelatedVuln(ctx, c.buildVuln(host, service, record))
		if err != nil {
			return c.fail(result, fmt.Errorf("%w: upsert %s: %v", system.ErrCorrelation, record.CVEID, err))
		}
		if created {
			result.Created++
		} else {
			result.Refreshed++
		}
	}

	result.Status = scan.CorrelationSuccess
	logger.LogSystemEvent("correlator", "service_correlated",
		fmt.Sprintf("service %d matched %d CVEs (created=%d refreshed=%d)",
			service.ID, len(matched), result.Created, result.Refreshed),
		logrus.InfoLevel, map[string]interface{}{
			"host_id":    service.HostID,
			"cpe":        result.CPE.Value,
			"confidence": result.CPE.Confidence,
		})
	return result
}

// CorrelateHost 对主机的全部服务执行关联，单个服务出错不中断批处理
func (c *Correlator) CorrelateHost(ctx context.Context, hostID uint64) (*scan.BatchCorrelationResult, error) {
	services, err := c.assets.ListServicesByHost(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("list services of host %d: %w", hostID, err)
	}
	return c.correlateBatch(ctx, services), nil
}

// CorrelateScan 对任务涉及的全部服务执行关联
func (c *Correlator) CorrelateScan(ctx context.Context, jobID string) (*scan.BatchCorrelationResult, error) {
	services, err := c.assets.ListServicesByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list services of job %s: %w", jobID, err)
	}
	return c.correlateBatch(ctx, services), nil
}

// CorrelateService 按服务ID执行关联
func (c *Correlator) CorrelateService(ctx context.Context, serviceID uint64) (*scan.CorrelationResult, error) {
	service, err := c.assets.GetServiceByID(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("load service %d: %w", serviceID, err)
	}
	result := c.Correlate(ctx, service)
	return &result, nil
}

func (c *Correlator) correlateBatch(ctx context.Context, services []*asset.AssetService) *scan.BatchCorrelationResult {
	batch := &scan.BatchCorrelationResult{}
	for _, service := range services {
		batch.Add(c.Correlate(ctx, service))
	}
	return batch
}

// filterByVersion 按受影响版本区间过滤候选CVE并截断到上限
// 输入已按评分/发布时间排好序，这里保持顺序
func (c *Correlator) filterByVersion(records []*intel.CVERecord, version string) []*intel.CVERecord {
	maxCVEs := c.cfg.MaxCVEs
	var matched []*intel.CVERecord
	for _, record := range records {
		if !VersionInRange(version, record.VersionStart, record.VersionEnd) {
			continue
		}
		matched = append(matched, record)
		if maxCVEs > 0 && len(matched) >= maxCVEs {
			break
		}
	}
	return matched
}

// buildVuln 由CVE记录构造待upsert的漏洞资产
func (c *Correlator) buildVuln(host *asset.AssetHost, service *asset.AssetService, record *intel.CVERecord) *asset.AssetVuln {
	now := time.Now()
	name := summaryLine(record.Summary)
	if name == "" {
		name = record.CVEID
	}
	return &asset.AssetVuln{
		OrgID:       host.OrgID,
		HostID:      service.HostID,
		ServiceID:   service.ID,
		Name:        name,
		CVE:         record.CVEID,
		Severity:    record.Severity,
		Score:       record.Score,
		Source:      "correlator",
		Evidence:    record.Summary,
		Status:      "open",
		FirstSeenAt: &now,
		LastSeenAt:  &now,
	}
}

func (c *Correlator) fail(result scan.CorrelationResult, err error) scan.CorrelationResult {
	result.Status = scan.CorrelationError
	result.Error = err.Error()
	logger.LogSystemEvent("correlator", "service_correlate_failed", err.Error(),
		logrus.WarnLevel, map[string]interface{}{
			"service_id": result.ServiceID,
			"host_id":    result.HostID,
		})
	return result
}

// summaryLine 取摘要首行作为漏洞名称
func summaryLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
