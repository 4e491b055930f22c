/**
 * 资产摄入服务
 * @author: sun977
 * @date: 2026.06.12
 * @description: 把Normalizer产出的Finding落到资产表，按业务主键互斥保证并发upsert安全
 * @func: IngestFindings、SyncJobCounters
 */
package asset

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vulnmaster/internal/model/asset"
	"vulnmaster/internal/model/scan"
	"vulnmaster/internal/model/system"
	"vulnmaster/internal/pkg/logger"
)

// AssetStore 摄入服务依赖的资产写接口
type AssetStore interface {
	UpsertHost(ctx context.Context, host *asset.AssetHost) (*asset.AssetHost, error)
	UpsertService(ctx context.Context, service *asset.AssetService) (*asset.AssetService, error)
	UpsertVuln(ctx context.Context, vuln *asset.AssetVuln) (bool, error)
	LinkJobHost(ctx context.Context, jobID string, hostID uint64) error
	ListHostsByJob(ctx context.Context, jobID string) ([]*asset.AssetHost, error)
	ListServicesByJob(ctx context.Context, jobID string) ([]*asset.AssetService, error)
	CountVulnsBySeverity(ctx context.Context, jobID string) (map[string]int, error)
}

// JobStore 摄入服务依赖的任务写接口
type JobStore interface {
	UpdateCounters(ctx context.Context, jobID string, counters map[string]interface{}) error
}

// IngestStats 单批摄入统计
type IngestStats struct {
	Hosts        int `json:"hosts"`         // 处理主机数
	Responsive   int `json:"responsive"`    // 存活主机数
	Services     int `json:"services"`      // 处理服务数
	VulnsCreated int `json:"vulns_created"` // 新建漏洞数
	VulnsSeen    int `json:"vulns_seen"`    // 检出漏洞总数(含重复)
}

// IngestService 资产摄入服务
type IngestService struct {
	assets AssetStore
	jobs   JobStore

	// 按主机键互斥，多worker并发摄入同一主机时串行化upsert
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIngestService 创建资产摄入服务
func NewIngestService(assetStore AssetStore, jobStore JobStore) *IngestService {
	return &IngestService{
		assets: assetStore,
		jobs:   jobStore,
		locks:  make(map[string]*sync.Mutex),
	}
}

// IngestFindings 把一批Finding落库并回写任务计数器
// 终态任务拒绝摄入；同一主机/服务/漏洞重复检出走upsert不产生副本
func (s *IngestService) IngestFindings(ctx context.Context, job *scan.ScanJob, findings []scan.Finding) (*IngestStats, error) {
	if job.Status.IsTerminal() {
		return nil, system.ErrJobTerminal
	}

	stats := &IngestStats{}
	for _, finding := range findings {
		if err := s.ingestFinding(ctx, job, finding, stats); err != nil {
			// 单个主机落库失败降级记录，不中断整批
			logger.LogError(err, "", "", "asset_ingest", "ingest_finding", map[string]interface{}{
				"job_id":  job.JobID,
				"address": finding.Address,
			})
		}
	}

	if err := s.SyncJobCounters(ctx, job.JobID); err != nil {
		return stats, err
	}
	return stats, nil
}

// ingestFinding 落库单个主机的观测结果
func (s *IngestService) ingestFinding(ctx context.Context, job *scan.ScanJob, finding scan.Finding, stats *IngestStats) error {
	unlock := s.lockHost(job.OrgID, finding.Address)
	defer unlock()

	now := time.Now()
	host, err := s.assets.UpsertHost(ctx, &asset.AssetHost{
		OrgID:      job.OrgID,
		IP:         finding.Address,
		Hostname:   finding.Hostname,
		OS:         finding.OS,
		Responsive: true,
		LastSeenAt: &now,
	})
	if err != nil {
		return fmt.Errorf("upsert host %s: %w", finding.Address, err)
	}
	stats.Hosts++
	stats.Responsive++

	if err := s.assets.LinkJobHost(ctx, job.JobID, host.ID); err != nil {
		return fmt.Errorf("link job host: %w", err)
	}

	// (port, proto) -> 服务ID，漏洞挂接用
	serviceIDs := make(map[string]uint64)
	for _, fs := range finding.Services {
		service, err := s.assets.UpsertService(ctx, &asset.AssetService{
			HostID:     host.ID,
			Port:       fs.Port,
			Proto:      fs.Proto,
			State:      fs.State,
			Name:       fs.Name,
			Product:    fs.Product,
			Version:    fs.Version,
			CPE:        fs.CPE,
			LastSeenAt: &now,
		})
		if err != nil {
			logger.LogError(err, "", "", "asset_ingest", "upsert_service", map[string]interface{}{
				"host_id": host.ID,
				"port":    fs.Port,
			})
			continue
		}
		stats.Services++
		serviceIDs[serviceKey(fs.Port, fs.Proto)] = service.ID
	}

	for _, fv := range finding.Vulns {
		// 端口对不上已知服务时记为主机级漏洞
		serviceID := serviceIDs[serviceKey(fv.Port, fv.Proto)]

		// 引擎断言的每个CVE各落一条记录，无CVE时按名称键落一条
		cves := fv.CVEIDs
		if len(cves) == 0 {
			cves = []string{""}
		}
		for _, cve := range cves {
			created, err := s.assets.UpsertVuln(ctx, &asset.AssetVuln{
				OrgID:       job.OrgID,
				HostID:      host.ID,
				ServiceID:   serviceID,
				Name:        fv.Name,
				CVE:         cve,
				Severity:    fv.Severity,
				Score:       fv.Score,
				Source:      string(job.Kind),
				Evidence:    fv.Evidence,
				Status:      "open",
				FirstSeenAt: &now,
				LastSeenAt:  &now,
			})
			if err != nil {
				logger.LogError(err, "", "", "asset_ingest", "upsert_vuln", map[string]interface{}{
					"host_id": host.ID,
					"name":    fv.Name,
					"cve":     cve,
				})
				continue
			}
			stats.VulnsSeen++
			if created {
				stats.VulnsCreated++
			}
		}
	}

	return nil
}

// SyncJobCounters 按任务关联全量重算聚合计数器并回写
// 全量重算保证幂等：流式摄入时同一主机出现在多个增量块里也不会重复计数
func (s *IngestService) SyncJobCounters(ctx context.Context, jobID string) error {
	hosts, err := s.assets.ListHostsByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list job hosts: %w", err)
	}
	responsive := 0
	for _, host := range hosts {
		if host.Responsive {
			responsive++
		}
	}

	services, err := s.assets.ListServicesByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list job services: %w", err)
	}

	severityCounts, err := s.assets.CountVulnsBySeverity(ctx, jobID)
	if err != nil {
		return fmt.Errorf("count vulns: %w", err)
	}

	return s.jobs.UpdateCounters(ctx, jobID, map[string]interface{}{
		"hosts_scanned":    len(hosts),
		"hosts_responsive": responsive,
		"services_found":   len(services),
		"vuln_critical":    severityCounts[scan.SeverityCritical],
		"vuln_high":        severityCounts[scan.SeverityHigh],
		"vuln_medium":      severityCounts[scan.SeverityMedium],
		"vuln_low":         severityCounts[scan.SeverityLow],
		"vuln_info":        severityCounts[scan.SeverityInfo],
	})
}

// lockHost 获取主机键互斥锁，返回解锁函数
func (s *IngestService) lockHost(orgID uint64, ip string) func() {
	key := fmt.Sprintf("%d/%s", orgID, ip)

	s.mu.Lock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func serviceKey(port int, proto string) string {
	if proto == "" {
		proto = "tcp"
	}
	return fmt.Sprintf("%d/%s", port, proto)
}
