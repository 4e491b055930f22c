/**
 * 扫描任务管理器
 * @author: sun977
 * @date: 2026.06.16
 * @description: 任务生命周期编排：提交入队、worker派发、进度发布、协作式取消
 * @func: Submit、Get、List、Cancel、Logs、Start、Stop
 */
package jobmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vulnmaster/internal/adapter"
	"vulnmaster/internal/config"
	"vulnmaster/internal/model/scan"
	"vulnmaster/internal/model/system"
	"vulnmaster/internal/pkg/logger"
	"vulnmaster/internal/pkg/utils"
	assetsvc "vulnmaster/internal/service/asset"

	"github.com/sirupsen/logrus"
)

// JobStore 任务管理器依赖的任务存储接口
type JobStore interface {
	Create(ctx context.Context, job *scan.ScanJob) error
	GetByJobID(ctx context.Context, jobID string) (*scan.ScanJob, error)
	List(ctx context.Context, orgID uint64, req *scan.ListScanJobsRequest) ([]*scan.ScanJob, int64, error)
	ClaimDispatch(ctx context.Context, jobID string) error
	UpdateProgress(ctx context.Context, jobID string, progress int) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID, reason string) error
	MarkCancelled(ctx context.Context, jobID string) error
	RequestCancel(ctx context.Context, jobID string) error
	ListQueued(ctx context.Context, limit int) ([]*scan.ScanJob, error)
	ListRunningBefore(ctx context.Context, deadline time.Time) ([]*scan.ScanJob, error)
}

// JobLogStore 任务日志流存储接口(Redis或内存实现)
type JobLogStore interface {
	Append(ctx context.Context, jobID string, entry scan.JobLogEntry) error
	List(ctx context.Context, jobID string, offset, limit int) ([]scan.JobLogEntry, error)
}

// EngineRegistry 引擎适配器注册表接口
type EngineRegistry interface {
	Get(kind scan.ScanKind) (adapter.Engine, error)
}

// Ingestor Finding摄入接口
type Ingestor interface {
	IngestFindings(ctx context.Context, job *scan.ScanJob, findings []scan.Finding) (*assetsvc.IngestStats, error)
}

// ScanCorrelator 任务级CVE关联接口
type ScanCorrelator interface {
	CorrelateScan(ctx context.Context, jobID string) (*scan.BatchCorrelationResult, error)
}

// Manager 扫描任务管理器
type Manager struct {
	cfg        *config.ScanConfig
	jobs       JobStore
	joblog     JobLogStore
	registry   EngineRegistry
	ingest     Ingestor
	correlator ScanCorrelator
	queue      *MemoryQueue
	reaper     *Reaper

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewManager 创建任务管理器
// correlator可为nil(按需关联仍可通过handler触发)
func NewManager(cfg *config.ScanConfig, jobs JobStore, joblog JobLogStore,
	registry EngineRegistry, ingest Ingestor, correlator ScanCorrelator) *Manager {
	m := &Manager{
		cfg:        cfg,
		jobs:       jobs,
		joblog:     joblog,
		registry:   registry,
		ingest:     ingest,
		correlator: correlator,
		queue:      NewMemoryQueue(cfg.QueueSize),
	}
	m.reaper = NewReaper(cfg, jobs, joblog)
	return m
}

// Start 启动worker池和超时回收器，并把库里残留的queued任务重新入队
func (m *Manager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if err := m.requeuePending(runCtx); err != nil {
		logger.LogSystemEvent("jobmanager", "requeue_failed", err.Error(), logrus.WarnLevel, nil)
	}

	workers := m.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.runWorker(runCtx, i)
	}

	if err := m.reaper.Start(); err != nil {
		cancel()
		return fmt.Errorf("start reaper: %w", err)
	}

	logger.LogSystemEvent("jobmanager", "started",
		fmt.Sprintf("job manager started with %d workers", workers),
		logrus.InfoLevel, map[string]interface{}{
			"queue_size": m.cfg.QueueSize,
		})
	return nil
}

// Stop 停止调度：先关队列让worker排空，再等全部退出
func (m *Manager) Stop() {
	m.reaper.Stop()
	m.queue.Close()
	m.wg.Wait()
	if m.cancel != nil {
		m.cancel()
	}
	logger.LogSystemEvent("jobmanager", "stopped", "job manager stopped", logrus.InfoLevel, nil)
}

// Submit 提交扫描任务
// 校验失败返回 ValidationError，队列满返回 ErrQueueFull，任务不落库
func (m *Manager) Submit(ctx context.Context, orgID uint64, req *scan.SubmitScanRequest) (*scan.ScanJob, error) {
	if errs := req.Validate(m.cfg.AllowedCIDRs); len(errs) > 0 {
		return nil, errs[0]
	}
	if m.queue.Full() {
		return nil, system.ErrQueueFull
	}

	job := &scan.ScanJob{
		JobID:     utils.GenerateJobID(),
		Name:      req.Name,
		OrgID:     orgID,
		Kind:      req.Kind,
		Status:    scan.StatusQueued,
		PortRange: req.PortRange,
	}
	if job.PortRange == "" && !req.Kind.IsWebKind() {
		job.PortRange = m.cfg.DefaultPortRange
	}
	if err := job.SetTargets(req.Targets); err != nil {
		return nil, fmt.Errorf("serialize targets: %w", err)
	}
	if err := job.SetOptions(req.Options); err != nil {
		return nil, fmt.Errorf("serialize options: %w", err)
	}

	if err := m.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	if err := m.queue.Enqueue(job.JobID); err != nil {
		// 入队竞争失败时直接取消落库的任务，不留悬挂的queued
		_ = m.jobs.MarkCancelled(ctx, job.JobID)
		return nil, err
	}

	m.appendLog(ctx, job.JobID, scan.LogLevelInfo,
		fmt.Sprintf("job queued: kind=%s targets=%d", job.Kind, len(req.Targets)), "queued", 0)
	logger.LogScanOperation("submit", job.JobID, orgID, string(job.Kind), "success",
		"scan job submitted", map[string]interface{}{
			"targets": len(req.Targets),
		})
	return job, nil
}

// Get 查询任务详情
func (m *Manager) Get(ctx context.Context, jobID string) (*scan.ScanJob, error) {
	return m.jobs.GetByJobID(ctx, jobID)
}

// List 查询任务列表
func (m *Manager) List(ctx context.Context, orgID uint64, req *scan.ListScanJobsRequest) ([]*scan.ScanJob, int64, error) {
	req.Normalize()
	return m.jobs.List(ctx, orgID, req)
}

// Cancel 取消任务
// queued任务直接进终态；running任务置取消标志，由持有任务的worker协作式停止
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	job, err := m.jobs.GetByJobID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return system.ErrJobTerminal
	}

	if err := m.jobs.RequestCancel(ctx, jobID); err != nil {
		return err
	}

	if job.Status == scan.StatusQueued {
		if err := m.jobs.MarkCancelled(ctx, jobID); err != nil {
			return err
		}
		m.appendLog(ctx, jobID, scan.LogLevelWarning, "job cancelled while queued", "cancelled", 0)
		return nil
	}

	m.appendLog(ctx, jobID, scan.LogLevelWarning, "cancel requested, waiting for worker to stop", "", 0)
	return nil
}

// Logs 增量拉取任务日志，offset为客户端已读条数
func (m *Manager) Logs(ctx context.Context, jobID string, offset, limit int) ([]scan.JobLogEntry, error) {
	if _, err := m.jobs.GetByJobID(ctx, jobID); err != nil {
		return nil, err
	}
	return m.joblog.List(ctx, jobID, offset, limit)
}

// requeuePending 进程重启后把库里的queued任务重新入队
func (m *Manager) requeuePending(ctx context.Context) error {
	jobs, err := m.jobs.ListQueued(ctx, m.cfg.QueueSize)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := m.queue.Enqueue(job.JobID); err != nil {
			return err
		}
	}
	if len(jobs) > 0 {
		logger.LogSystemEvent("jobmanager", "requeued",
			fmt.Sprintf("requeued %d pending jobs", len(jobs)), logrus.InfoLevel, nil)
	}
	return nil
}

// appendLog 追加任务日志，日志流故障不影响主流程
func (m *Manager) appendLog(ctx context.Context, jobID, level, message, phase string, percent int) {
	if err := m.joblog.Append(ctx, jobID, scan.NewJobLogEntry(level, message, phase, percent)); err != nil {
		logger.LogError(err, "", "", "jobmanager", "append_log", map[string]interface{}{
			"job_id": jobID,
		})
	}
}
