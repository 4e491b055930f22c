/**
 * 扫描任务worker
 * @author: sun977
 * @date: 2026.06.17
 * @description: 单worker执行单任务到终态：认领、启动引擎、轮询、摄入、关联
 * @func: runWorker、processJob
 */
package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vulnmaster/internal/adapter"
	"vulnmaster/internal/model/scan"
	"vulnmaster/internal/model/system"
	"vulnmaster/internal/normalizer"
	"vulnmaster/internal/pkg/logger"

	"github.com/sirupsen/logrus"
)

// 连续轮询失败超过该次数按任务失败处理
const maxConsecutivePollErrors = 3

// runWorker worker主循环，队列关闭且排空后退出
func (m *Manager) runWorker(ctx context.Context, workerID int) {
	defer m.wg.Done()

	for {
		jobID, ok := m.queue.Dequeue(ctx)
		if !ok {
			return
		}
		m.processJob(ctx, workerID, jobID)
	}
}

// processJob 把单个任务跑到终态
// 所有错误都在这里吸收成任务状态，绝不向上抛
func (m *Manager) processJob(ctx context.Context, workerID int, jobID string) {
	job, err := m.jobs.GetByJobID(ctx, jobID)
	if err != nil {
		logger.LogError(err, "", "", "jobmanager", "load_job", map[string]interface{}{
			"job_id": jobID,
		})
		return
	}

	// 排队期间被取消的任务直接跳过
	if job.Status != scan.StatusQueued {
		return
	}

	if err := m.jobs.ClaimDispatch(ctx, jobID); err != nil {
		if !errors.Is(err, system.ErrAlreadyDispatched) {
			logger.LogError(err, "", "", "jobmanager", "claim_dispatch", map[string]interface{}{
				"job_id": jobID,
			})
		}
		return
	}
	job.Status = scan.StatusRunning

	logger.LogScanOperation("dispatch", jobID, job.OrgID, string(job.Kind), "success",
		"job claimed by worker", map[string]interface{}{
			"worker": workerID,
		})

	engine, err := m.registry.Get(job.Kind)
	if err != nil {
		m.failJob(ctx, jobID, fmt.Sprintf("no engine for kind %s: %v", job.Kind, err))
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, m.cfg.JobTimeout)
	defer cancel()

	handle, err := m.startEngine(jobCtx, job, engine)
	if err != nil {
		m.failJob(ctx, jobID, fmt.Sprintf("engine start failed: %v", err))
		return
	}

	m.appendLog(ctx, jobID, scan.LogLevelInfo,
		fmt.Sprintf("engine %s started", engine.Name()), "started", 0)

	if done := m.pollUntilDone(ctx, jobCtx, job, engine, handle); !done {
		return
	}

	m.collectAndFinish(ctx, jobCtx, job, engine, handle)
}

// startEngine 启动引擎，引擎不可达时按配置做有限次退避重试
func (m *Manager) startEngine(ctx context.Context, job *scan.ScanJob, engine adapter.Engine) (*adapter.Handle, error) {
	spec := adapter.TargetSpec{
		Targets:   job.GetTargets(),
		PortRange: job.PortRange,
		Options:   job.GetOptions(),
	}

	var lastErr error
	for attempt := 0; attempt <= m.cfg.DispatchRetries; attempt++ {
		handle, err := engine.Start(ctx, spec)
		if err == nil {
			return handle, nil
		}
		lastErr = err

		if !errors.Is(err, system.ErrEngineUnavailable) {
			return nil, err
		}
		if attempt == m.cfg.DispatchRetries {
			break
		}

		backoff := m.cfg.DispatchBackoff * time.Duration(attempt+1)
		m.appendLog(ctx, job.JobID, scan.LogLevelWarning,
			fmt.Sprintf("engine unavailable, retrying in %s (attempt %d/%d)",
				backoff, attempt+1, m.cfg.DispatchRetries), "", 0)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: retries exhausted: %v", system.ErrEngineUnavailable, lastErr)
}

// pollUntilDone 轮询引擎直到完成
// 返回false表示任务已在轮询阶段进入终态(取消/超时/失败)
func (m *Manager) pollUntilDone(ctx, jobCtx context.Context, job *scan.ScanJob,
	engine adapter.Engine, handle *adapter.Handle) bool {

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	pollErrors := 0
	lastPercent := -1
	lastPhase := ""

	for {
		select {
		case <-jobCtx.Done():
			// 超时(或进程停机)：杀掉引擎，已摄入的部分结果保留
			_ = engine.Cancel(context.Background(), handle)
			if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
				m.failJob(ctx, job.JobID, "job timeout exceeded")
			}
			return false

		case <-ticker.C:
		}

		// 协作式取消：轮询间隙检查取消标志
		if fresh, err := m.jobs.GetByJobID(ctx, job.JobID); err == nil && fresh.CancelRequested {
			_ = engine.Cancel(context.Background(), handle)
			if err := m.jobs.MarkCancelled(ctx, job.JobID); err == nil {
				m.appendLog(ctx, job.JobID, scan.LogLevelWarning, "job cancelled", "cancelled", fresh.Progress)
				logger.LogScanOperation("cancel", job.JobID, job.OrgID, string(job.Kind),
					"success", "job cancelled by operator", nil)
			}
			return false
		}

		status, err := engine.Poll(jobCtx, handle)
		if err != nil {
			pollErrors++
			if pollErrors > maxConsecutivePollErrors {
				_ = engine.Cancel(context.Background(), handle)
				m.failJob(ctx, job.JobID, fmt.Sprintf("engine poll failed: %v", err))
				return false
			}
			continue
		}
		pollErrors = 0

		_ = m.jobs.UpdateProgress(ctx, job.JobID, status.Percent)
		if status.Percent != lastPercent || status.Phase != lastPhase {
			m.appendLog(ctx, job.JobID, scan.LogLevelInfo,
				fmt.Sprintf("progress %d%%", status.Percent), status.Phase, status.Percent)
			lastPercent, lastPhase = status.Percent, status.Phase
		}

		// 流式引擎的增量输出边跑边摄入
		if len(status.RawChunk) > 0 {
			m.ingestRaw(ctx, job, status.RawChunk, true)
		}

		if status.Done {
			return true
		}
	}
}

// collectAndFinish 收集最终输出、规范化、摄入、关联并收尾
func (m *Manager) collectAndFinish(ctx, jobCtx context.Context, job *scan.ScanJob,
	engine adapter.Engine, handle *adapter.Handle) {

	raw, err := engine.Collect(jobCtx, handle)

	// 取消请求可能落在最后一次轮询检查之后：Collect返回的输出不再摄入，
	// 轮询阶段已摄入的部分结果保留
	if fresh, ferr := m.jobs.GetByJobID(ctx, job.JobID); ferr == nil && fresh.CancelRequested {
		_ = engine.Cancel(context.Background(), handle)
		if merr := m.jobs.MarkCancelled(ctx, job.JobID); merr == nil {
			m.appendLog(ctx, job.JobID, scan.LogLevelWarning,
				"job cancelled, collected output discarded", "cancelled", fresh.Progress)
			logger.LogScanOperation("cancel", job.JobID, job.OrgID, string(job.Kind),
				"success", "job cancelled by operator", nil)
		}
		return
	}

	if err != nil {
		if errors.Is(err, system.ErrCollectTimeout) {
			// 超时拿到的部分输出照常摄入，任务仍按失败处理
			m.ingestRaw(ctx, job, raw, false)
			m.appendLog(ctx, job.JobID, scan.LogLevelError,
				"collect timed out, partial results kept", "", 0)
			m.failJob(ctx, job.JobID, "collect timeout exceeded")
			return
		}
		m.failJob(ctx, job.JobID, fmt.Sprintf("collect failed: %v", err))
		return
	}

	m.ingestRaw(ctx, job, raw, false)

	// 识别出服务的扫描自动跑一轮CVE关联
	if m.correlator != nil && kindProducesServices(job.Kind) {
		if batch, err := m.correlator.CorrelateScan(ctx, job.JobID); err == nil && batch.Total > 0 {
			m.appendLog(ctx, job.JobID, scan.LogLevelInfo,
				fmt.Sprintf("correlation finished: %d services, %d vulns created", batch.Total, batch.Created),
				"correlating", 100)
		}
	}

	if err := m.jobs.MarkCompleted(ctx, job.JobID); err != nil {
		logger.LogError(err, "", "", "jobmanager", "mark_completed", map[string]interface{}{
			"job_id": job.JobID,
		})
		return
	}
	m.appendLog(ctx, job.JobID, scan.LogLevelSuccess, "job completed", "completed", 100)
	logger.LogScanOperation("complete", job.JobID, job.OrgID, string(job.Kind), "success",
		"job completed", nil)
}

// ingestRaw 规范化引擎输出并落库
// chunk=true时走增量解析；截断尾部记告警但不失败任务
func (m *Manager) ingestRaw(ctx context.Context, job *scan.ScanJob, raw []byte, chunk bool) {
	var findings []scan.Finding
	var err error
	if chunk {
		findings, err = normalizer.NormalizeChunk(job.Kind, raw)
	} else {
		findings, err = normalizer.Normalize(job.Kind, raw)
	}
	if err != nil {
		if errors.Is(err, system.ErrParseTruncated) {
			m.appendLog(ctx, job.JobID, scan.LogLevelWarning,
				"engine output truncated, kept parsed prefix", "", 0)
		} else {
			logger.LogError(err, "", "", "jobmanager", "normalize", map[string]interface{}{
				"job_id": job.JobID,
				"kind":   job.Kind,
			})
			return
		}
	}
	if len(findings) == 0 {
		return
	}

	stats, err := m.ingest.IngestFindings(ctx, job, findings)
	if err != nil {
		logger.LogError(err, "", "", "jobmanager", "ingest_findings", map[string]interface{}{
			"job_id": job.JobID,
		})
		return
	}
	m.appendLog(ctx, job.JobID, scan.LogLevelInfo,
		fmt.Sprintf("ingested %d hosts, %d services, %d new vulns",
			stats.Hosts, stats.Services, stats.VulnsCreated), "", 0)
}

// failJob 把任务转入failed终态并记录原因
func (m *Manager) failJob(ctx context.Context, jobID, reason string) {
	if err := m.jobs.MarkFailed(ctx, jobID, reason); err != nil {
		logger.LogError(err, "", "", "jobmanager", "mark_failed", map[string]interface{}{
			"job_id": jobID,
			"reason": reason,
		})
		return
	}
	m.appendLog(ctx, jobID, scan.LogLevelError, reason, "failed", 0)
	logger.LogSystemEvent("jobmanager", "job_failed", reason, logrus.WarnLevel, map[string]interface{}{
		"job_id": jobID,
	})
}

// kindProducesServices 识别服务信息的扫描类型才值得跑关联
func kindProducesServices(kind scan.ScanKind) bool {
	return kind == scan.KindServiceScan || kind == scan.KindFull
}
