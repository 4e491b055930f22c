/**
 * 扫描任务仓库层
 * @author: sun977
 * @date: 2026.06.03
 * @description: 扫描任务数据访问，状态转换由带条件的UPDATE保证原子性
 * @func: 单纯数据访问，不应该包含业务逻辑
 */
package scan

import (
	"context"
	"errors"
	"time"

	"vulnmaster/internal/model/scan"
	"vulnmaster/internal/model/system"
	"vulnmaster/internal/pkg/logger"

	"gorm.io/gorm"
)

// ScanJobRepository 扫描任务仓库
type ScanJobRepository struct {
	db *gorm.DB
}

// NewScanJobRepository 创建 ScanJobRepository 实例
func NewScanJobRepository(db *gorm.DB) *ScanJobRepository {
	return &ScanJobRepository{db: db}
}

// Create 创建扫描任务(初始状态queued)
func (r *ScanJobRepository) Create(ctx context.Context, job *scan.ScanJob) error {
	if job == nil {
		return errors.New("job is nil")
	}
	err := r.db.WithContext(ctx).Create(job).Error
	if err != nil {
		logger.LogError(err, "", "", "scan_job_repo", "create", map[string]interface{}{
			"job_id": job.JobID,
		})
		return err
	}
	return nil
}

// GetByJobID 根据任务UUID获取任务
func (r *ScanJobRepository) GetByJobID(ctx context.Context, jobID string) (*scan.ScanJob, error) {
	var job scan.ScanJob
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, system.ErrJobNotFound
		}
		logger.LogError(err, "", "", "scan_job_repo", "get_by_job_id", map[string]interface{}{
			"job_id": jobID,
		})
		return nil, err
	}
	return &job, nil
}

// List 获取任务列表(分页 + 筛选)
func (r *ScanJobRepository) List(ctx context.Context, orgID uint64, req *scan.ListScanJobsRequest) ([]*scan.ScanJob, int64, error) {
	var jobs []*scan.ScanJob
	var total int64

	query := r.db.WithContext(ctx).Model(&scan.ScanJob{}).Where("org_id = ?", orgID)

	if req.Status != nil {
		query = query.Where("status = ?", *req.Status)
	}
	if req.Kind != nil {
		query = query.Where("kind = ?", *req.Kind)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (req.Page - 1) * req.PageSize
	err := query.Offset(offset).Limit(req.PageSize).Order("id desc").Find(&jobs).Error
	if err != nil {
		return nil, 0, err
	}

	return jobs, total, nil
}

// ClaimDispatch 认领任务派发(queued -> running)
// 带状态条件的UPDATE做CAS：多worker竞争时只有一个能认领成功，
// 其余拿到 ErrAlreadyDispatched
func (r *ScanJobRepository) ClaimDispatch(ctx context.Context, jobID string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&scan.ScanJob{}).
		Where("job_id = ? AND status = ?", jobID, scan.StatusQueued).
		Updates(map[string]interface{}{
			"status":     scan.StatusRunning,
			"started_at": now,
		})
	if result.Error != nil {
		logger.LogError(result.Error, "", "", "scan_job_repo", "claim_dispatch", map[string]interface{}{
			"job_id": jobID,
		})
		return result.Error
	}
	if result.RowsAffected == 0 {
		// 区分任务不存在和已被其他worker认领
		if _, err := r.GetByJobID(ctx, jobID); err != nil {
			return err
		}
		return system.ErrAlreadyDispatched
	}
	return nil
}

// UpdateProgress 更新进度(单调不减)
// 进度回退在SQL条件里直接拦掉，迟到的旧进度上报静默丢弃
func (r *ScanJobRepository) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	result := r.db.WithContext(ctx).Model(&scan.ScanJob{}).
		Where("job_id = ? AND status = ? AND progress < ?", jobID, scan.StatusRunning, progress).
		Update("progress", progress)
	if result.Error != nil {
		logger.LogError(result.Error, "", "", "scan_job_repo", "update_progress", map[string]interface{}{
			"job_id":   jobID,
			"progress": progress,
		})
		return result.Error
	}
	return nil
}

// MarkCompleted 标记任务完成(running -> completed)
func (r *ScanJobRepository) MarkCompleted(ctx context.Context, jobID string) error {
	now := time.Now()
	return r.markTerminal(ctx, jobID, []scan.ScanJobStatus{scan.StatusRunning}, map[string]interface{}{
		"status":       scan.StatusCompleted,
		"progress":     100,
		"completed_at": now,
	})
}

// MarkFailed 标记任务失败(running -> failed)，保留失败原因
func (r *ScanJobRepository) MarkFailed(ctx context.Context, jobID, reason string) error {
	now := time.Now()
	return r.markTerminal(ctx, jobID, []scan.ScanJobStatus{scan.StatusRunning}, map[string]interface{}{
		"status":       scan.StatusFailed,
		"fail_reason":  reason,
		"completed_at": now,
	})
}

// MarkCancelled 标记任务取消(queued/running -> cancelled)
func (r *ScanJobRepository) MarkCancelled(ctx context.Context, jobID string) error {
	now := time.Now()
	return r.markTerminal(ctx, jobID, []scan.ScanJobStatus{scan.StatusQueued, scan.StatusRunning}, map[string]interface{}{
		"status":       scan.StatusCancelled,
		"completed_at": now,
	})
}

// markTerminal 带前置状态条件的终态转换，条件不满足返回 ErrInvalidTransition
func (r *ScanJobRepository) markTerminal(ctx context.Context, jobID string, from []scan.ScanJobStatus, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&scan.ScanJob{}).
		Where("job_id = ? AND status IN ?", jobID, from).
		Updates(updates)
	if result.Error != nil {
		logger.LogError(result.Error, "", "", "scan_job_repo", "mark_terminal", map[string]interface{}{
			"job_id": jobID,
		})
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByJobID(ctx, jobID); err != nil {
			return err
		}
		return system.ErrInvalidTransition
	}
	return nil
}

// RequestCancel 置取消标志，worker在轮询间隙协作式响应
// 终态任务直接拒绝
func (r *ScanJobRepository) RequestCancel(ctx context.Context, jobID string) error {
	result := r.db.WithContext(ctx).Model(&scan.ScanJob{}).
		Where("job_id = ? AND status IN ?", jobID, []scan.ScanJobStatus{scan.StatusQueued, scan.StatusRunning}).
		Update("cancel_requested", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		job, err := r.GetByJobID(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return system.ErrJobTerminal
		}
	}
	return nil
}

// UpdateCounters 回写聚合计数器(由Finding摄入服务调用)
func (r *ScanJobRepository) UpdateCounters(ctx context.Context, jobID string, counters map[string]interface{}) error {
	if len(counters) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&scan.ScanJob{}).
		Where("job_id = ?", jobID).
		Updates(counters).Error
	if err != nil {
		logger.LogError(err, "", "", "scan_job_repo", "update_counters", map[string]interface{}{
			"job_id": jobID,
		})
	}
	return err
}

// ListQueued 获取待调度任务(按入队先后)，进程重启后恢复队列用
func (r *ScanJobRepository) ListQueued(ctx context.Context, limit int) ([]*scan.ScanJob, error) {
	var jobs []*scan.ScanJob
	err := r.db.WithContext(ctx).
		Where("status = ?", scan.StatusQueued).
		Order("id asc").Limit(limit).Find(&jobs).Error
	return jobs, err
}

// ListRunningBefore 获取在指定时间之前启动且仍在运行的任务(reaper用)
func (r *ScanJobRepository) ListRunningBefore(ctx context.Context, deadline time.Time) ([]*scan.ScanJob, error) {
	var jobs []*scan.ScanJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", scan.StatusRunning, deadline).
		Find(&jobs).Error
	return jobs, err
}
