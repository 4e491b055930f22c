package jobmanager

import (
	"context"
	"fmt"
	"time"

	"vulnmaster/internal/config"
	"vulnmaster/internal/model/scan"
	"vulnmaster/internal/pkg/logger"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Reaper 超时任务回收器
// worker在进程内已经强制执行任务超时，这里兜底进程重启后遗留的running任务
type Reaper struct {
	cfg    *config.ScanConfig
	jobs   JobStore
	joblog JobLogStore
	cron   *cron.Cron
}

// NewReaper 创建超时任务回收器
func NewReaper(cfg *config.ScanConfig, jobs JobStore, joblog JobLogStore) *Reaper {
	return &Reaper{
		cfg:    cfg,
		jobs:   jobs,
		joblog: joblog,
		cron:   cron.New(),
	}
}

// Start 按配置的调度表达式启动定时回收
func (r *Reaper) Start() error {
	_, err := r.cron.AddFunc(r.cfg.ReaperCron, r.reapOnce)
	if err != nil {
		return fmt.Errorf("invalid reaper cron spec %q: %w", r.cfg.ReaperCron, err)
	}
	r.cron.Start()
	return nil
}

// Stop 停止定时回收，等在途的一轮跑完
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}

// reapOnce 把超过任务时限仍在running的任务转入failed
func (r *Reaper) reapOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deadline := time.Now().Add(-r.cfg.JobTimeout)
	jobs, err := r.jobs.ListRunningBefore(ctx, deadline)
	if err != nil {
		logger.LogError(err, "", "", "reaper", "list_running", nil)
		return
	}

	for _, job := range jobs {
		reason := fmt.Sprintf("job exceeded timeout %s, reaped", r.cfg.JobTimeout)
		if err := r.jobs.MarkFailed(ctx, job.JobID, reason); err != nil {
			// 竞态：worker可能刚好把任务收尾了
			continue
		}
		_ = r.joblog.Append(ctx, job.JobID, scan.NewJobLogEntry(scan.LogLevelError, reason, "failed", job.Progress))
		logger.LogSystemEvent("reaper", "job_reaped", reason, logrus.WarnLevel, map[string]interface{}{
			"job_id": job.JobID,
		})
	}
}
