/**
 * 任务日志流仓库层(内存实现)
 * @author: sun977
 * @date: 2026.06.06
 * @description: 单实例部署和测试用的内存日志流，接口与Redis实现一致
 * @func: 单纯数据访问，不应该包含业务逻辑
 */
package memory

import (
	"context"
	"sync"

	"vulnmaster/internal/model/scan"
)

// JobLogRepository 内存任务日志流存储库
type JobLogRepository struct {
	mu         sync.RWMutex
	logs       map[string][]scan.JobLogEntry
	maxEntries int
}

// NewJobLogRepository 创建内存任务日志流存储库实例
func NewJobLogRepository(maxEntries int) *JobLogRepository {
	return &JobLogRepository{
		logs:       make(map[string][]scan.JobLogEntry),
		maxEntries: maxEntries,
	}
}

// Append 追加一条日志，超出上限时裁掉最旧的
func (r *JobLogRepository) Append(ctx context.Context, jobID string, entry scan.JobLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := append(r.logs[jobID], entry)
	if r.maxEntries > 0 && len(entries) > r.maxEntries {
		entries = entries[len(entries)-r.maxEntries:]
	}
	r.logs[jobID] = entries
	return nil
}

// List 获取任务日志，offset为起始下标，limit<=0表示取到末尾
func (r *JobLogRepository) List(ctx context.Context, jobID string, offset, limit int) ([]scan.JobLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.logs[jobID]
	if offset >= len(entries) {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}

	end := len(entries)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]scan.JobLogEntry, end-offset)
	copy(out, entries[offset:end])
	return out, nil
}

// Count 获取任务日志条数
func (r *JobLogRepository) Count(ctx context.Context, jobID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.logs[jobID]), nil
}

// Clear 删除任务日志
func (r *JobLogRepository) Clear(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.logs, jobID)
	return nil
}
