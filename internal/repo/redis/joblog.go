/**
 * 任务日志流仓库层
 * @author: sun977
 * @date: 2026.06.06
 * @description: 任务进度/日志流的Redis存储(List结构，适合多实例部署)
 * @func: 单纯数据访问，不应该包含业务逻辑
 */
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vulnmaster/internal/model/scan"

	"github.com/go-redis/redis/v8"
)

// 终态任务的日志保留时长，过期由Redis自动清理
const jobLogTTL = 7 * 24 * time.Hour

// JobLogRepository Redis任务日志流存储库
type JobLogRepository struct {
	client     *redis.Client
	maxEntries int
}

// NewJobLogRepository 创建任务日志流存储库实例
func NewJobLogRepository(client *redis.Client, maxEntries int) *JobLogRepository {
	return &JobLogRepository{
		client:     client,
		maxEntries: maxEntries,
	}
}

// Append 追加一条日志，超出上限时裁掉最旧的
func (r *JobLogRepository) Append(ctx context.Context, jobID string, entry scan.JobLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal job log entry: %w", err)
	}

	key := r.getJobLogKey(jobID)
	pipe := r.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if r.maxEntries > 0 {
		pipe.LTrim(ctx, key, int64(-r.maxEntries), -1)
	}
	pipe.Expire(ctx, key, jobLogTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}
	return nil
}

// List 获取任务日志，offset为起始下标，limit<=0表示取到末尾
func (r *JobLogRepository) List(ctx context.Context, jobID string, offset, limit int) ([]scan.JobLogEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}

	values, err := r.client.LRange(ctx, r.getJobLogKey(jobID), int64(offset), stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list job log: %w", err)
	}

	entries := make([]scan.JobLogEntry, 0, len(values))
	for _, value := range values {
		var entry scan.JobLogEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			continue // 坏条目跳过
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Count 获取任务日志条数
func (r *JobLogRepository) Count(ctx context.Context, jobID string) (int, error) {
	n, err := r.client.LLen(ctx, r.getJobLogKey(jobID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count job log: %w", err)
	}
	return int(n), nil
}

// Clear 删除任务日志
func (r *JobLogRepository) Clear(ctx context.Context, jobID string) error {
	return r.client.Del(ctx, r.getJobLogKey(jobID)).Err()
}

// getJobLogKey 生成日志键[KEY:scan:joblog:{jobID}]
func (r *JobLogRepository) getJobLogKey(jobID string) string {
	return fmt.Sprintf("scan:joblog:%s", jobID)
}
