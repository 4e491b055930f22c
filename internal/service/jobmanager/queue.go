package jobmanager

import (
	"context"
	"sync"

	"vulnmaster/internal/model/system"
)

// MemoryQueue 进程内调度队列
// 有界缓冲：入队满时立即拒绝而不是阻塞提交方
type MemoryQueue struct {
	ch     chan string
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue 创建调度队列
func NewMemoryQueue(size int) *MemoryQueue {
	if size < 1 {
		size = 1
	}
	return &MemoryQueue{ch: make(chan string, size)}
}

// Enqueue 任务入队，队列满返回 ErrQueueFull
func (q *MemoryQueue) Enqueue(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return system.ErrQueueFull
	}

	select {
	case q.ch <- jobID:
		return nil
	default:
		return system.ErrQueueFull
	}
}

// Dequeue 取出下一个任务，阻塞到有任务、队列关闭或ctx结束
// 队列已关闭且取空时返回 ok=false
func (q *MemoryQueue) Dequeue(ctx context.Context) (string, bool) {
	select {
	case jobID, ok := <-q.ch:
		return jobID, ok
	case <-ctx.Done():
		return "", false
	}
}

// Len 当前排队任务数
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Full 队列是否已满
func (q *MemoryQueue) Full() bool {
	return len(q.ch) == cap(q.ch)
}

// Close 关闭队列，worker取空后退出
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
