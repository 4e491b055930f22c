package scan

import "time"

// 任务日志级别
const (
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
	LogLevelSuccess = "success"
	LogLevelDebug   = "debug"
)

// JobLogEntry 任务进度/日志流条目
// 单任务内严格按时间顺序追加(单写者约束：只有持有任务认领的worker可写)
type JobLogEntry struct {
	Timestamp time.Time `json:"timestamp"` // 事件时间
	Level     string    `json:"level"`     // 级别(info/warning/error/success/debug)
	Message   string    `json:"message"`   // 可读信息
	Phase     string    `json:"phase"`     // 当前阶段，可选
	Percent   int       `json:"percent"`   // 进度百分比，可选
}

// NewJobLogEntry 创建任务日志条目
func NewJobLogEntry(level, message, phase string, percent int) JobLogEntry {
	return JobLogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		Phase:     phase,
		Percent:   percent,
	}
}
