/**
 * 模型:错误定义
 * @author: sun977
 * @date: 2026.03.14
 * @description: 扫描编排核心的错误常量和错误类型定义
 * @func: 错误分级常量和ValidationError结构体
 */
package system

import "errors"

// 任务状态机错误
// 这类错误属于编程/竞态防护错误，记录日志但绝不允许破坏任务状态
var (
	ErrInvalidTransition = errors.New("任务状态转换非法")
	ErrAlreadyDispatched = errors.New("任务已被其他worker认领")
	ErrJobNotFound       = errors.New("扫描任务不存在")
	ErrJobTerminal       = errors.New("任务已进入终态，拒绝写入")
)

// 引擎/适配器错误
var (
	ErrEngineUnavailable = errors.New("扫描引擎不可达")
	ErrCollectTimeout    = errors.New("等待引擎输出超时")
	ErrEngineCancelled   = errors.New("扫描引擎已被取消")
)

// 解析与关联错误
// 这类错误在最低层被吸收：单条解析失败跳过，单个服务关联失败聚合上报
var (
	ErrParseTruncated   = errors.New("引擎输出被截断，仅保留可解析前缀")
	ErrNoCPE            = errors.New("服务无可用CPE标识")
	ErrCorrelation      = errors.New("CVE关联失败")
	ErrIntelUnreachable = errors.New("漏洞情报缓存不可达")
)

// 队列错误
var (
	ErrQueueFull = errors.New("调度队列已满")
)

// ValidationError 验证错误结构体
// 提交参数校验失败时返回给调用方，不重试
type ValidationError struct {
	Field   string `json:"field"`   // 字段名
	Message string `json:"message"` // 错误消息
}

// NewValidationError 创建验证错误
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// Error 实现error接口
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
