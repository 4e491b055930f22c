/**
 * 扫描引擎适配器
 * @author: sun977
 * @date: 2026.04.15
 * @description: 四种扫描引擎共用的能力契约，调度核心只依赖该接口，不感知引擎身份
 * @func: Engine接口、Handle、PollStatus、TargetSpec
 */
package adapter

import (
	"context"
	"time"
)

// defaultCollectTimeout 引擎未配置收集超时时的兜底值
const defaultCollectTimeout = 30 * time.Minute

// TargetSpec 一次扫描执行的目标描述
// 不同引擎只解释自己关心的字段
type TargetSpec struct {
	Targets   []string               // 目标列表(IP/CIDR/主机名/URL)
	PortRange string                 // 端口范围，网络类引擎使用
	Options   map[string]interface{} // 引擎特定选项(强度、爬取深度、认证上下文等)
}

// Handle 一次扫描执行的句柄
// 由Start返回，后续Poll/Collect/Cancel都凭句柄操作
// 引擎实例按任务创建，会话状态由实例自身持有，不跨任务共享
type Handle struct {
	ID     string // 执行标识(进程型引擎为内部UUID，远程引擎为服务端任务ID)
	Engine string // 引擎名称，用于日志
}

// PollStatus 非阻塞状态查询结果
type PollStatus struct {
	Phase    string // 当前阶段描述
	Percent  int    // 进度百分比(0-100)
	RawChunk []byte // 增量输出，流式引擎携带，否则为nil
	Done     bool   // 引擎是否已结束
}

// Engine 扫描引擎能力契约
// Start不允许长时间阻塞；Poll必须非阻塞；Collect阻塞但受配置超时约束；Cancel尽力而为
type Engine interface {
	// Name 引擎名称
	Name() string

	// Start 启动扫描，返回句柄
	// 底层工具/服务不可达时返回 system.ErrEngineUnavailable
	Start(ctx context.Context, spec TargetSpec) (*Handle, error)

	// Poll 非阻塞查询执行状态
	Poll(ctx context.Context, h *Handle) (*PollStatus, error)

	// Collect 阻塞等待引擎结束并返回完整原生输出
	// 超出配置超时返回 system.ErrCollectTimeout
	Collect(ctx context.Context, h *Handle) ([]byte, error)

	// Cancel 尽力停止扫描
	// 无法中断的引擎完成当前工作单元后自然结束
	Cancel(ctx context.Context, h *Handle) error
}
