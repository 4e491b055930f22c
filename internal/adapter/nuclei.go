/**
 * 模板漏洞引擎适配器(nuclei子进程)
 * @author: sun977
 * @date: 2026.04.16
 * @description: 以子进程方式驱动nuclei，JSONL结果逐行流式产出，Poll携带增量输出
 * @func: NucleiEngine
 */
package adapter

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"vulnmaster/internal/config"
	"vulnmaster/internal/model/system"
	"vulnmaster/internal/pkg/utils"
)

// NucleiEngine 模板漏洞引擎
// 每个任务一个实例；JSONL输出在stdout逐行产出，Poll以增量块形式交给规范化器
type NucleiEngine struct {
	cfg *config.NucleiEngineConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	full    bytes.Buffer // 完整输出，Collect返回
	pending bytes.Buffer // 自上次Poll以来的新行
	matches int          // 已产出结果行数
	phase   string
	percent int
	done    chan struct{}
	waitErr error
}

// NewNucleiEngine 创建模板漏洞引擎实例
func NewNucleiEngine(cfg *config.NucleiEngineConfig) *NucleiEngine {
	return &NucleiEngine{
		cfg:   cfg,
		phase: "pending",
		done:  make(chan struct{}),
	}
}

// Name 引擎名称
func (e *NucleiEngine) Name() string {
	return "nuclei"
}

// Start 启动nuclei子进程
func (e *NucleiEngine) Start(ctx context.Context, spec TargetSpec) (*Handle, error) {
	binary := e.cfg.BinaryPath
	if binary == "" {
		binary = "nuclei"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("%w: nuclei binary not found at %s", system.ErrEngineUnavailable, binary)
	}

	args := []string{"-jsonl", "-silent", "-no-color"}

	if e.cfg.TemplatesDir != "" {
		args = append(args, "-t", e.cfg.TemplatesDir)
	}
	if e.cfg.RateLimit > 0 {
		args = append(args, "-rate-limit", strconv.Itoa(e.cfg.RateLimit))
	}
	// 模板标签/严重程度过滤从选项透传
	if tags, ok := spec.Options["template_tags"].(string); ok && tags != "" {
		args = append(args, "-tags", tags)
	}
	if severity, ok := spec.Options["severity"].(string); ok && severity != "" {
		args = append(args, "-severity", severity)
	}
	for _, target := range spec.Targets {
		args = append(args, "-u", target)
	}

	cmdCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(cmdCtx, binary, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", system.ErrEngineUnavailable, err)
	}

	e.mu.Lock()
	e.cancel = cancel
	e.phase = "template_scan"
	e.percent = 5
	e.mu.Unlock()

	var readers sync.WaitGroup
	readers.Add(1)

	// 逐行读取JSONL结果
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stdoutPipe)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			e.mu.Lock()
			e.full.Write(line)
			e.full.WriteByte('\n')
			e.pending.Write(line)
			e.pending.WriteByte('\n')
			e.matches++
			// nuclei不输出总进度，按产出插值推进，收尾前封顶90
			if e.percent < 90 {
				e.percent += 5
			}
			e.mu.Unlock()
		}
	}()

	// Wait会关闭stdout管道，必须等读协程先排尽
	go func() {
		readers.Wait()
		err := cmd.Wait()
		e.mu.Lock()
		e.waitErr = err
		e.percent = 100
		e.phase = "finished"
		e.mu.Unlock()
		close(e.done)
	}()

	return &Handle{ID: utils.GenerateRequestID(), Engine: e.Name()}, nil
}

// Poll 非阻塞查询状态，携带自上次调用以来的新结果行
func (e *NucleiEngine) Poll(ctx context.Context, h *Handle) (*PollStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	done := false
	select {
	case <-e.done:
		done = true
	default:
	}

	var chunk []byte
	if e.pending.Len() > 0 {
		chunk = append([]byte(nil), e.pending.Bytes()...)
		e.pending.Reset()
	}

	return &PollStatus{
		Phase:    e.phase,
		Percent:  e.percent,
		RawChunk: chunk,
		Done:     done,
	}, nil
}

// Collect 等待进程结束并返回完整JSONL输出
func (e *NucleiEngine) Collect(ctx context.Context, h *Handle) ([]byte, error) {
	timeout := e.cfg.CollectTimeout
	if timeout <= 0 {
		timeout = defaultCollectTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-e.done:
	case <-waitCtx.Done():
		e.stop()
		e.mu.Lock()
		output := append([]byte(nil), e.full.Bytes()...)
		e.mu.Unlock()
		return output, fmt.Errorf("%w: nuclei did not finish within %s", system.ErrCollectTimeout, timeout)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	output := append([]byte(nil), e.full.Bytes()...)
	// nuclei无结果时可能非零退出，产出为空且报错才视为失败
	if e.waitErr != nil && len(output) == 0 && e.matches == 0 {
		return nil, fmt.Errorf("nuclei exited with error: %w", e.waitErr)
	}
	return output, nil
}

// Cancel 终止nuclei进程
func (e *NucleiEngine) Cancel(ctx context.Context, h *Handle) error {
	e.stop()
	return nil
}

func (e *NucleiEngine) stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
