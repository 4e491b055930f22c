/**
 * 网络映射引擎适配器(nmap子进程)
 * @author: sun977
 * @date: 2026.04.15
 * @description: 以子进程方式驱动nmap，XML输出走stdout，进度从stderr的统计行提取
 * @func: NmapEngine
 */
package adapter

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"vulnmaster/internal/config"
	"vulnmaster/internal/model/system"
	"vulnmaster/internal/pkg/utils"
)

// NmapMode 网络扫描模式，由注册中心按扫描类型选定
type NmapMode string

const (
	NmapModeDiscovery NmapMode = "discovery" // 主机发现(-sn)
	NmapModePort      NmapMode = "port"      // 端口扫描
	NmapModeService   NmapMode = "service"   // 服务识别(-sV)
	NmapModeFull      NmapMode = "full"      // 全量(-A -T4)
)

// nmap的stderr统计行: "Stats: 0:00:05 elapsed ... About 45.00% done"
var nmapProgressRe = regexp.MustCompile(`About ([0-9.]+)% done`)

// NmapEngine 网络映射引擎
// 每个任务一个实例，进程状态由实例持有
type NmapEngine struct {
	cfg  *config.NmapEngineConfig
	mode NmapMode

	mu        sync.Mutex
	cmd       *exec.Cmd
	cancelCmd context.CancelFunc
	stdout    bytes.Buffer
	phase     string
	percent   int
	done      chan struct{}
	waitErr   error
}

// NewNmapEngine 创建网络映射引擎实例
func NewNmapEngine(cfg *config.NmapEngineConfig, mode NmapMode) *NmapEngine {
	return &NmapEngine{
		cfg:   cfg,
		mode:  mode,
		phase: "pending",
		done:  make(chan struct{}),
	}
}

// Name 引擎名称
func (e *NmapEngine) Name() string {
	return "nmap"
}

// Start 启动nmap子进程
func (e *NmapEngine) Start(ctx context.Context, spec TargetSpec) (*Handle, error) {
	binary := e.cfg.BinaryPath
	if binary == "" {
		binary = "nmap"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("%w: nmap binary not found at %s", system.ErrEngineUnavailable, binary)
	}

	args := e.buildArgs(spec)

	// 进程生命周期独立于Start的ctx，由Cancel/Collect控制
	cmdCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(cmdCtx, binary, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", system.ErrEngineUnavailable, err)
	}

	e.mu.Lock()
	e.cmd = cmd
	e.cancelCmd = cancel
	e.phase = "scanning"
	e.mu.Unlock()

	var readers sync.WaitGroup
	readers.Add(2)

	// stdout收集XML输出
	go func() {
		defer readers.Done()
		buf := make([]byte, 32*1024)
		for {
			n, readErr := stdoutPipe.Read(buf)
			if n > 0 {
				e.mu.Lock()
				e.stdout.Write(buf[:n])
				e.mu.Unlock()
			}
			if readErr != nil {
				break
			}
		}
	}()

	// stderr提取进度统计行
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stderrPipe)
		for scanner.Scan() {
			e.consumeStderrLine(scanner.Text())
		}
	}()

	// 等待进程结束
	// Wait会关闭两个管道，必须等读协程先排尽
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

// buildArgs 按扫描模式构建nmap命令行
func (e *NmapEngine) buildArgs(spec TargetSpec) []string {
	args := []string{"-oX", "-"}

	interval := e.cfg.StatsInterval
	if interval == "" {
		interval = "2s"
	}
	args = append(args, "--stats-every", interval)

	switch e.mode {
	case NmapModeDiscovery:
		args = append(args, "-sn")
	case NmapModeService:
		args = append(args, "-sV")
	case NmapModeFull:
		args = append(args, "-A", "-T4")
	}

	// 主机发现不需要端口参数
	if e.mode != NmapModeDiscovery && spec.PortRange != "" {
		args = append(args, "-p", spec.PortRange)
	}

	// 强度选项
	if timing, ok := spec.Options["timing"].(string); ok && timing != "" {
		args = append(args, "-T"+timing)
	}

	args = append(args, spec.Targets...)
	return args
}

// consumeStderrLine 从统计行提取进度和阶段
func (e *NmapEngine) consumeStderrLine(line string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if m := nmapProgressRe.FindStringSubmatch(line); m != nil {
		if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
			// 进度只进不退
			if int(pct) > e.percent {
				e.percent = int(pct)
			}
		}
	}

	switch {
	case strings.Contains(line, "Ping Scan"):
		e.phase = "host_discovery"
	case strings.Contains(line, "SYN Stealth Scan"), strings.Contains(line, "Connect Scan"):
		e.phase = "port_scan"
	case strings.Contains(line, "Service scan"):
		e.phase = "service_detection"
	case strings.Contains(line, "NSE"):
		e.phase = "script_scan"
	}
}

// Poll 非阻塞查询进程状态
func (e *NmapEngine) Poll(ctx context.Context, h *Handle) (*PollStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	done := false
	select {
	case <-e.done:
		done = true
	default:
	}

	return &PollStatus{
		Phase:   e.phase,
		Percent: e.percent,
		Done:    done,
	}, nil
}

// Collect 等待进程结束并返回完整XML输出
func (e *NmapEngine) Collect(ctx context.Context, h *Handle) ([]byte, error) {
	timeout := e.cfg.CollectTimeout
	if timeout <= 0 {
		timeout = defaultCollectTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-e.done:
	case <-waitCtx.Done():
		// 超时后终止进程，已写出的XML前缀仍然返回给规范化器
		e.killLocked()
		e.mu.Lock()
		output := append([]byte(nil), e.stdout.Bytes()...)
		e.mu.Unlock()
		return output, fmt.Errorf("%w: nmap did not finish within %s", system.ErrCollectTimeout, timeout)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	output := append([]byte(nil), e.stdout.Bytes()...)
	// nmap对个别目标失败时可能非零退出，只要产出了XML就不视为引擎失败
	if e.waitErr != nil && len(output) == 0 {
		return nil, fmt.Errorf("nmap exited with error: %w", e.waitErr)
	}
	return output, nil
}

// Cancel 终止nmap进程
func (e *NmapEngine) Cancel(ctx context.Context, h *Handle) error {
	e.killLocked()
	return nil
}

func (e *NmapEngine) killLocked() {
	e.mu.Lock()
	cancel := e.cancelCmd
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
