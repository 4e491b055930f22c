/**
 * 漏洞管理引擎适配器(OpenVAS风格远程API)
 * @author: sun977
 * @date: 2026.04.18
 * @description: 通过HTTP API驱动漏洞管理引擎，先创建目标上下文再启动任务，报告为XML
 * @func: OpenVASEngine
 */
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"vulnmaster/internal/config"
	"vulnmaster/internal/model/system"
)

// OpenVASEngine 漏洞管理引擎
// 服务端会话(目标上下文+任务)由本实例持有，任务结束后不复用
type OpenVASEngine struct {
	cfg    *config.OpenVASEngineConfig
	client *http.Client

	mu       sync.Mutex
	taskID   string
	targetID string
	phase    string
	percent  int
	done     bool
}

// NewOpenVASEngine 创建漏洞管理引擎实例
func NewOpenVASEngine(cfg *config.OpenVASEngineConfig) *OpenVASEngine {
	return &OpenVASEngine{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		phase: "pending",
	}
}

// Name 引擎名称
func (e *OpenVASEngine) Name() string {
	return "openvas"
}

// Start 创建目标上下文并启动扫描任务
func (e *OpenVASEngine) Start(ctx context.Context, spec TargetSpec) (*Handle, error) {
	// 1. 创建目标上下文
	targetID, err := e.createTarget(ctx, spec)
	if err != nil {
		return nil, err
	}

	// 2. 基于预置扫描配置创建任务
	taskID, err := e.createTask(ctx, targetID)
	if err != nil {
		return nil, err
	}

	// 3. 启动任务
	if err := e.postAction(ctx, fmt.Sprintf("/tasks/%s/start", taskID), nil); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.targetID = targetID
	e.taskID = taskID
	e.phase = "queued"
	e.mu.Unlock()

	return &Handle{ID: taskID, Engine: e.Name()}, nil
}

// createTarget 在引擎侧创建目标上下文
func (e *OpenVASEngine) createTarget(ctx context.Context, spec TargetSpec) (string, error) {
	payload := map[string]interface{}{
		"hosts": strings.Join(spec.Targets, ","),
	}
	if spec.PortRange != "" {
		payload["port_range"] = spec.PortRange
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := e.postJSON(ctx, "/targets", payload, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("engine returned empty target id")
	}
	return resp.ID, nil
}

// createTask 创建扫描任务
func (e *OpenVASEngine) createTask(ctx context.Context, targetID string) (string, error) {
	payload := map[string]interface{}{
		"target_id": targetID,
		"config_id": e.cfg.ScanConfigID,
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := e.postJSON(ctx, "/tasks", payload, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("engine returned empty task id")
	}
	return resp.ID, nil
}

// Poll 查询任务状态
func (e *OpenVASEngine) Poll(ctx context.Context, h *Handle) (*PollStatus, error) {
	var resp struct {
		Status   string `json:"status"`
		Progress int    `json:"progress"`
	}
	if err := e.getJSON(ctx, fmt.Sprintf("/tasks/%s", h.ID), &resp); err != nil {
		return nil, err
	}

	phase := "scanning"
	done := false
	switch resp.Status {
	case "Requested", "Queued":
		phase = "queued"
	case "Running":
		phase = "scanning"
	case "Done":
		phase = "finished"
		resp.Progress = 100
		done = true
	case "Stopped", "Interrupted":
		phase = "stopped"
		done = true
	}

	e.mu.Lock()
	// 进度只进不退
	if resp.Progress > e.percent {
		e.percent = resp.Progress
	}
	e.phase = phase
	e.done = done
	percent := e.percent
	e.mu.Unlock()

	return &PollStatus{Phase: phase, Percent: percent, Done: done}, nil
}

// Collect 轮询至任务结束后拉取XML报告
func (e *OpenVASEngine) Collect(ctx context.Context, h *Handle) ([]byte, error) {
	timeout := e.cfg.CollectTimeout
	if timeout <= 0 {
		timeout = defaultCollectTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		status, err := e.Poll(waitCtx, h)
		if err == nil && status.Done {
			break
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: report not ready within %s", system.ErrCollectTimeout, timeout)
		case <-ticker.C:
		}
	}

	return e.fetchReport(ctx, h.ID)
}

// fetchReport 拉取任务报告(XML)
func (e *OpenVASEngine) fetchReport(ctx context.Context, taskID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		e.cfg.Endpoint+fmt.Sprintf("/tasks/%s/report", taskID), nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(e.cfg.Username, e.cfg.Password)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", system.ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine returned status %d for report", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Cancel 停止任务
func (e *OpenVASEngine) Cancel(ctx context.Context, h *Handle) error {
	return e.postAction(ctx, fmt.Sprintf("/tasks/%s/stop", h.ID), nil)
}

// postJSON 发送JSON请求并解析响应
func (e *OpenVASEngine) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(e.cfg.Username, e.cfg.Password)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", system.ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("engine returned status %d for %s", resp.StatusCode, path)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// postAction 发送无响应体的动作请求
func (e *OpenVASEngine) postAction(ctx context.Context, path string, payload interface{}) error {
	return e.postJSON(ctx, path, payload, nil)
}

// getJSON 发送GET请求并解析响应
func (e *OpenVASEngine) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Endpoint+path, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(e.cfg.Username, e.cfg.Password)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", system.ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine returned status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
