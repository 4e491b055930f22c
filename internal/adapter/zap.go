/**
 * Web应用引擎适配器(ZAP远程API)
 * @author: sun977
 * @date: 2026.04.18
 * @description: 通过ZAP JSON API驱动Web应用扫描，先爬取后主动扫描，告警以JSON收集
 * @func: ZAPEngine
 */
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"vulnmaster/internal/config"
	"vulnmaster/internal/model/system"
)

// ZAP扫描阶段
const (
	zapPhaseSpider = "spider"      // 爬取
	zapPhaseActive = "active_scan" // 主动扫描
	zapPhaseDone   = "finished"
)

// ZAPEngine Web应用引擎
// 扫描分两个阶段：spider占进度0-40，active占40-100
type ZAPEngine struct {
	cfg    *config.ZAPEngineConfig
	client *http.Client

	mu           sync.Mutex
	baseURL      string // 被扫描站点
	spiderScanID string
	activeScanID string
	phase        string
	percent      int
	done         bool
}

// NewZAPEngine 创建Web应用引擎实例
func NewZAPEngine(cfg *config.ZAPEngineConfig) *ZAPEngine {
	return &ZAPEngine{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		phase: "pending",
	}
}

// Name 引擎名称
func (e *ZAPEngine) Name() string {
	return "zap"
}

// Start 对第一个目标URL启动爬取
// ZAP按站点工作，多URL目标在校验层已保证同类，这里取首个作为入口
func (e *ZAPEngine) Start(ctx context.Context, spec TargetSpec) (*Handle, error) {
	if len(spec.Targets) == 0 {
		return nil, fmt.Errorf("zap requires at least one target url")
	}
	target := spec.Targets[0]

	params := url.Values{}
	params.Set("url", target)
	if depth, ok := spec.Options["crawl_depth"].(float64); ok && depth > 0 {
		params.Set("maxChildren", strconv.Itoa(int(depth)))
	} else if e.cfg.CrawlDepth > 0 {
		params.Set("maxChildren", strconv.Itoa(e.cfg.CrawlDepth))
	}
	// 认证上下文由调用方预先在ZAP侧配置，这里只透传名称
	if contextName, ok := spec.Options["auth_context"].(string); ok && contextName != "" {
		params.Set("contextName", contextName)
	}

	var resp struct {
		Scan string `json:"scan"`
	}
	if err := e.call(ctx, "/JSON/spider/action/scan/", params, &resp); err != nil {
		return nil, err
	}
	if resp.Scan == "" {
		return nil, fmt.Errorf("zap returned empty spider scan id")
	}

	e.mu.Lock()
	e.baseURL = target
	e.spiderScanID = resp.Scan
	e.phase = zapPhaseSpider
	e.mu.Unlock()

	return &Handle{ID: resp.Scan, Engine: e.Name()}, nil
}

// Poll 查询当前阶段进度，爬取完成后自动推进到主动扫描
func (e *ZAPEngine) Poll(ctx context.Context, h *Handle) (*PollStatus, error) {
	e.mu.Lock()
	phase := e.phase
	e.mu.Unlock()

	switch phase {
	case zapPhaseSpider:
		status, err := e.scanStatus(ctx, "/JSON/spider/view/status/", e.spiderScanID)
		if err != nil {
			return nil, err
		}
		if status >= 100 {
			// 爬取结束，启动主动扫描
			if err := e.startActiveScan(ctx); err != nil {
				return nil, err
			}
			return e.snapshot(zapPhaseActive, 40, false), nil
		}
		return e.snapshot(zapPhaseSpider, status*40/100, false), nil

	case zapPhaseActive:
		status, err := e.scanStatus(ctx, "/JSON/ascan/view/status/", e.activeScanID)
		if err != nil {
			return nil, err
		}
		if status >= 100 {
			return e.snapshot(zapPhaseDone, 100, true), nil
		}
		return e.snapshot(zapPhaseActive, 40+status*60/100, false), nil

	default:
		return e.snapshot(phase, e.currentPercent(), e.isDone()), nil
	}
}

// startActiveScan 启动主动扫描阶段
func (e *ZAPEngine) startActiveScan(ctx context.Context) error {
	e.mu.Lock()
	target := e.baseURL
	e.mu.Unlock()

	params := url.Values{}
	params.Set("url", target)

	var resp struct {
		Scan string `json:"scan"`
	}
	if err := e.call(ctx, "/JSON/ascan/action/scan/", params, &resp); err != nil {
		return err
	}
	if resp.Scan == "" {
		return fmt.Errorf("zap returned empty active scan id")
	}

	e.mu.Lock()
	e.activeScanID = resp.Scan
	e.phase = zapPhaseActive
	e.percent = 40
	e.mu.Unlock()
	return nil
}

// scanStatus 查询某阶段的百分比进度
func (e *ZAPEngine) scanStatus(ctx context.Context, path, scanID string) (int, error) {
	params := url.Values{}
	params.Set("scanId", scanID)

	var resp struct {
		Status string `json:"status"`
	}
	if err := e.call(ctx, path, params, &resp); err != nil {
		return 0, err
	}
	status, err := strconv.Atoi(resp.Status)
	if err != nil {
		return 0, fmt.Errorf("zap returned malformed status %q", resp.Status)
	}
	return status, nil
}

// Collect 轮询至主动扫描结束后拉取告警JSON
func (e *ZAPEngine) Collect(ctx context.Context, h *Handle) ([]byte, error) {
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
			return nil, fmt.Errorf("%w: zap scan not finished within %s", system.ErrCollectTimeout, timeout)
		case <-ticker.C:
		}
	}

	e.mu.Lock()
	target := e.baseURL
	e.mu.Unlock()

	params := url.Values{}
	params.Set("baseurl", target)
	return e.callRaw(ctx, "/JSON/core/view/alerts/", params)
}

// Cancel 停止当前阶段的扫描
func (e *ZAPEngine) Cancel(ctx context.Context, h *Handle) error {
	e.mu.Lock()
	phase := e.phase
	spiderID := e.spiderScanID
	activeID := e.activeScanID
	e.mu.Unlock()

	params := url.Values{}
	switch phase {
	case zapPhaseSpider:
		params.Set("scanId", spiderID)
		return e.call(ctx, "/JSON/spider/action/stop/", params, nil)
	case zapPhaseActive:
		params.Set("scanId", activeID)
		return e.call(ctx, "/JSON/ascan/action/stop/", params, nil)
	}
	return nil
}

func (e *ZAPEngine) snapshot(phase string, percent int, done bool) *PollStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	if percent > e.percent {
		e.percent = percent
	}
	e.phase = phase
	e.done = done
	return &PollStatus{Phase: phase, Percent: e.percent, Done: done}
}

func (e *ZAPEngine) currentPercent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.percent
}

func (e *ZAPEngine) isDone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// call 调用ZAP JSON API并解析响应
func (e *ZAPEngine) call(ctx context.Context, path string, params url.Values, out interface{}) error {
	body, err := e.callRaw(ctx, path, params)
	if err != nil {
		return err
	}
	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}

// callRaw 调用ZAP JSON API并返回原始响应体
func (e *ZAPEngine) callRaw(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if e.cfg.APIKey != "" {
		params.Set("apikey", e.cfg.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		e.cfg.Endpoint+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", system.ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("zap returned status %d for %s", resp.StatusCode, path)
	}
	return io.ReadAll(resp.Body)
}
