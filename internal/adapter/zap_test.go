package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"vulnmaster/internal/config"
	"vulnmaster/internal/model/system"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newZAPTestServer 模拟ZAP JSON API：spider两次查询后完成，active两次后完成
func newZAPTestServer(t *testing.T) *httptest.Server {
	var spiderPolls, activePolls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/JSON/spider/action/scan/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		assert.Equal(t, "https://app.example.com", r.URL.Query().Get("url"))
		json.NewEncoder(w).Encode(map[string]string{"scan": "1"})
	})
	mux.HandleFunc("/JSON/spider/view/status/", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&spiderPolls, 1)
		status := "50"
		if n >= 2 {
			status = "100"
		}
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})
	mux.HandleFunc("/JSON/ascan/action/scan/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"scan": "2"})
	})
	mux.HandleFunc("/JSON/ascan/view/status/", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&activePolls, 1)
		status := "50"
		if n >= 2 {
			status = "100"
		}
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})
	mux.HandleFunc("/JSON/core/view/alerts/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"alerts": []map[string]interface{}{
				{"alert": "X-Frame-Options Header Not Set", "risk": "Medium"},
			},
		})
	})

	return httptest.NewServer(mux)
}

func TestZAPEngineLifecycle(t *testing.T) {
	server := newZAPTestServer(t)
	defer server.Close()

	engine := NewZAPEngine(&config.ZAPEngineConfig{
		Endpoint: server.URL,
		APIKey:   "test-key",
	})
	ctx := context.Background()

	handle, err := engine.Start(ctx, TargetSpec{Targets: []string{"https://app.example.com"}})
	require.NoError(t, err)
	require.Equal(t, "1", handle.ID)

	// 第一次轮询：爬取进行中，进度落在0-40区间
	status, err := engine.Poll(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, zapPhaseSpider, status.Phase)
	assert.Equal(t, 20, status.Percent)
	assert.False(t, status.Done)

	// 第二次轮询：爬取完成，自动推进到主动扫描
	status, err = engine.Poll(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, zapPhaseActive, status.Phase)
	assert.Equal(t, 40, status.Percent)

	// 主动扫描进行中
	status, err = engine.Poll(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, zapPhaseActive, status.Phase)
	assert.Equal(t, 70, status.Percent)

	// 主动扫描完成
	status, err = engine.Poll(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, zapPhaseDone, status.Phase)
	assert.Equal(t, 100, status.Percent)
	assert.True(t, status.Done)

	// 收集告警
	raw, err := engine.Collect(ctx, handle)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "X-Frame-Options")
}

func TestZAPEngineUnavailable(t *testing.T) {
	engine := NewZAPEngine(&config.ZAPEngineConfig{
		Endpoint: "http://127.0.0.1:1", // 不可达端口
	})

	_, err := engine.Start(context.Background(), TargetSpec{Targets: []string{"https://app.example.com"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, system.ErrEngineUnavailable)
}
