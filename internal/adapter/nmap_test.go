package adapter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vulnmaster/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeStubBinary 生成替身可执行脚本，测试子进程输出收集
func writeStubBinary(t *testing.T, name, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestNmapBuildArgs(t *testing.T) {
	cfg := &config.NmapEngineConfig{StatsInterval: "2s"}

	tests := []struct {
		mode     NmapMode
		spec     TargetSpec
		contains []string
		excludes []string
	}{
		{
			mode:     NmapModeDiscovery,
			spec:     TargetSpec{Targets: []string{"10.0.0.0/24"}, PortRange: "1-1024"},
			contains: []string{"-sn", "10.0.0.0/24"},
			excludes: []string{"-p"}, // 主机发现不带端口参数
		},
		{
			mode:     NmapModePort,
			spec:     TargetSpec{Targets: []string{"10.0.0.5"}, PortRange: "22,80,443"},
			contains: []string{"-p", "22,80,443", "10.0.0.5"},
		},
		{
			mode:     NmapModeService,
			spec:     TargetSpec{Targets: []string{"10.0.0.5"}},
			contains: []string{"-sV"},
		},
		{
			mode:     NmapModeFull,
			spec:     TargetSpec{Targets: []string{"10.0.0.5"}},
			contains: []string{"-A", "-T4"},
		},
	}

	for _, tt := range tests {
		engine := NewNmapEngine(cfg, tt.mode)
		args := engine.buildArgs(tt.spec)

		assert.Contains(t, args, "-oX")
		assert.Contains(t, args, "--stats-every")
		for _, want := range tt.contains {
			assert.Contains(t, args, want, "mode %s", tt.mode)
		}
		for _, not := range tt.excludes {
			assert.NotContains(t, args, not, "mode %s", tt.mode)
		}
	}
}

func TestNmapBuildArgsTimingOption(t *testing.T) {
	engine := NewNmapEngine(&config.NmapEngineConfig{}, NmapModePort)
	args := engine.buildArgs(TargetSpec{
		Targets: []string{"10.0.0.5"},
		Options: map[string]interface{}{"timing": "3"},
	})
	assert.Contains(t, args, "-T3")
}

func TestNmapCollectDrainsFullOutput(t *testing.T) {
	// 输出远超管道缓冲区，进程退出后尾部数据必须完整收集
	stub := writeStubBinary(t, "nmap-stub", "#!/bin/sh\nseq 1 50000\n")
	engine := NewNmapEngine(&config.NmapEngineConfig{
		BinaryPath:     stub,
		CollectTimeout: 10 * time.Second,
	}, NmapModePort)

	_, err := engine.Start(context.Background(), TargetSpec{Targets: []string{"10.0.0.5"}})
	require.NoError(t, err)

	output, err := engine.Collect(context.Background(), &Handle{})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(output), "50000\n"),
		"tail of subprocess output lost, got %d bytes", len(output))
}

func TestNmapStderrProgressParsing(t *testing.T) {
	engine := NewNmapEngine(&config.NmapEngineConfig{}, NmapModeService)

	engine.consumeStderrLine("Stats: 0:00:05 elapsed; 0 hosts completed (1 up), 1 undergoing SYN Stealth Scan")
	engine.consumeStderrLine("SYN Stealth Scan Timing: About 45.00% done; ETC: 12:00 (0:00:06 remaining)")
	assert.Equal(t, 45, engine.percent)
	assert.Equal(t, "port_scan", engine.phase)

	// 进度只进不退
	engine.consumeStderrLine("SYN Stealth Scan Timing: About 30.00% done")
	assert.Equal(t, 45, engine.percent)

	engine.consumeStderrLine("Service scan Timing: About 80.00% done")
	assert.Equal(t, 80, engine.percent)
	assert.Equal(t, "service_detection", engine.phase)
}
