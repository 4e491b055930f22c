package adapter

import (
	"bytes"
	"context"
	"testing"
	"time"

	"vulnmaster/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNucleiCollectDrainsFullOutput(t *testing.T) {
	// JSONL行数远超管道缓冲区，进程退出后尾部行必须完整收集
	stub := writeStubBinary(t, "nuclei-stub",
		"#!/bin/sh\ni=1\nwhile [ $i -le 5000 ]; do echo \"{\\\"template-id\\\":\\\"t-$i\\\"}\"; i=$((i+1)); done\n")
	engine := NewNucleiEngine(&config.NucleiEngineConfig{
		BinaryPath:     stub,
		CollectTimeout: 10 * time.Second,
	})

	_, err := engine.Start(context.Background(), TargetSpec{Targets: []string{"https://10.0.0.5"}})
	require.NoError(t, err)

	output, err := engine.Collect(context.Background(), &Handle{})
	require.NoError(t, err)

	lines := bytes.Count(output, []byte("\n"))
	assert.Equal(t, 5000, lines, "tail of subprocess output lost")
	assert.Contains(t, string(output), `"template-id":"t-5000"`)
}

func TestNucleiPollDeliversIncrementalChunks(t *testing.T) {
	stub := writeStubBinary(t, "nuclei-stub",
		"#!/bin/sh\necho '{\"template-id\":\"a\"}'\necho '{\"template-id\":\"b\"}'\n")
	engine := NewNucleiEngine(&config.NucleiEngineConfig{
		BinaryPath:     stub,
		CollectTimeout: 10 * time.Second,
	})

	_, err := engine.Start(context.Background(), TargetSpec{Targets: []string{"https://10.0.0.5"}})
	require.NoError(t, err)

	// 等进程跑完再Poll，增量块应一次性带出全部行，第二次Poll为空
	_, err = engine.Collect(context.Background(), &Handle{})
	require.NoError(t, err)

	status, err := engine.Poll(context.Background(), &Handle{})
	require.NoError(t, err)
	assert.True(t, status.Done)
	assert.Contains(t, string(status.RawChunk), `"template-id":"a"`)
	assert.Contains(t, string(status.RawChunk), `"template-id":"b"`)

	status, err = engine.Poll(context.Background(), &Handle{})
	require.NoError(t, err)
	assert.Empty(t, status.RawChunk)
}
