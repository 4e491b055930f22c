package memory

import (
	"context"
	"fmt"
	"testing"

	"vulnmaster/internal/model/scan"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLogAppendAndList(t *testing.T) {
	repo := NewJobLogRepository(100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		entry := scan.NewJobLogEntry(scan.LogLevelInfo, fmt.Sprintf("step %d", i), "port_scan", i*20)
		require.NoError(t, repo.Append(ctx, "job-1", entry))
	}

	entries, err := repo.List(ctx, "job-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, "step 0", entries[0].Message)
	assert.Equal(t, "step 4", entries[4].Message)

	// 增量拉取
	entries, err = repo.List(ctx, "job-1", 3, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "step 3", entries[0].Message)

	count, err := repo.Count(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestJobLogTrimOldest(t *testing.T) {
	repo := NewJobLogRepository(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		entry := scan.NewJobLogEntry(scan.LogLevelInfo, fmt.Sprintf("step %d", i), "", 0)
		require.NoError(t, repo.Append(ctx, "job-1", entry))
	}

	entries, err := repo.List(ctx, "job-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// 最旧的被裁掉
	assert.Equal(t, "step 2", entries[0].Message)
	assert.Equal(t, "step 4", entries[2].Message)
}

func TestJobLogClearAndIsolation(t *testing.T) {
	repo := NewJobLogRepository(100)
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, "job-1", scan.NewJobLogEntry(scan.LogLevelInfo, "a", "", 0)))
	require.NoError(t, repo.Append(ctx, "job-2", scan.NewJobLogEntry(scan.LogLevelError, "b", "", 0)))

	require.NoError(t, repo.Clear(ctx, "job-1"))

	entries, err := repo.List(ctx, "job-1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = repo.List(ctx, "job-2", 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
