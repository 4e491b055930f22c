package jobmanager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"vulnmaster/internal/adapter"
	"vulnmaster/internal/config"
	"vulnmaster/internal/model/scan"
	"vulnmaster/internal/model/system"
	"vulnmaster/internal/pkg/database"
	"vulnmaster/internal/repo/memory"
	assetrepo "vulnmaster/internal/repo/mysql/asset"
	scanrepo "vulnmaster/internal/repo/mysql/scan"
	assetsvc "vulnmaster/internal/service/asset"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const workerTestNmapXML = `<?xml version="1.0"?>
<nmaprun>
<host><status state="up"/>
<address addr="192.168.1.10" addrtype="ipv4"/>
<ports><port protocol="tcp" portid="80"><state state="open"/><service name="http" product="Apache httpd" version="2.4.49"/></port></ports>
</host>
</nmaprun>`

// fakeEngine 脚本化的引擎替身：按预置序列应答Poll，可注入启动/收集错误
// collectGate非nil时Collect阻塞到通道关闭，collectStarted在进入Collect时关闭
type fakeEngine struct {
	mu             sync.Mutex
	startErrs      []error
	statuses       []adapter.PollStatus
	idx            int
	collectRaw     []byte
	collectErr     error
	collectGate    chan struct{}
	collectStarted chan struct{}
	started        int
	cancelled      bool
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Start(ctx context.Context, spec adapter.TargetSpec) (*adapter.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	if len(f.startErrs) > 0 {
		err := f.startErrs[0]
		f.startErrs = f.startErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &adapter.Handle{ID: "fake-1", Engine: "fake"}, nil
}

func (f *fakeEngine) Poll(ctx context.Context, handle *adapter.Handle) (*adapter.PollStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return &adapter.PollStatus{Phase: "scanning", Percent: 0}, nil
	}
	status := f.statuses[f.idx]
	if f.idx < len(f.statuses)-1 {
		f.idx++
	}
	return &status, nil
}

func (f *fakeEngine) Collect(ctx context.Context, handle *adapter.Handle) ([]byte, error) {
	f.mu.Lock()
	if f.collectStarted != nil {
		close(f.collectStarted)
		f.collectStarted = nil
	}
	gate := f.collectGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collectRaw, f.collectErr
}

func (f *fakeEngine) Cancel(ctx context.Context, handle *adapter.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
	return nil
}

func (f *fakeEngine) wasCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func (f *fakeEngine) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

type fakeRegistry struct {
	engine adapter.Engine
}

func (r *fakeRegistry) Get(kind scan.ScanKind) (adapter.Engine, error) {
	return r.engine, nil
}

func testScanConfig() *config.ScanConfig {
	return &config.ScanConfig{
		Workers:          1,
		QueueSize:        4,
		JobTimeout:       5 * time.Second,
		PollInterval:     10 * time.Millisecond,
		DispatchRetries:  2,
		DispatchBackoff:  time.Millisecond,
		ReaperCron:       "@every 1m",
		DefaultPortRange: "1-1024",
	}
}

func newTestManager(t *testing.T, engine adapter.Engine) (*Manager, *scanrepo.ScanJobRepository, *assetrepo.AssetRepository) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	jobs := scanrepo.NewScanJobRepository(db)
	assets := assetrepo.NewAssetRepository(db)
	ingest := assetsvc.NewIngestService(assets, jobs)
	joblog := memory.NewJobLogRepository(1000)

	m := NewManager(testScanConfig(), jobs, joblog, &fakeRegistry{engine: engine}, ingest, nil)
	return m, jobs, assets
}

func submitJob(t *testing.T, m *Manager, kind scan.ScanKind) *scan.ScanJob {
	job, err := m.Submit(context.Background(), 1, &scan.SubmitScanRequest{
		Name:    "test sweep",
		Kind:    kind,
		Targets: []string{"192.168.1.0/24"},
	})
	require.NoError(t, err)
	require.Equal(t, scan.StatusQueued, job.Status)
	return job
}

func waitForStatus(t *testing.T, m *Manager, jobID string, want scan.ScanJobStatus) *scan.ScanJob {
	var job *scan.ScanJob
	require.Eventually(t, func() bool {
		var err error
		job, err = m.Get(context.Background(), jobID)
		return err == nil && job.Status == want
	}, 3*time.Second, 10*time.Millisecond, "job never reached %s", want)
	return job
}

func TestJobRunsToCompletion(t *testing.T) {
	engine := &fakeEngine{
		statuses: []adapter.PollStatus{
			{Phase: "port_scan", Percent: 30},
			{Phase: "service_detection", Percent: 70},
			{Phase: "finished", Percent: 100, Done: true},
		},
		collectRaw: []byte(workerTestNmapXML),
	}
	m, _, assets := newTestManager(t, engine)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	job := submitJob(t, m, scan.KindServiceScan)

	final := waitForStatus(t, m, job.JobID, scan.StatusCompleted)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, 1, final.HostsScanned)
	assert.Equal(t, 1, final.ServicesFound)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.CompletedAt)

	hosts, err := assets.ListHostsByJob(context.Background(), job.JobID)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "192.168.1.10", hosts[0].IP)

	// 进度日志流按序可增量拉取
	entries, err := m.Logs(context.Background(), job.JobID, 0, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, scan.LogLevelSuccess, last.Level)
}

func TestCancelRunningJobCooperatively(t *testing.T) {
	engine := &fakeEngine{
		statuses: []adapter.PollStatus{{Phase: "scanning", Percent: 20}},
	}
	m, _, _ := newTestManager(t, engine)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	job := submitJob(t, m, scan.KindPortScan)
	waitForStatus(t, m, job.JobID, scan.StatusRunning)

	require.NoError(t, m.Cancel(context.Background(), job.JobID))

	final := waitForStatus(t, m, job.JobID, scan.StatusCancelled)
	assert.Equal(t, scan.StatusCancelled, final.Status)
	assert.Eventually(t, engine.wasCancelled, time.Second, 10*time.Millisecond)

	// 终态任务再取消被拒
	err := m.Cancel(context.Background(), job.JobID)
	assert.ErrorIs(t, err, system.ErrJobTerminal)
}

func TestCancelDuringCollectDiscardsResult(t *testing.T) {
	chunk := `{"template-id":"exposed-panel","ip":"10.1.0.4","port":"443","matched-at":"https://10.1.0.4/admin","info":{"name":"Admin Panel Exposed","severity":"medium","classification":{}}}`
	late := `{"template-id":"late-finding","ip":"10.1.0.9","port":"443","matched-at":"https://10.1.0.9/","info":{"name":"Late Finding","severity":"high","classification":{}}}`
	engine := &fakeEngine{
		statuses: []adapter.PollStatus{
			{Phase: "scanning", Percent: 50, RawChunk: []byte(chunk)},
			{Phase: "finished", Percent: 100, Done: true},
		},
		collectRaw:     []byte(late),
		collectGate:    make(chan struct{}),
		collectStarted: make(chan struct{}),
	}
	started := engine.collectStarted
	gate := engine.collectGate

	m, _, assets := newTestManager(t, engine)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	job := submitJob(t, m, scan.KindTemplateScan)

	// worker卡在Collect时发出取消请求，然后放行Collect
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("engine never reached collect")
	}
	require.NoError(t, m.Cancel(context.Background(), job.JobID))
	close(gate)

	final := waitForStatus(t, m, job.JobID, scan.StatusCancelled)
	assert.True(t, final.CancelRequested)
	assert.Eventually(t, engine.wasCancelled, time.Second, 10*time.Millisecond)

	// 取消前流式摄入的结果保留，Collect产出的结果丢弃
	hosts, err := assets.ListHostsByJob(context.Background(), job.JobID)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "10.1.0.4", hosts[0].IP)

	vulns, err := assets.ListVulnsByJob(context.Background(), job.JobID)
	require.NoError(t, err)
	require.Len(t, vulns, 1)
	assert.Equal(t, "Admin Panel Exposed", vulns[0].Name)
}

func TestCancelQueuedJobDirectly(t *testing.T) {
	engine := &fakeEngine{}
	m, jobs, _ := newTestManager(t, engine)
	// 不启动worker，任务停在queued

	job := submitJob(t, m, scan.KindPortScan)
	require.NoError(t, m.Cancel(context.Background(), job.JobID))

	final, err := jobs.GetByJobID(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, scan.StatusCancelled, final.Status)
}

func TestEngineUnavailableRetriesThenFails(t *testing.T) {
	engine := &fakeEngine{
		startErrs: []error{
			system.ErrEngineUnavailable,
			system.ErrEngineUnavailable,
			system.ErrEngineUnavailable,
		},
	}
	m, _, _ := newTestManager(t, engine)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	job := submitJob(t, m, scan.KindPortScan)

	final := waitForStatus(t, m, job.JobID, scan.StatusFailed)
	assert.Contains(t, final.FailReason, "engine start failed")
	// 首次+2次重试
	assert.Equal(t, 3, engine.startCount())
}

func TestEngineUnavailableRecoversWithinRetries(t *testing.T) {
	engine := &fakeEngine{
		startErrs:  []error{system.ErrEngineUnavailable, nil},
		statuses:   []adapter.PollStatus{{Phase: "finished", Percent: 100, Done: true}},
		collectRaw: []byte(workerTestNmapXML),
	}
	m, _, _ := newTestManager(t, engine)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	job := submitJob(t, m, scan.KindPortScan)
	waitForStatus(t, m, job.JobID, scan.StatusCompleted)
	assert.Equal(t, 2, engine.startCount())
}

func TestCollectTimeoutKeepsPartialResults(t *testing.T) {
	engine := &fakeEngine{
		statuses:   []adapter.PollStatus{{Phase: "finished", Percent: 100, Done: true}},
		collectRaw: []byte(workerTestNmapXML),
		collectErr: system.ErrCollectTimeout,
	}
	m, _, assets := newTestManager(t, engine)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	job := submitJob(t, m, scan.KindServiceScan)

	final := waitForStatus(t, m, job.JobID, scan.StatusFailed)
	assert.Contains(t, final.FailReason, "collect timeout")

	// 超时前拿到的部分结果已落库
	hosts, err := assets.ListHostsByJob(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Len(t, hosts, 1)
}

func TestStreamingChunksIngestedDuringRun(t *testing.T) {
	chunk := `{"template-id":"exposed-panel","ip":"10.1.0.4","port":"443","matched-at":"https://10.1.0.4/admin","info":{"name":"Admin Panel Exposed","severity":"medium","classification":{}}}`
	engine := &fakeEngine{
		statuses: []adapter.PollStatus{
			{Phase: "scanning", Percent: 50, RawChunk: []byte(chunk)},
			{Phase: "finished", Percent: 100, Done: true},
		},
	}
	m, _, assets := newTestManager(t, engine)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	job := submitJob(t, m, scan.KindTemplateScan)
	waitForStatus(t, m, job.JobID, scan.StatusCompleted)

	vulns, err := assets.ListVulnsByJob(context.Background(), job.JobID)
	require.NoError(t, err)
	require.Len(t, vulns, 1)
	assert.Equal(t, "Admin Panel Exposed", vulns[0].Name)
}

func TestSubmitQueueFull(t *testing.T) {
	engine := &fakeEngine{}
	m, _, _ := newTestManager(t, engine)
	// 不启动worker，队列只进不出

	for i := 0; i < testScanConfig().QueueSize; i++ {
		submitJob(t, m, scan.KindPortScan)
	}

	_, err := m.Submit(context.Background(), 1, &scan.SubmitScanRequest{
		Name:    "overflow",
		Kind:    scan.KindPortScan,
		Targets: []string{"192.168.1.1"},
	})
	assert.ErrorIs(t, err, system.ErrQueueFull)
}

func TestSubmitValidation(t *testing.T) {
	engine := &fakeEngine{}
	m, _, _ := newTestManager(t, engine)

	_, err := m.Submit(context.Background(), 1, &scan.SubmitScanRequest{
		Name:    "bad",
		Kind:    scan.ScanKind("bogus"),
		Targets: []string{"192.168.1.1"},
	})
	require.Error(t, err)
	assert.True(t, system.IsValidationError(err))
}

func TestRequeuePendingOnStart(t *testing.T) {
	engine := &fakeEngine{
		statuses:   []adapter.PollStatus{{Phase: "finished", Percent: 100, Done: true}},
		collectRaw: []byte(workerTestNmapXML),
	}
	m, jobs, _ := newTestManager(t, engine)

	// 模拟进程重启前残留的queued任务：直接落库不入队
	job := &scan.ScanJob{JobID: "job-orphan", Name: "orphan", OrgID: 1, Kind: scan.KindPortScan, Status: scan.StatusQueued}
	require.NoError(t, job.SetTargets([]string{"192.168.1.1"}))
	require.NoError(t, jobs.Create(context.Background(), job))

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	waitForStatus(t, m, "job-orphan", scan.StatusCompleted)
}
