package asset

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"vulnmaster/internal/model/scan"
	"vulnmaster/internal/model/system"
	"vulnmaster/internal/pkg/database"
	assetrepo "vulnmaster/internal/repo/mysql/asset"
	scanrepo "vulnmaster/internal/repo/mysql/scan"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestEnv(t *testing.T) (*IngestService, *scanrepo.ScanJobRepository, *assetrepo.AssetRepository) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	jobs := scanrepo.NewScanJobRepository(db)
	assets := assetrepo.NewAssetRepository(db)
	return NewIngestService(assets, jobs), jobs, assets
}

func runningJob(t *testing.T, jobs *scanrepo.ScanJobRepository, jobID string) *scan.ScanJob {
	job := &scan.ScanJob{
		JobID:  jobID,
		Name:   "service sweep",
		OrgID:  1,
		Kind:   scan.KindServiceScan,
		Status: scan.StatusQueued,
	}
	require.NoError(t, job.SetTargets([]string{"192.168.1.0/24"}))
	require.NoError(t, jobs.Create(context.Background(), job))
	require.NoError(t, jobs.ClaimDispatch(context.Background(), jobID))
	job.Status = scan.StatusRunning
	return job
}

func sampleFindings() []scan.Finding {
	return []scan.Finding{
		{
			Address:  "192.168.1.10",
			Hostname: "web01",
			OS:       "Linux 5.4",
			Services: []scan.FindingService{
				{Port: 22, Proto: "tcp", State: "open", Name: "ssh", Product: "OpenSSH", Version: "8.9p1"},
				{Port: 80, Proto: "tcp", State: "open", Name: "http", Product: "Apache httpd", Version: "2.4.49"},
			},
			Vulns: []scan.FindingVuln{
				{Name: "Apache Path Traversal", Severity: scan.SeverityCritical, Score: 9.8, CVEIDs: []string{"CVE-2021-41773"}, Port: 80, Proto: "tcp"},
			},
		},
		{
			Address:  "192.168.1.11",
			Services: []scan.FindingService{{Port: 3306, Proto: "tcp", State: "open", Name: "mysql"}},
		},
	}
}

func TestIngestFindings(t *testing.T) {
	svc, jobs, assets := newTestEnv(t)
	ctx := context.Background()
	job := runningJob(t, jobs, "job-1")

	stats, err := svc.IngestFindings(ctx, job, sampleFindings())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Hosts)
	assert.Equal(t, 3, stats.Services)
	assert.Equal(t, 1, stats.VulnsCreated)

	// 计数器已回写
	reloaded, err := jobs.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.HostsScanned)
	assert.Equal(t, 2, reloaded.HostsResponsive)
	assert.Equal(t, 3, reloaded.ServicesFound)
	assert.Equal(t, 1, reloaded.VulnCritical)

	// 漏洞挂在正确的服务上
	hosts, err := assets.ListHostsByJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, hosts, 2)

	vulns, err := assets.ListVulnsByJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, vulns, 1)
	assert.Equal(t, "CVE-2021-41773", vulns[0].CVE)
	assert.NotZero(t, vulns[0].ServiceID)
	assert.Equal(t, string(scan.KindServiceScan), vulns[0].Source)
}

func TestIngestFindingsIdempotent(t *testing.T) {
	svc, jobs, _ := newTestEnv(t)
	ctx := context.Background()
	job := runningJob(t, jobs, "job-1")

	_, err := svc.IngestFindings(ctx, job, sampleFindings())
	require.NoError(t, err)

	// 同一批结果重复摄入(流式增量场景)不产生副本、不虚增计数
	stats, err := svc.IngestFindings(ctx, job, sampleFindings())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.VulnsCreated)

	reloaded, _ := jobs.GetByJobID(ctx, "job-1")
	assert.Equal(t, 2, reloaded.HostsScanned)
	assert.Equal(t, 3, reloaded.ServicesFound)
	assert.Equal(t, 1, reloaded.VulnCritical)
}

func TestIngestRefusedForTerminalJob(t *testing.T) {
	svc, jobs, _ := newTestEnv(t)
	ctx := context.Background()
	job := runningJob(t, jobs, "job-1")

	require.NoError(t, jobs.MarkCancelled(ctx, "job-1"))
	job.Status = scan.StatusCancelled

	_, err := svc.IngestFindings(ctx, job, sampleFindings())
	assert.ErrorIs(t, err, system.ErrJobTerminal)
}

func TestIngestMultiCVEFindingKeepsAllCVEs(t *testing.T) {
	svc, jobs, assets := newTestEnv(t)
	ctx := context.Background()
	job := runningJob(t, jobs, "job-1")

	findings := []scan.Finding{{
		Address:  "192.168.1.20",
		Services: []scan.FindingService{{Port: 443, Proto: "tcp", State: "open", Name: "https", Product: "Apache httpd", Version: "2.4.49"}},
		Vulns: []scan.FindingVuln{
			{Name: "Apache Path Traversal / RCE", Severity: scan.SeverityCritical, Score: 9.8,
				CVEIDs: []string{"CVE-2021-41773", "CVE-2021-42013"}, Port: 443, Proto: "tcp"},
		},
	}}

	stats, err := svc.IngestFindings(ctx, job, findings)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.VulnsCreated)
	assert.Equal(t, 2, stats.VulnsSeen)

	// 每个引擎断言的CVE各有一条记录
	vulns, err := assets.ListVulnsByJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, vulns, 2)
	cves := map[string]bool{}
	for _, v := range vulns {
		cves[v.CVE] = true
		assert.NotZero(t, v.ServiceID)
	}
	assert.True(t, cves["CVE-2021-41773"])
	assert.True(t, cves["CVE-2021-42013"])

	// 重复摄入仍不产生副本
	stats, err = svc.IngestFindings(ctx, job, findings)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.VulnsCreated)
}

func TestIngestHostLevelVulnWhenPortUnknown(t *testing.T) {
	svc, jobs, assets := newTestEnv(t)
	ctx := context.Background()
	job := runningJob(t, jobs, "job-1")

	findings := []scan.Finding{{
		Address: "10.0.0.5",
		Vulns: []scan.FindingVuln{
			{Name: "TCP Timestamps", Severity: scan.SeverityInfo, Port: 0, Proto: "tcp"},
		},
	}}

	_, err := svc.IngestFindings(ctx, job, findings)
	require.NoError(t, err)

	vulns, err := assets.ListVulnsByJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, vulns, 1)
	// 没有对应服务时记为主机级
	assert.Zero(t, vulns[0].ServiceID)
}
