package correlator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"vulnmaster/internal/config"
	"vulnmaster/internal/model/asset"
	"vulnmaster/internal/model/intel"
	"vulnmaster/internal/model/scan"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIntelStore 内存情报缓存，按产品名返回预置记录
type fakeIntelStore struct {
	records map[string][]*intel.CVERecord
	err     error
}

func (f *fakeIntelStore) LookupByPlatform(ctx context.Context, product string, limit int) ([]*intel.CVERecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records[product], nil
}

// fakeAssetStore 内存资产库，upsert按 (host, service, cve) 去重
type fakeAssetStore struct {
	hosts    map[uint64]*asset.AssetHost
	services map[uint64]*asset.AssetService
	vulns    map[string]*asset.AssetVuln
}

func newFakeAssetStore() *fakeAssetStore {
	return &fakeAssetStore{
		hosts:    make(map[uint64]*asset.AssetHost),
		services: make(map[uint64]*asset.AssetService),
		vulns:    make(map[string]*asset.AssetVuln),
	}
}

func (f *fakeAssetStore) GetHostByID(ctx context.Context, hostID uint64) (*asset.AssetHost, error) {
	host, ok := f.hosts[hostID]
	if !ok {
		return nil, errors.New("host not found")
	}
	return host, nil
}

func (f *fakeAssetStore) GetServiceByID(ctx context.Context, serviceID uint64) (*asset.AssetService, error) {
	service, ok := f.services[serviceID]
	if !ok {
		return nil, errors.New("service not found")
	}
	return service, nil
}

func (f *fakeAssetStore) ListServicesByHost(ctx context.Context, hostID uint64) ([]*asset.AssetService, error) {
	var out []*asset.AssetService
	for _, s := range f.services {
		if s.HostID == hostID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeAssetStore) ListServicesByJob(ctx context.Context, jobID string) ([]*asset.AssetService, error) {
	var out []*asset.AssetService
	for _, s := range f.services {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeAssetStore) UpsertCorrelatedVuln(ctx context.Context, vuln *asset.AssetVuln) (bool, error) {
	key := fmt.Sprintf("%d/%d/%s", vuln.HostID, vuln.ServiceID, vuln.CVE)
	if existing, ok := f.vulns[key]; ok {
		existing.LastSeenAt = vuln.LastSeenAt
		return false, nil
	}
	f.vulns[key] = vuln
	return true, nil
}

func testCorrelatorConfig() *config.CorrelatorConfig {
	return &config.CorrelatorConfig{MaxCVEs: 20, LookupTimeout: 5 * time.Second}
}

func apacheService(store *fakeAssetStore) *asset.AssetService {
	store.hosts[1] = &asset.AssetHost{OrgID: 7, IP: "10.0.0.5"}
	store.hosts[1].ID = 1

	service := &asset.AssetService{
		HostID:  1,
		Port:    80,
		Proto:   "tcp",
		Product: "Apache",
		Version: "2.4.49",
	}
	service.ID = 11
	store.services[11] = service
	return service
}

func TestCorrelateConstructedCPE(t *testing.T) {
	store := newFakeAssetStore()
	service := apacheService(store)

	published := time.Date(2021, 10, 5, 0, 0, 0, 0, time.UTC)
	intelStore := &fakeIntelStore{records: map[string][]*intel.CVERecord{
		"apache": {
			{CVEID: "CVE-2021-41773", Summary: "Path traversal in Apache HTTP Server 2.4.49", Severity: scan.SeverityCritical, Score: 9.8, PublishedAt: &published, Product: "apache", VersionStart: "2.4.49", VersionEnd: "2.4.50"},
			{CVEID: "CVE-2019-0211", Summary: "Apache privilege escalation", Severity: scan.SeverityHigh, Score: 7.8, Product: "apache", VersionStart: "2.4.17", VersionEnd: "2.4.38"},
		},
	}}

	c := NewCorrelator(testCorrelatorConfig(), intelStore, store)
	result := c.Correlate(context.Background(), service)

	require.Equal(t, scan.CorrelationSuccess, result.Status, result.Error)
	assert.Equal(t, scan.CPESourceConstructed, result.CPE.Source)
	assert.GreaterOrEqual(t, result.CPE.Confidence, 60)
	assert.LessOrEqual(t, result.CPE.Confidence, 85)
	// 2.4.49只命中第一条的受影响区间
	assert.Equal(t, []string{"CVE-2021-41773"}, result.CVEsConsidered)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 0, result.Refreshed)

	vuln := store.vulns["1/11/CVE-2021-41773"]
	require.NotNil(t, vuln)
	assert.Equal(t, uint64(7), vuln.OrgID)
	assert.Equal(t, scan.SeverityCritical, vuln.Severity)
	assert.Equal(t, "open", vuln.Status)
	assert.Equal(t, "correlator", vuln.Source)
}

func TestCorrelateIdempotent(t *testing.T) {
	store := newFakeAssetStore()
	service := apacheService(store)
	intelStore := &fakeIntelStore{records: map[string][]*intel.CVERecord{
		"apache": {{CVEID: "CVE-2021-41773", Severity: scan.SeverityCritical, Score: 9.8, Product: "apache", VersionStart: "2.4.49", VersionEnd: "2.4.50"}},
	}}

	c := NewCorrelator(testCorrelatorConfig(), intelStore, store)

	first := c.Correlate(context.Background(), service)
	require.Equal(t, 1, first.Created)

	firstSeen := store.vulns["1/11/CVE-2021-41773"].FirstSeenAt

	second := c.Correlate(context.Background(), service)
	assert.Equal(t, scan.CorrelationSuccess, second.Status)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Refreshed)
	// 重复关联不新建记录、不改first_seen
	assert.Len(t, store.vulns, 1)
	assert.Equal(t, firstSeen, store.vulns["1/11/CVE-2021-41773"].FirstSeenAt)
}

func TestCorrelateNoCPE(t *testing.T) {
	store := newFakeAssetStore()
	store.hosts[1] = &asset.AssetHost{OrgID: 7, IP: "10.0.0.5"}
	service := &asset.AssetService{HostID: 1, Port: 8080, Proto: "tcp"} // 无产品信息
	service.ID = 12
	store.services[12] = service

	c := NewCorrelator(testCorrelatorConfig(), &fakeIntelStore{}, store)
	result := c.Correlate(context.Background(), service)

	assert.Equal(t, scan.CorrelationNoCPE, result.Status)
	assert.Equal(t, 0, result.CPE.Confidence)
	assert.Equal(t, 0, result.Created)
	assert.Empty(t, store.vulns)
}

func TestCorrelateNoCVEs(t *testing.T) {
	store := newFakeAssetStore()
	service := apacheService(store)

	c := NewCorrelator(testCorrelatorConfig(), &fakeIntelStore{records: map[string][]*intel.CVERecord{}}, store)
	result := c.Correlate(context.Background(), service)

	assert.Equal(t, scan.CorrelationNoCVEs, result.Status)
}

func TestCorrelateEngineCPEVerbatim(t *testing.T) {
	store := newFakeAssetStore()
	store.hosts[1] = &asset.AssetHost{OrgID: 7, IP: "10.0.0.5"}
	service := &asset.AssetService{HostID: 1, Port: 22, Proto: "tcp", Product: "OpenSSH", Version: "8.9p1", CPE: "cpe:/a:openbsd:openssh:8.9p1"}
	service.ID = 13
	store.services[13] = service

	intelStore := &fakeIntelStore{records: map[string][]*intel.CVERecord{
		"openssh": {{CVEID: "CVE-2023-38408", Severity: scan.SeverityCritical, Score: 9.8, Product: "openssh", VersionEnd: "9.3"}},
	}}

	c := NewCorrelator(testCorrelatorConfig(), intelStore, store)
	result := c.Correlate(context.Background(), service)

	require.Equal(t, scan.CorrelationSuccess, result.Status, result.Error)
	assert.Equal(t, scan.CPESourceEngine, result.CPE.Source)
	assert.Equal(t, 100, result.CPE.Confidence)
	assert.Equal(t, "cpe:/a:openbsd:openssh:8.9p1", result.CPE.Value)
}

func TestCorrelateIntelUnreachable(t *testing.T) {
	store := newFakeAssetStore()
	service := apacheService(store)

	c := NewCorrelator(testCorrelatorConfig(), &fakeIntelStore{err: errors.New("dial tcp: timeout")}, store)
	result := c.Correlate(context.Background(), service)

	assert.Equal(t, scan.CorrelationError, result.Status)
	assert.NotEmpty(t, result.Error)
	assert.Empty(t, store.vulns)
}

func TestCorrelateHostBatchCollectsErrors(t *testing.T) {
	store := newFakeAssetStore()
	store.hosts[1] = &asset.AssetHost{OrgID: 7, IP: "10.0.0.5"}

	ok := &asset.AssetService{HostID: 1, Port: 80, Proto: "tcp", Product: "Apache", Version: "2.4.49"}
	ok.ID = 11
	store.services[11] = ok
	bare := &asset.AssetService{HostID: 1, Port: 8080, Proto: "tcp"}
	bare.ID = 12
	store.services[12] = bare

	intelStore := &fakeIntelStore{records: map[string][]*intel.CVERecord{
		"apache": {{CVEID: "CVE-2021-41773", Severity: scan.SeverityCritical, Score: 9.8, Product: "apache", VersionStart: "2.4.49", VersionEnd: "2.4.50"}},
	}}

	c := NewCorrelator(testCorrelatorConfig(), intelStore, store)
	batch, err := c.CorrelateHost(context.Background(), 1)
	require.NoError(t, err)

	// 无CPE的服务不中断批处理
	assert.Equal(t, 2, batch.Total)
	assert.Equal(t, 1, batch.Succeeded)
	assert.Equal(t, 1, batch.NoCPE)
	assert.Equal(t, 1, batch.Created)
}

func TestCorrelateMaxCVEsCap(t *testing.T) {
	store := newFakeAssetStore()
	service := apacheService(store)

	var records []*intel.CVERecord
	for i := 0; i < 5; i++ {
		records = append(records, &intel.CVERecord{
			CVEID:    fmt.Sprintf("CVE-2021-%05d", i),
			Severity: scan.SeverityHigh,
			Product:  "apache",
		})
	}
	intelStore := &fakeIntelStore{records: map[string][]*intel.CVERecord{"apache": records}}

	cfg := &config.CorrelatorConfig{MaxCVEs: 3, LookupTimeout: 5 * time.Second}
	c := NewCorrelator(cfg, intelStore, store)
	result := c.Correlate(context.Background(), service)

	require.Equal(t, scan.CorrelationSuccess, result.Status)
	assert.Len(t, result.CVEsConsidered, 3)
}

func TestResolveCPE(t *testing.T) {
	tests := []struct {
		name       string
		service    asset.AssetService
		source     scan.CPESource
		confidence int
		value      string
	}{
		{"engine detected", asset.AssetService{CPE: "cpe:/a:openbsd:openssh:8.9p1"}, scan.CPESourceEngine, 100, "cpe:/a:openbsd:openssh:8.9p1"},
		{"product and version", asset.AssetService{Product: "Apache", Version: "2.4.49"}, scan.CPESourceConstructed, 85, "cpe:/a:apache:apache:2.4.49"},
		{"product only", asset.AssetService{Product: "nginx"}, scan.CPESourceConstructed, 60, "cpe:/a:nginx:nginx"},
		{"vendor noise stripped", asset.AssetService{Product: "Oracle Corporation MySQL", Version: "8.0.31"}, scan.CPESourceConstructed, 85, "cpe:/a:oracle_mysql:oracle_mysql:8.0.31"},
		{"nothing detected", asset.AssetService{}, scan.CPESourceNone, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cpe := ResolveCPE(&tt.service)
			assert.Equal(t, tt.source, cpe.Source)
			assert.Equal(t, tt.confidence, cpe.Confidence)
			assert.Equal(t, tt.value, cpe.Value)
		})
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"2.4.49", "2.4.49", 0},
		{"2.4.49", "2.4.50", -1},
		{"2.4.50", "2.4.49", 1},
		{"2.4", "2.4.0", 0},
		{"2.10.1", "2.9.9", 1},
		{"v1.2.3", "1.2.3", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CompareVersions(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}

func TestVersionInRange(t *testing.T) {
	assert.True(t, VersionInRange("2.4.49", "2.4.49", "2.4.50"))
	assert.True(t, VersionInRange("2.4.50", "2.4.49", "2.4.50"))
	assert.False(t, VersionInRange("2.4.48", "2.4.49", "2.4.50"))
	assert.False(t, VersionInRange("2.4.51", "2.4.49", "2.4.50"))
	assert.True(t, VersionInRange("8.0.1", "", "9.3")) // 左开区间
	assert.True(t, VersionInRange("8.0.1", "7.0", "")) // 右开区间
	assert.True(t, VersionInRange("", "", ""))         // 无版本信息只匹配全区间
	assert.False(t, VersionInRange("", "1.0", ""))
}
