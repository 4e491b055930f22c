package scan

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	assetmodel "vulnmaster/internal/model/asset"
	"vulnmaster/internal/model/intel"
	scanmodel "vulnmaster/internal/model/scan"
	"vulnmaster/internal/pkg/database"
	assetRepo "vulnmaster/internal/repo/mysql/asset"
	intelRepo "vulnmaster/internal/repo/mysql/intel"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newResultTestEnv(t *testing.T) (*gin.Engine, *assetRepo.AssetRepository, *gorm.DB) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	assets := assetRepo.NewAssetRepository(db)
	resultHandler := NewResultHandler(nil, assets)
	intelHandler := NewIntelHandler(intelRepo.NewCVEIntelRepository(db))

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/hosts/:id/vulnerabilities", resultHandler.GetHostVulns)
	engine.GET("/cves/:id", intelHandler.GetCVE)
	return engine, assets, db
}

func TestGetHostVulns(t *testing.T) {
	engine, assets, _ := newResultTestEnv(t)
	ctx := context.Background()
	now := time.Now()

	host, err := assets.UpsertHost(ctx, &assetmodel.AssetHost{
		OrgID: 1, IP: "10.0.0.5", Responsive: true, LastSeenAt: &now,
	})
	require.NoError(t, err)

	_, err = assets.UpsertVuln(ctx, &assetmodel.AssetVuln{
		OrgID: 1, HostID: host.ID, Name: "Apache Path Traversal",
		CVE: "CVE-2021-41773", Severity: scanmodel.SeverityCritical, Score: 9.8,
		Source: "correlator", Status: "open", FirstSeenAt: &now, LastSeenAt: &now,
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/hosts/%d/vulnerabilities", host.ID), nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "CVE-2021-41773")

	// 非法ID
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/hosts/abc/vulnerabilities", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetCVEIntel(t *testing.T) {
	engine, _, db := newResultTestEnv(t)

	published := time.Date(2021, 10, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&intel.CVERecord{
		CVEID: "CVE-2021-41773", Product: "apache", Severity: "critical",
		Score: 9.8, PublishedAt: &published,
	}).Error)

	// 编号大小写不敏感
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cves/cve-2021-41773", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"product":"apache"`)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cves/CVE-0000-0000", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
