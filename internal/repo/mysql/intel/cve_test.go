package intel

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"vulnmaster/internal/model/intel"
	"vulnmaster/internal/pkg/database"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func TestLookupByPlatformOrdering(t *testing.T) {
	db := newTestDB(t)
	repo := NewCVEIntelRepository(db)
	ctx := context.Background()

	early := time.Date(2019, 4, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2021, 10, 5, 0, 0, 0, 0, time.UTC)

	records := []*intel.CVERecord{
		{CVEID: "CVE-2019-0211", Product: "apache", Severity: "high", Score: 7.8, PublishedAt: &early},
		{CVEID: "CVE-2021-41773", Product: "apache", Severity: "critical", Score: 9.8, PublishedAt: &late},
		{CVEID: "CVE-2021-42013", Product: "apache", Severity: "critical", Score: 9.8, PublishedAt: &late},
		{CVEID: "CVE-2023-38408", Product: "openssh", Severity: "critical", Score: 9.8, PublishedAt: &late},
	}
	for _, record := range records {
		require.NoError(t, db.Create(record).Error)
	}

	got, err := repo.LookupByPlatform(ctx, "apache", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// 评分降序，同分按发布时间降序，再按CVE编号升序
	assert.Equal(t, "CVE-2021-41773", got[0].CVEID)
	assert.Equal(t, "CVE-2021-42013", got[1].CVEID)
	assert.Equal(t, "CVE-2019-0211", got[2].CVEID)

	got, err = repo.LookupByPlatform(ctx, "apache", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = repo.LookupByPlatform(ctx, "nginx", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetByCVEID(t *testing.T) {
	db := newTestDB(t)
	repo := NewCVEIntelRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&intel.CVERecord{CVEID: "CVE-2021-41773", Product: "apache"}).Error)

	record, err := repo.GetByCVEID(ctx, "CVE-2021-41773")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "apache", record.Product)

	record, err = repo.GetByCVEID(ctx, "CVE-0000-0000")
	require.NoError(t, err)
	assert.Nil(t, record)
}
