package database

import (
	"fmt"

	"vulnmaster/internal/model/asset"
	"vulnmaster/internal/model/intel"
	"vulnmaster/internal/model/scan"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewMemoryConnection 创建内存SQLite连接(单实例部署和测试用)
// 内存库每次进程启动都是空的，这里直接建表
func NewMemoryConnection() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate 建表/补字段
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&scan.ScanJob{},
		&asset.AssetHost{},
		&asset.AssetService{},
		&asset.AssetVuln{},
		&asset.ScanJobHost{},
		&intel.CVERecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
