/**
 * 应用程序
 * @author: sun977
 * @date: 2026.06.22
 * @description: 按配置装配存储后端和路由器，管理调度器生命周期
 * @func: NewApp、Start、Stop
 */
package master

import (
	"context"
	"fmt"

	"vulnmaster/internal/config"
	"vulnmaster/internal/pkg/database"
	memoryRepo "vulnmaster/internal/repo/memory"
	redisRepo "vulnmaster/internal/repo/redis"
	"vulnmaster/internal/service/jobmanager"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// App 应用程序结构体
type App struct {
	cfg         *config.Config
	db          *gorm.DB
	redisClient *redis.Client
	router      *Router
}

// NewApp 创建新的应用程序实例
// database.store=memory时使用进程内SQLite，适合单机部署和测试
func NewApp(cfg *config.Config) (*App, error) {
	// 按配置选择任务/资产存储
	var db *gorm.DB
	var err error
	switch cfg.Database.Store {
	case "memory":
		db, err = database.NewMemoryConnection()
	default:
		db, err = database.NewMySQLConnection(&cfg.Database.MySQL)
		if err == nil {
			err = database.Migrate(db)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	// 按配置选择任务日志流存储
	var redisClient *redis.Client
	var joblog jobmanager.JobLogStore
	switch cfg.JobLog.Store {
	case "redis":
		redisClient, err = database.NewRedisConnection(&cfg.Database.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		joblog = redisRepo.NewJobLogRepository(redisClient, int(cfg.JobLog.MaxEntries))
	default:
		joblog = memoryRepo.NewJobLogRepository(int(cfg.JobLog.MaxEntries))
	}

	// 初始化路由器
	router := NewRouter(cfg, db, joblog)
	router.SetupRoutes()

	return &App{
		cfg:         cfg,
		db:          db,
		redisClient: redisClient,
		router:      router,
	}, nil
}

// GetConfig 获取应用配置
func (a *App) GetConfig() *config.Config {
	return a.cfg
}

// GetRouter 获取路由器实例
func (a *App) GetRouter() *Router {
	return a.router
}

// Start 启动应用程序
// 启动worker池、超时回收器，并把库里残留的queued任务重新入队
func (a *App) Start(ctx context.Context) error {
	return a.router.GetManager().Start(ctx)
}

// Stop 停止应用程序
// 先停调度器让在途worker收尾，再关闭存储连接
func (a *App) Stop() error {
	a.router.GetManager().Stop()

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			return fmt.Errorf("failed to close redis: %w", err)
		}
	}

	sqlDB, err := a.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql db: %w", err)
	}
	return sqlDB.Close()
}
