/**
 * 路由管理器
 * @author: sun977
 * @date: 2026.06.22
 * @description: 组装仓储、服务和处理器，注册扫描编排API路由
 * @func: NewRouter、SetupRoutes
 */
package master

import (
	"net/http"
	"time"

	"vulnmaster/internal/adapter"
	"vulnmaster/internal/config"
	"vulnmaster/internal/correlator"
	scanHandler "vulnmaster/internal/handler/scan"
	assetRepo "vulnmaster/internal/repo/mysql/asset"
	intelRepo "vulnmaster/internal/repo/mysql/intel"
	scanRepo "vulnmaster/internal/repo/mysql/scan"
	assetService "vulnmaster/internal/service/asset"
	"vulnmaster/internal/service/jobmanager"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Router 路由管理器
type Router struct {
	engine            *gin.Engine
	middlewareManager *MiddlewareManager
	db                *gorm.DB
	manager           *jobmanager.Manager
	jobHandler        *scanHandler.ScanJobHandler
	correlateHandler  *scanHandler.CorrelateHandler
	resultHandler     *scanHandler.ResultHandler
	intelHandler      *scanHandler.IntelHandler
}

// NewRouter 创建路由管理器实例
// joblog按配置选择Redis或内存实现，由App层注入
func NewRouter(cfg *config.Config, db *gorm.DB, joblog jobmanager.JobLogStore) *Router {
	// 初始化仓储层(纯数据访问)
	jobRepo := scanRepo.NewScanJobRepository(db)
	assets := assetRepo.NewAssetRepository(db)
	intel := intelRepo.NewCVEIntelRepository(db)

	// 初始化Finding摄入服务
	ingestService := assetService.NewIngestService(assets, jobRepo)

	// 初始化CVE关联器
	cveCorrelator := correlator.NewCorrelator(&cfg.Correlator, intel, assets)

	// 初始化引擎注册表
	registry := adapter.NewRegistry(&cfg.Engines)

	// 初始化任务管理器(调度核心)
	manager := jobmanager.NewManager(&cfg.Scan, jobRepo, joblog, registry, ingestService, cveCorrelator)

	// 初始化处理器(控制器是服务集合,先初始化服务,然后服务装填成控制器)
	jobHandler := scanHandler.NewScanJobHandler(manager)
	correlateHandler := scanHandler.NewCorrelateHandler(cveCorrelator)
	resultHandler := scanHandler.NewResultHandler(manager, assets)
	intelHandler := scanHandler.NewIntelHandler(intel)

	// 初始化中间件管理器
	middlewareManager := NewMiddlewareManager()

	// 创建Gin引擎
	gin.SetMode(cfg.Server.Mode)
	engine := gin.New()

	return &Router{
		engine:            engine,
		middlewareManager: middlewareManager,
		db:                db,
		manager:           manager,
		jobHandler:        jobHandler,
		correlateHandler:  correlateHandler,
		resultHandler:     resultHandler,
		intelHandler:      intelHandler,
	}
}

// GetEngine 获取Gin引擎实例
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// GetManager 获取任务管理器实例
func (r *Router) GetManager() *jobmanager.Manager {
	return r.manager
}

// SetupRoutes 设置路由
func (r *Router) SetupRoutes() {
	// 设置全局中间件
	r.engine.Use(r.middlewareManager.GinRecoveryMiddleware())
	r.engine.Use(r.middlewareManager.GinCORSMiddleware())
	r.engine.Use(r.middlewareManager.GinLoggingMiddleware())

	// API版本路由组
	// /api/v1
	api := r.engine.Group("/api")
	v1 := api.Group("/v1")

	// 扫描编排路由
	r.setupScanRoutes(v1)

	// 健康检查路由
	r.setupHealthRoutes(api)
}

// setupScanRoutes 设置扫描编排路由
func (r *Router) setupScanRoutes(v1 *gin.RouterGroup) {
	scan := v1.Group("/scan")
	scan.Use(r.middlewareManager.GinOrgScopeMiddleware())
	{
		// 任务生命周期
		scan.POST("/jobs", r.jobHandler.SubmitJob)          // 提交扫描任务
		scan.GET("/jobs", r.jobHandler.ListJobs)            // 任务列表(分页+筛选)
		scan.GET("/jobs/:id", r.jobHandler.GetJob)          // 任务详情(进度+计数器)
		scan.POST("/jobs/:id/cancel", r.jobHandler.CancelJob) // 取消任务
		scan.GET("/jobs/:id/log", r.jobHandler.GetJobLogs)  // 增量拉取任务日志流

		// 任务物化结果(running中返回部分结果)
		scan.GET("/jobs/:id/hosts", r.resultHandler.GetJobHosts)
		scan.GET("/jobs/:id/vulnerabilities", r.resultHandler.GetJobVulns)

		// 资产/情报视图
		scan.GET("/hosts/:id/vulnerabilities", r.resultHandler.GetHostVulns)
		scan.GET("/cves/:id", r.intelHandler.GetCVE)

		// 按需触发CVE关联
		scan.POST("/services/:id/correlate", r.correlateHandler.CorrelateService)
		scan.POST("/hosts/:id/correlate", r.correlateHandler.CorrelateHost)
		scan.POST("/scans/:id/correlate", r.correlateHandler.CorrelateScan)
	}
}

// setupHealthRoutes 设置健康检查路由
func (r *Router) setupHealthRoutes(api *gin.RouterGroup) {
	api.GET("/health", func(c *gin.Context) {
		dbStatus := "ok"
		sqlDB, err := r.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			dbStatus = "unavailable"
		}

		status := http.StatusOK
		if dbStatus != "ok" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status":    dbStatus,
			"database":  dbStatus,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
}
