/**
 * 中间件管理器
 * @author: sun977
 * @date: 2026.06.22
 * @description: 全局中间件：访问日志、恢复、CORS、组织范围注入
 * @func: GinLoggingMiddleware、GinRecoveryMiddleware、GinCORSMiddleware、GinOrgScopeMiddleware
 */
package master

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"vulnmaster/internal/model/system"
	"vulnmaster/internal/pkg/logger"
	"vulnmaster/internal/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// MiddlewareManager 中间件管理器
type MiddlewareManager struct{}

// NewMiddlewareManager 创建中间件管理器
func NewMiddlewareManager() *MiddlewareManager {
	return &MiddlewareManager{}
}

// GinLoggingMiddleware 访问日志中间件
// 为每个请求生成request_id并记录访问日志
func (m *MiddlewareManager) GinLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = utils.GenerateRequestID()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		// 处理请求
		c.Next()

		// 记录访问日志
		orgID := c.GetUint64("org_id")
		logger.LogAccessRequest(c, startTime, requestID, orgID)

		// 错误状态码额外记录错误日志
		if statusCode := c.Writer.Status(); statusCode >= 400 {
			errorMsg := ""
			if errs := c.Errors; len(errs) > 0 {
				errorMsg = errs.String()
			}
			logger.LogError(fmt.Errorf("HTTP %d: %s", statusCode, errorMsg),
				requestID, c.ClientIP(), c.Request.URL.Path, c.Request.Method, map[string]interface{}{
					"operation":   "http_request",
					"status_code": statusCode,
				})
		}
	}
}

// GinRecoveryMiddleware panic恢复中间件
// worker协程有自己的恢复逻辑，这里只兜HTTP请求
func (m *MiddlewareManager) GinRecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.LogSystemEvent("http", "panic_recovered", fmt.Sprintf("%v", r), logrus.ErrorLevel, map[string]interface{}{
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				})
				c.AbortWithStatusJSON(http.StatusInternalServerError, system.APIResponse{
					Code:    http.StatusInternalServerError,
					Status:  "error",
					Message: "Internal server error",
				})
			}
		}()
		c.Next()
	}
}

// GinCORSMiddleware CORS中间件
func (m *MiddlewareManager) GinCORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 设置CORS头
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, X-Org-ID, X-Request-ID")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		// 处理预检请求
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// GinOrgScopeMiddleware 组织范围中间件
// 从X-Org-ID请求头解析组织归属，任务的提交和列表查询都按组织隔离
func (m *MiddlewareManager) GinOrgScopeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("X-Org-ID")
		if header == "" {
			c.JSON(http.StatusBadRequest, system.APIResponse{
				Code:    http.StatusBadRequest,
				Status:  "error",
				Message: "Missing X-Org-ID header",
			})
			c.Abort()
			return
		}

		orgID, err := strconv.ParseUint(header, 10, 64)
		if err != nil || orgID == 0 {
			c.JSON(http.StatusBadRequest, system.APIResponse{
				Code:    http.StatusBadRequest,
				Status:  "error",
				Message: "Invalid X-Org-ID header",
			})
			c.Abort()
			return
		}

		c.Set("org_id", orgID)
		c.Next()
	}
}
