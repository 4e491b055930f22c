/**
 * 扫描任务处理器
 * @author: sun977
 * @date: 2026.06.20
 * @description: 扫描任务的HTTP入口：提交、查询、取消、日志流拉取
 * @func: SubmitJob、GetJob、ListJobs、CancelJob、GetJobLogs
 */
package scan

import (
	"errors"
	"net/http"
	"strconv"

	scanmodel "vulnmaster/internal/model/scan"
	"vulnmaster/internal/model/system"
	"vulnmaster/internal/pkg/logger"
	"vulnmaster/internal/service/jobmanager"

	"github.com/gin-gonic/gin"
)

// ScanJobHandler 扫描任务处理器
type ScanJobHandler struct {
	manager *jobmanager.Manager
}

// NewScanJobHandler 创建 ScanJobHandler
func NewScanJobHandler(manager *jobmanager.Manager) *ScanJobHandler {
	return &ScanJobHandler{
		manager: manager,
	}
}

// SubmitJob 提交扫描任务
func (h *ScanJobHandler) SubmitJob(c *gin.Context) {
	var req scanmodel.SubmitScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, system.APIResponse{
			Code:    http.StatusBadRequest,
			Status:  "error",
			Message: "Invalid request body",
			Error:   err.Error(),
		})
		return
	}

	orgID := c.GetUint64("org_id")
	job, err := h.manager.Submit(c.Request.Context(), orgID, &req)
	if err != nil {
		h.writeSubmitError(c, err)
		return
	}

	logger.WithFields(map[string]interface{}{
		"path":      c.Request.URL.String(),
		"operation": "submit_scan_job",
		"option":    "Manager.Submit",
		"func_name": "handler.scan.job.SubmitJob",
		"job_id":    job.JobID,
	}).Info("扫描任务提交成功")

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "Scan job submitted successfully",
		Data:    job,
	})
}

// GetJob 获取任务详情(含进度和计数器)
func (h *ScanJobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("id")

	job, err := h.manager.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, system.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, system.APIResponse{
				Code:    http.StatusNotFound,
				Status:  "error",
				Message: "Scan job not found",
				Error:   err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, system.APIResponse{
			Code:    http.StatusInternalServerError,
			Status:  "error",
			Message: "Failed to get scan job",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "Success",
		Data:    job,
	})
}

// ListJobs 获取任务列表(分页 + 状态/类型筛选)
func (h *ScanJobHandler) ListJobs(c *gin.Context) {
	var req scanmodel.ListScanJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, system.APIResponse{
			Code:    http.StatusBadRequest,
			Status:  "error",
			Message: "Invalid query parameters",
			Error:   err.Error(),
		})
		return
	}

	orgID := c.GetUint64("org_id")
	jobs, total, err := h.manager.List(c.Request.Context(), orgID, &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, system.APIResponse{
			Code:    http.StatusInternalServerError,
			Status:  "error",
			Message: "Failed to list scan jobs",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "Success",
		Data: system.PageResult{
			List:     jobs,
			Total:    total,
			Page:     req.Page,
			PageSize: req.PageSize,
		},
	})
}

// CancelJob 取消任务
// queued任务立即终止，running任务由worker协作式停止
func (h *ScanJobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("id")

	err := h.manager.Cancel(c.Request.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, system.ErrJobNotFound):
			c.JSON(http.StatusNotFound, system.APIResponse{
				Code:    http.StatusNotFound,
				Status:  "error",
				Message: "Scan job not found",
				Error:   err.Error(),
			})
		case errors.Is(err, system.ErrJobTerminal):
			// 取消终态任务是幂等空操作，不算错误
			c.JSON(http.StatusOK, system.APIResponse{
				Code:    http.StatusOK,
				Status:  "success",
				Message: "Scan job already finished, nothing to cancel",
			})
		default:
			c.JSON(http.StatusInternalServerError, system.APIResponse{
				Code:    http.StatusInternalServerError,
				Status:  "error",
				Message: "Failed to cancel scan job",
				Error:   err.Error(),
			})
		}
		return
	}

	logger.WithFields(map[string]interface{}{
		"path":      c.Request.URL.String(),
		"operation": "cancel_scan_job",
		"option":    "Manager.Cancel",
		"func_name": "handler.scan.job.CancelJob",
		"job_id":    jobID,
	}).Info("扫描任务取消请求已受理")

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "Cancel request accepted",
	})
}

// GetJobLogs 增量拉取任务日志流
// offset为客户端已读条数，轮询时传上次返回的总数即可只拿增量
func (h *ScanJobHandler) GetJobLogs(c *gin.Context) {
	jobID := c.Param("id")

	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if offset < 0 {
		offset = 0
	}

	entries, err := h.manager.Logs(c.Request.Context(), jobID, offset, limit)
	if err != nil {
		if errors.Is(err, system.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, system.APIResponse{
				Code:    http.StatusNotFound,
				Status:  "error",
				Message: "Scan job not found",
				Error:   err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, system.APIResponse{
			Code:    http.StatusInternalServerError,
			Status:  "error",
			Message: "Failed to get job logs",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "Success",
		Data: gin.H{
			"entries": entries,
			"offset":  offset,
			"count":   len(entries),
		},
	})
}

// writeSubmitError 提交失败的错误分类响应
func (h *ScanJobHandler) writeSubmitError(c *gin.Context, err error) {
	var ve *system.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, system.APIResponse{
			Code:    http.StatusBadRequest,
			Status:  "error",
			Message: "Validation failed",
			Error:   err.Error(),
			Errors:  []system.ValidationError{*ve},
		})
	case errors.Is(err, system.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, system.APIResponse{
			Code:    http.StatusServiceUnavailable,
			Status:  "error",
			Message: "Scan queue is full, try again later",
			Error:   err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, system.APIResponse{
			Code:    http.StatusInternalServerError,
			Status:  "error",
			Message: "Failed to submit scan job",
			Error:   err.Error(),
		})
	}
}
