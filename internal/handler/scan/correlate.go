package scan

import (
	"net/http"
	"strconv"

	"vulnmaster/internal/correlator"
	"vulnmaster/internal/model/system"
	"vulnmaster/internal/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CorrelateHandler CVE关联处理器
// 按需触发关联：单服务、单主机或整个任务
type CorrelateHandler struct {
	correlator *correlator.Correlator
}

// NewCorrelateHandler 创建 CorrelateHandler
func NewCorrelateHandler(c *correlator.Correlator) *CorrelateHandler {
	return &CorrelateHandler{
		correlator: c,
	}
}

// CorrelateService 对单个服务执行关联，同步返回结果
func (h *CorrelateHandler) CorrelateService(c *gin.Context) {
	idStr := c.Param("id")
	serviceID, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, system.APIResponse{
			Code:    http.StatusBadRequest,
			Status:  "error",
			Message: "Invalid service ID",
			Error:   err.Error(),
		})
		return
	}

	result, err := h.correlator.CorrelateService(c.Request.Context(), serviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, system.APIResponse{
			Code:    http.StatusInternalServerError,
			Status:  "error",
			Message: "Failed to correlate service",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "Success",
		Data:    result,
	})
}

// CorrelateHost 对主机的全部服务执行关联
// 单个服务失败不中断，错误聚合在批量结果里
func (h *CorrelateHandler) CorrelateHost(c *gin.Context) {
	idStr := c.Param("id")
	hostID, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, system.APIResponse{
			Code:    http.StatusBadRequest,
			Status:  "error",
			Message: "Invalid host ID",
			Error:   err.Error(),
		})
		return
	}

	batch, err := h.correlator.CorrelateHost(c.Request.Context(), hostID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, system.APIResponse{
			Code:    http.StatusInternalServerError,
			Status:  "error",
			Message: "Failed to correlate host",
			Error:   err.Error(),
		})
		return
	}

	logger.WithFields(map[string]interface{}{
		"path":      c.Request.URL.String(),
		"operation": "correlate_host",
		"option":    "Correlator.CorrelateHost",
		"func_name": "handler.scan.correlate.CorrelateHost",
		"host_id":   hostID,
	}).Info("主机CVE关联完成")

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "Success",
		Data:    batch,
	})
}

// CorrelateScan 对任务涉及的全部服务执行关联
func (h *CorrelateHandler) CorrelateScan(c *gin.Context) {
	jobID := c.Param("id")

	batch, err := h.correlator.CorrelateScan(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, system.APIResponse{
			Code:    http.StatusInternalServerError,
			Status:  "error",
			Message: "Failed to correlate scan",
			Error:   err.Error(),
		})
		return
	}

	logger.WithFields(map[string]interface{}{
		"path":      c.Request.URL.String(),
		"operation": "correlate_scan",
		"option":    "Correlator.CorrelateScan",
		"func_name": "handler.scan.correlate.CorrelateScan",
		"job_id":    jobID,
	}).Info("任务CVE关联完成")

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "Success",
		Data:    batch,
	})
}
