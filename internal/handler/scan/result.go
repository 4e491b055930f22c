package scan

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"vulnmaster/internal/model/asset"
	"vulnmaster/internal/model/system"
	"vulnmaster/internal/service/jobmanager"

	"github.com/gin-gonic/gin"
)

// ResultStore 任务物化结果的读接口
type ResultStore interface {
	ListHostsByJob(ctx context.Context, jobID string) ([]*asset.AssetHost, error)
	ListVulnsByJob(ctx context.Context, jobID string) ([]*asset.AssetVuln, error)
	ListVulnsByHost(ctx context.Context, hostID uint64) ([]*asset.AssetVuln, error)
}

// ResultHandler 任务结果处理器
// running中的任务返回已落库的部分结果，随时可轮询
type ResultHandler struct {
	manager *jobmanager.Manager
	store   ResultStore
}

// NewResultHandler 创建 ResultHandler
func NewResultHandler(manager *jobmanager.Manager, store ResultStore) *ResultHandler {
	return &ResultHandler{
		manager: manager,
		store:   store,
	}
}

// GetJobHosts 获取任务发现的主机列表
func (h *ResultHandler) GetJobHosts(c *gin.Context) {
	jobID := c.Param("id")

	if !h.ensureJobExists(c, jobID) {
		return
	}

	hosts, err := h.store.ListHostsByJob(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, system.APIResponse{
			Code:    http.StatusInternalServerError,
			Status:  "error",
			Message: "Failed to list job hosts",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "Success",
		Data: gin.H{
			"hosts": hosts,
			"total": len(hosts),
		},
	})
}

// GetJobVulns 获取任务发现的漏洞列表
func (h *ResultHandler) GetJobVulns(c *gin.Context) {
	jobID := c.Param("id")

	if !h.ensureJobExists(c, jobID) {
		return
	}

	vulns, err := h.store.ListVulnsByJob(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, system.APIResponse{
			Code:    http.StatusInternalServerError,
			Status:  "error",
			Message: "Failed to list job vulnerabilities",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "Success",
		Data: gin.H{
			"vulnerabilities": vulns,
			"total":           len(vulns),
		},
	})
}

// GetHostVulns 获取单个主机的漏洞列表(跨任务的资产视图)
func (h *ResultHandler) GetHostVulns(c *gin.Context) {
	hostID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, system.APIResponse{
			Code:    http.StatusBadRequest,
			Status:  "error",
			Message: "Invalid host ID",
			Error:   err.Error(),
		})
		return
	}

	vulns, err := h.store.ListVulnsByHost(c.Request.Context(), hostID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, system.APIResponse{
			Code:    http.StatusInternalServerError,
			Status:  "error",
			Message: "Failed to list host vulnerabilities",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "Success",
		Data: gin.H{
			"vulnerabilities": vulns,
			"total":           len(vulns),
		},
	})
}

func (h *ResultHandler) ensureJobExists(c *gin.Context, jobID string) bool {
	if _, err := h.manager.Get(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, system.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, system.APIResponse{
				Code:    http.StatusNotFound,
				Status:  "error",
				Message: "Scan job not found",
				Error:   err.Error(),
			})
			return false
		}
		c.JSON(http.StatusInternalServerError, system.APIResponse{
			Code:    http.StatusInternalServerError,
			Status:  "error",
			Message: "Failed to load scan job",
			Error:   err.Error(),
		})
		return false
	}
	return true
}
