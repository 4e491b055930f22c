package scan

import (
	"context"
	"net/http"
	"strings"

	"vulnmaster/internal/model/intel"
	"vulnmaster/internal/model/system"

	"github.com/gin-gonic/gin"
)

// IntelStore CVE情报缓存的读接口
type IntelStore interface {
	GetByCVEID(ctx context.Context, cveID string) (*intel.CVERecord, error)
}

// IntelHandler CVE情报查询处理器
// 给运营人员确认情报缓存里是否有某个CVE
type IntelHandler struct {
	store IntelStore
}

// NewIntelHandler 创建 IntelHandler
func NewIntelHandler(store IntelStore) *IntelHandler {
	return &IntelHandler{
		store: store,
	}
}

// GetCVE 按CVE编号查询情报记录
func (h *IntelHandler) GetCVE(c *gin.Context) {
	cveID := strings.ToUpper(strings.TrimSpace(c.Param("id")))

	record, err := h.store.GetByCVEID(c.Request.Context(), cveID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, system.APIResponse{
			Code:    http.StatusInternalServerError,
			Status:  "error",
			Message: "Failed to query CVE intel",
			Error:   err.Error(),
		})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, system.APIResponse{
			Code:    http.StatusNotFound,
			Status:  "error",
			Message: "CVE not found in intel cache",
		})
		return
	}

	c.JSON(http.StatusOK, system.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "Success",
		Data:    record,
	})
}
