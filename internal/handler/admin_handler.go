package handler

import (
	"med-rag-go/internal/service"
	"med-rag-go/pkg/log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责处理所有与运维管理相关的 API 请求。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// Health 处理 GET /admin/health：逐个探测依赖组件。
func (h *AdminHandler) Health(c *gin.Context) {
	status := h.adminService.Health(c.Request.Context())

	healthy := true
	for _, s := range status {
		if s != "ok" {
			healthy = false
			break
		}
	}

	overall := "ok"
	httpStatus := http.StatusOK
	if !healthy {
		overall = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{"status": overall, "components": status})
}

// StorageInfo 处理 GET /admin/storage-info。
func (h *AdminHandler) StorageInfo(c *gin.Context) {
	namespace := c.DefaultQuery("namespace", "default")

	info, err := h.adminService.StorageInfo(c.Request.Context(), namespace)
	if err != nil {
		log.Error("StorageInfo: 获取存储信息失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取存储信息失败"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// ClearRequest 定义了清空命名空间 API 的请求体结构。
type ClearRequest struct {
	Namespace string `json:"namespace" binding:"required"`
}

// Clear 处理 POST /admin/clear：清空指定命名空间的全部数据。
func (h *AdminHandler) Clear(c *gin.Context) {
	var req ClearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载: namespace 为必填字段"})
		return
	}

	if err := h.adminService.Clear(c.Request.Context(), req.Namespace); err != nil {
		log.Error("Clear: 清空命名空间失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "清空命名空间失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "命名空间已清空", "namespace": req.Namespace})
}

// ReprocessRequest 定义了重处理 API 的请求体结构。
type ReprocessRequest struct {
	Namespace string `json:"namespace" binding:"required"`
}

// Reprocess 处理 POST /admin/reprocess：为命名空间下的每个存储对象
// 投递一个异步重处理任务。
func (h *AdminHandler) Reprocess(c *gin.Context) {
	var req ReprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载: namespace 为必填字段"})
		return
	}

	enqueued, err := h.adminService.Reprocess(c.Request.Context(), req.Namespace)
	if err != nil {
		log.Error("Reprocess: 投递重处理任务失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "投递重处理任务失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "重处理任务已投递", "tasks_enqueued": enqueued})
}
