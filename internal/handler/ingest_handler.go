// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"med-rag-go/internal/model"
	"med-rag-go/internal/service"
	"med-rag-go/pkg/log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// maxUploadSize 是单次上传的大小上限（16 MiB）。
const maxUploadSize = 16 << 20

// IngestHandler 负责处理文档上传与摄取请求。
type IngestHandler struct {
	ingestService service.IngestService
}

// NewIngestHandler 创建一个新的 IngestHandler 实例。
func NewIngestHandler(ingestService service.IngestService) *IngestHandler {
	return &IngestHandler{ingestService: ingestService}
}

// Ingest 处理 POST /ingest：接收 multipart PDF 上传并同步走完整摄取管线。
// 同步处理是为了在响应中返回真实的分块数。
func (h *IngestHandler) Ingest(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少上传文件或文件超过大小限制"})
		return
	}

	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".pdf") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "仅支持 PDF 文件"})
		return
	}

	namespace := c.PostForm("namespace")
	if namespace == "" {
		namespace = "default"
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取上传文件失败"})
		return
	}
	defer file.Close()

	chunksCreated, err := h.ingestService.IngestUpload(c.Request.Context(), fileHeader.Filename, file, fileHeader.Size, namespace)
	if err != nil {
		if errors.Is(err, service.ErrNoTextExtracted) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无法从文档中提取文本"})
			return
		}
		log.Errorf("Ingest: 摄取失败: %s: %v", fileHeader.Filename, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "文档摄取失败"})
		return
	}

	c.JSON(http.StatusOK, model.IngestResponse{
		Message:       "文档摄取成功",
		ChunksCreated: chunksCreated,
		Filename:      fileHeader.Filename,
	})
}
