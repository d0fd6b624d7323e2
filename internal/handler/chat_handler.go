package handler

import (
	"med-rag-go/internal/model"
	"med-rag-go/internal/service"
	"med-rag-go/pkg/log"
	"med-rag-go/pkg/token"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理同步问答与 WebSocket 流式问答。
type ChatHandler struct {
	ragService service.RAGService
	jwtManager *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler 实例。
func NewChatHandler(ragService service.RAGService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		ragService: ragService,
		jwtManager: jwtManager,
	}
}

// Chat 处理 POST /chat。后端服务故障不会产生 5xx：
// 编排器把每一级故障降级为可用回答，这里始终返回 200。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载: query 为必填字段"})
		return
	}

	answer := h.ragService.Answer(c.Request.Context(), req.Query, req.Persona, req.Namespace)
	c.JSON(http.StatusOK, answer)
}

// wsQuery 是 WebSocket 连接上每条消息的结构。
type wsQuery struct {
	Query     string `json:"query"`
	Persona   string `json:"persona"`
	Namespace string `json:"namespace"`
}

// HandleWS 处理 GET /chat/ws/:token 上的流式问答连接。
// 每条入站消息是一个查询，回答以文本帧流式下发，以 [DONE] 帧结束。
func (h *ChatHandler) HandleWS(c *gin.Context) {
	tokenString := c.Param("token")
	if _, err := h.jwtManager.VerifyToken(tokenString); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的 token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Info("WebSocket 连接已建立")

	for {
		var q wsQuery
		if err := conn.ReadJSON(&q); err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}
		if q.Query == "" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"query 为必填字段"}`))
			continue
		}

		if err := h.ragService.StreamAnswer(c.Request.Context(), q.Query, q.Persona, q.Namespace, conn); err != nil {
			log.Errorf("流式回答失败: %v", err)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"服务暂时不可用，请稍后重试"}`))
		}

		// 完成帧，客户端据此结束本轮渲染
		if err := conn.WriteMessage(websocket.TextMessage, []byte("[DONE]")); err != nil {
			break
		}
	}
}
