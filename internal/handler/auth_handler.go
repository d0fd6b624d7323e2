package handler

import (
	"crypto/subtle"
	"med-rag-go/internal/config"
	"med-rag-go/pkg/log"
	"med-rag-go/pkg/token"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AuthHandler 负责签发管理接口使用的 JWT。
type AuthHandler struct {
	jwtManager *token.JWTManager
	jwtCfg     config.JWTConfig
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(jwtManager *token.JWTManager, jwtCfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{
		jwtManager: jwtManager,
		jwtCfg:     jwtCfg,
	}
}

// TokenRequest 定义了签发 token API 的请求体结构。
type TokenRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Token 处理 POST /auth/token：校验配置中的管理员凭据并签发 JWT。
func (h *AuthHandler) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	// 恒定时间比较，避免凭据探测
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.jwtCfg.AdminUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.jwtCfg.AdminPassword)) == 1
	if !userOK || !passOK {
		log.Warnf("Token: 管理员登录失败: %s", req.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "用户名或密码错误"})
		return
	}

	tokenString, err := h.jwtManager.GenerateToken(req.Username, "ADMIN")
	if err != nil {
		log.Error("Token: 签发 token 失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "签发 token 失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": tokenString, "expires_in_hours": h.jwtCfg.ExpireHours})
}
