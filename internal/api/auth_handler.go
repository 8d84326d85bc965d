package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/latchctl/internal/utils"
	"go.uber.org/zap"
)

// 令牌权限范围
const (
	ScopeControl = "control"
)

// TokenRequest 令牌请求
type TokenRequest struct {
	Operator string `json:"operator"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse 令牌响应
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	Scope     string `json:"scope"`
}

// issueToken 签发控制令牌
// @Summary 获取控制令牌
// @Description 使用操作员密码换取 JWT，用于 POST /api/output 和 /ws
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body TokenRequest true "操作员密码"
// @Success 200 {object} TokenResponse
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /api/auth/token [post]
func (r *Router) issueToken(c *gin.Context) {
	if r.tokens == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Authentication disabled"})
		return
	}

	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing parameters"})
		return
	}

	ok, err := utils.VerifyPassword(req.Password, r.opts.Security.Auth.PasswordHash)
	if err != nil {
		r.log.Error("密码哈希配置错误", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication misconfigured"})
		return
	}
	if !ok {
		r.log.Warn("令牌请求密码错误", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	operator := req.Operator
	if operator == "" {
		operator = c.ClientIP()
	}

	token, expiresAt, err := r.tokens.Issue(operator, ScopeControl)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
		Scope:     ScopeControl,
	})
}
