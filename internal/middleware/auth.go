package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/latchctl/internal/errors"
	"github.com/wfunc/latchctl/internal/utils"
)

// 上下文键
const (
	ContextSubject = "subject"
	ContextScope   = "scope"
	ContextToken   = "token"
)

// AuthMiddleware JWT认证中间件
type AuthMiddleware struct {
	tokens  *utils.TokenManager
	enabled bool
}

// NewAuthMiddleware 创建认证中间件；tokens 为空时不做认证
func NewAuthMiddleware(tokens *utils.TokenManager) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:  tokens,
		enabled: tokens != nil,
	}
}

// Enabled 是否启用认证
func (m *AuthMiddleware) Enabled() bool {
	return m.enabled
}

// RequireAuth 需要认证的中间件
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			abortWithError(c, errors.New(errors.ErrAuthentication, "缺少认证令牌"))
			return
		}

		claims, err := m.tokens.Validate(token)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Set(ContextSubject, claims.Subject)
		c.Set(ContextScope, claims.Scope)
		c.Set(ContextToken, token)
		c.Next()
	}
}

// RequireScope 需要特定权限范围
func (m *AuthMiddleware) RequireScope(scopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Next()
			return
		}

		scope, _ := GetScope(c)
		for _, s := range scopes {
			if scope == s {
				c.Next()
				return
			}
		}
		abortWithError(c, errors.New(errors.ErrAuthorization, "权限不足"))
	}
}

// extractToken 从请求中提取令牌
func extractToken(c *gin.Context) string {
	// 1. Authorization: Bearer <token>
	if bearer := c.GetHeader("Authorization"); bearer != "" {
		parts := strings.SplitN(bearer, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	// 2. X-Access-Token
	if token := c.GetHeader("X-Access-Token"); token != "" {
		return token
	}

	// 3. Query参数（浏览器 WebSocket 无法设置请求头）
	return c.Query("token")
}

// GetSubject 从上下文获取令牌主体
func GetSubject(c *gin.Context) (string, bool) {
	if v, exists := c.Get(ContextSubject); exists {
		s, ok := v.(string)
		return s, ok
	}
	return "", false
}

// GetScope 从上下文获取权限范围
func GetScope(c *gin.Context) (string, bool) {
	if v, exists := c.Get(ContextScope); exists {
		s, ok := v.(string)
		return s, ok
	}
	return "", false
}

// abortWithError 以 {"error": "..."} 格式中断请求
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if appErr, ok := err.(*errors.AppError); ok {
		status = appErr.HTTPStatus()
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": err.Error(),
		"code":  errors.GetCode(err),
	})
}
