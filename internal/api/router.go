package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/latchctl/internal/config"
	"github.com/wfunc/latchctl/internal/middleware"
	"github.com/wfunc/latchctl/internal/models"
	"github.com/wfunc/latchctl/internal/utils"
	ws "github.com/wfunc/latchctl/internal/websocket"
	"go.uber.org/zap"
)

// EventLister 输出记录查询
type EventLister interface {
	Query(ctx context.Context, query *models.OutputEventQuery) ([]*models.OutputEvent, error)
}

// Options 路由依赖
type Options struct {
	Server    config.ServerConfig
	WebSocket config.WebSocketConfig
	Security  config.SecurityConfig

	Callbacks Callbacks
	Channels  int
	Hub       *ws.Hub

	Events       EventLister                     // 可选，未启用数据库时为空
	Health       func(ctx context.Context) error // 可选，附加健康检查
	HardwareInfo func() map[string]interface{}   // 可选，硬件统计

	Logger *zap.Logger
}

// Router API路由器
type Router struct {
	engine    *gin.Engine
	opts      Options
	auth      *middleware.AuthMiddleware
	tokens    *utils.TokenManager
	wsHandler *WebSocketHandler
	startTime time.Time
	log       *zap.Logger
}

// NewRouter 创建路由器
// Hub 的消息处理器在这里挂载，调用方需在之后启动 Hub.Run
func NewRouter(opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	engine := gin.New()

	// 全局中间件
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestLogger())
	if opts.Server.EnableCORS {
		engine.Use(middleware.CORS())
	}
	if opts.Security.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(opts.Security.RateLimit.RequestsPerMinute, opts.Security.RateLimit.Burst)
		engine.Use(limiter.Middleware())
	}

	var tokens *utils.TokenManager
	if opts.Security.Auth.Enabled {
		tokens = utils.NewTokenManager(opts.Security.Auth.Secret,
			time.Duration(opts.Security.Auth.TokenHours)*time.Hour)
	}

	r := &Router{
		engine:    engine,
		opts:      opts,
		auth:      middleware.NewAuthMiddleware(tokens),
		tokens:    tokens,
		startTime: time.Now(),
		log:       opts.Logger,
	}

	if opts.Hub != nil {
		ws.NewControlHandler(opts.Hub, opts.Callbacks.SetOutput, opts.Callbacks.AllOutputsJSON)
		r.wsHandler = NewWebSocketHandler(opts.Hub, opts.WebSocket, opts.Logger)
	}

	r.setupRoutes()
	return r
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)

	api := r.engine.Group("/api")
	{
		api.GET("/status", r.getStatus)
		api.GET("/states", r.getAllStates)
		api.GET("/info", r.getInfo)
		api.GET("/events", r.getEvents)
		api.GET("/hardware", r.getHardware)
		api.POST("/auth/token", r.issueToken)

		control := api.Group("")
		control.Use(r.auth.RequireAuth(), r.auth.RequireScope(ScopeControl))
		{
			control.POST("/output", r.setOutput)
			control.POST("/outputs/enable", r.setOutputsEnabled)
		}
	}

	if r.wsHandler != nil {
		path := r.opts.WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		r.engine.GET(path, r.auth.RequireAuth(), r.auth.RequireScope(ScopeControl), r.wsHandler.Serve)
	}

	registerOpenAPIRoutes(r.engine, r.systemName())
	registerSwaggerRoutes(r.engine)

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	if r.opts.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := r.opts.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": int64(time.Since(r.startTime).Seconds()),
	})
}

func (r *Router) systemName() string {
	if r.opts.Server.SystemName == "" {
		return "latchctl"
	}
	return r.opts.Server.SystemName
}

// Handler 返回 http.Handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

// GetEngine 获取Gin引擎，用于注册额外路由和测试
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
