package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/wfunc/latchctl/internal/config"
	ws "github.com/wfunc/latchctl/internal/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler WebSocket处理器
type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
	options  ws.Options
	logger   *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(hub *ws.Hub, cfg config.WebSocketConfig, logger *zap.Logger) *WebSocketHandler {
	readSize, writeSize := cfg.ReadBufferSize, cfg.WriteBufferSize
	if readSize <= 0 {
		readSize = 1024
	}
	if writeSize <= 0 {
		writeSize = 1024
	}

	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readSize,
			WriteBufferSize: writeSize,
			CheckOrigin: func(r *http.Request) bool {
				// 控制页面可能由其他主机提供
				return true
			},
		},
		options: ws.OptionsFromConfig(cfg),
		logger:  logger,
	}
}

// Serve 升级连接并启动读写协程；连接建立后 Hub 推送一次全部状态
func (h *WebSocketHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败",
			zap.String("ip", c.ClientIP()),
			zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn, h.options)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
