package websocket

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/latchctl/internal/config"
	"github.com/wfunc/latchctl/internal/logger"
	"go.uber.org/zap"
)

// 错误定义
var (
	ErrClientNotFound = errors.New("客户端未找到")
	ErrSendBufferFull = errors.New("发送缓冲区已满")
)

// Options 连接参数
type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

// DefaultOptions 默认连接参数
func DefaultOptions() Options {
	return Options{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second, // 必须小于 PongWait
		MaxMessageSize: 4096,
	}
}

// OptionsFromConfig 从配置生成连接参数
func OptionsFromConfig(cfg config.WebSocketConfig) Options {
	opts := DefaultOptions()
	if cfg.WriteTimeout > 0 {
		opts.WriteWait = cfg.WriteTimeout
	}
	if cfg.PongTimeout > 0 {
		opts.PongWait = cfg.PongTimeout
	}
	if cfg.PingInterval > 0 && cfg.PingInterval < opts.PongWait {
		opts.PingPeriod = cfg.PingInterval
	} else {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	if cfg.MaxMessageSize > 0 {
		opts.MaxMessageSize = cfg.MaxMessageSize
	}
	return opts
}

// Client WebSocket客户端
type Client struct {
	ID         string          // 客户端ID
	RemoteAddr string          // 对端地址
	Hub        *Hub            // Hub引用
	Conn       *websocket.Conn // WebSocket连接
	Send       chan []byte     // 发送通道

	opts Options
}

// NewClient 创建新客户端
func NewClient(hub *Hub, conn *websocket.Conn, opts Options) *Client {
	c := &Client{
		ID:   uuid.New().String(),
		Hub:  hub,
		Conn: conn,
		Send: make(chan []byte, 64),
		opts: opts,
	}
	if conn != nil {
		c.RemoteAddr = conn.RemoteAddr().String()
	}
	return c
}

// ReadPump 读取消息
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.opts.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.Hub.logger.Error("WebSocket读取错误",
					zap.String("client_id", c.ID),
					zap.Error(err))
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		logger.LogWebSocketMessage("receive", c.ID, string(message))
		if c.Hub.messageHandler != nil {
			c.Hub.messageHandler.HandleClientMessage(c, message)
		}
	}
}

// WritePump 写入消息，每条消息单独一帧
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				// Hub关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendRaw 发送原始消息给该客户端
func (c *Client) SendRaw(data []byte) error {
	return c.Hub.SendToClient(c.ID, data)
}
