package websocket

import (
	"encoding/json"

	"go.uber.org/zap"
)

// StateMessage 单通道状态消息，上下行格式一致
type StateMessage struct {
	Channel int  `json:"channel"`
	State   bool `json:"state"`
}

// controlFrame 上行帧，字段缺失时为 nil
type controlFrame struct {
	Channel *int  `json:"channel"`
	State   *bool `json:"state"`
}

// ControlHandler 把上行 {"channel":N,"state":bool} 转为输出控制
type ControlHandler struct {
	hub       *Hub
	setOutput func(channel int, state bool) error
	snapshot  func() string
	logger    *zap.Logger
}

// NewControlHandler 创建控制处理器并挂到 Hub 上
// setOutput 为空时所有上行帧被丢弃；snapshot 为空时连接时不推送快照
func NewControlHandler(hub *Hub, setOutput func(int, bool) error, snapshot func() string) *ControlHandler {
	h := &ControlHandler{
		hub:       hub,
		setOutput: setOutput,
		snapshot:  snapshot,
		logger:    hub.logger,
	}
	hub.SetMessageHandler(h)
	hub.OnConnect(h.sendSnapshot)
	return h
}

// HandleClientMessage 处理上行消息；格式错误或类型不匹配的帧直接丢弃
func (h *ControlHandler) HandleClientMessage(client *Client, data []byte) {
	msg, ok := ParseStateMessage(data)
	if !ok {
		h.logger.Debug("丢弃无效消息", zap.String("client_id", client.ID))
		return
	}
	if h.setOutput == nil {
		return
	}

	if err := h.setOutput(msg.Channel, msg.State); err != nil {
		h.logger.Warn("WebSocket控制失败",
			zap.String("client_id", client.ID),
			zap.Int("channel", msg.Channel),
			zap.Bool("state", msg.State),
			zap.Error(err))
		return
	}

	if err := h.hub.BroadcastJSON(msg); err != nil {
		h.logger.Error("广播状态失败", zap.Error(err))
	}
}

func (h *ControlHandler) sendSnapshot(client *Client) {
	if h.snapshot == nil {
		return
	}
	select {
	case client.Send <- []byte(h.snapshot()):
	default:
	}
}

// ParseStateMessage 解析 {"channel":N,"state":bool}，两个字段都必须存在且类型正确
func ParseStateMessage(data []byte) (StateMessage, bool) {
	var f controlFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return StateMessage{}, false
	}
	if f.Channel == nil || f.State == nil {
		return StateMessage{}, false
	}
	return StateMessage{Channel: *f.Channel, State: *f.State}, true
}
