package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/latchctl/internal/errors"
	"github.com/wfunc/latchctl/internal/logger"
	"github.com/wfunc/latchctl/internal/models"
	ws "github.com/wfunc/latchctl/internal/websocket"
	"go.uber.org/zap"
)

// getStatus 查询单个通道
// @Summary 查询通道状态
// @Tags Output
// @Produce json
// @Param channel query int true "通道号"
// @Success 200 {object} websocket.StateMessage
// @Failure 400 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /api/status [get]
func (r *Router) getStatus(c *gin.Context) {
	raw, ok := c.GetQuery("channel")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing channel parameter"})
		return
	}

	channel, ok := r.parseChannel(raw)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid channel"})
		return
	}

	if r.opts.Callbacks.GetOutput == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "State callback not set"})
		return
	}

	c.JSON(http.StatusOK, ws.StateMessage{
		Channel: channel,
		State:   r.opts.Callbacks.GetOutput(channel),
	})
}

// setOutput 设置单个通道并广播
// @Summary 设置通道状态
// @Description 成功后向所有 WebSocket 客户端广播 {"channel":N,"state":bool}
// @Tags Output
// @Produce json
// @Security BearerAuth
// @Param channel query int true "通道号"
// @Param state query string true "1/0 或 true/false"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /api/output [post]
func (r *Router) setOutput(c *gin.Context) {
	rawChannel, hasChannel := c.GetQuery("channel")
	rawState, hasState := c.GetQuery("state")
	if !hasChannel || !hasState {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing parameters"})
		return
	}

	channel, ok := r.parseChannel(rawChannel)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid channel"})
		return
	}
	state, ok := parseState(rawState)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid state"})
		return
	}

	if r.opts.Callbacks.SetOutput == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Control callback not set"})
		return
	}

	if err := r.opts.Callbacks.SetOutput(channel, state); err != nil {
		r.log.Warn("设置输出失败",
			zap.Int("channel", channel),
			zap.Bool("state", state),
			zap.Error(err))
		respondError(c, err)
		return
	}

	msg := ws.StateMessage{Channel: channel, State: state}
	if r.opts.Hub != nil {
		if err := r.opts.Hub.BroadcastJSON(msg); err != nil {
			r.log.Error("广播状态失败", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"channel": channel,
		"state":   state,
	})
}

// setOutputsEnabled 整组输出使能，不改变逻辑位图
// @Summary 输出使能
// @Description 驱动 OE 脚；关闭时锁存内容保留，重新使能后恢复输出
// @Tags Output
// @Produce json
// @Security BearerAuth
// @Param state query string true "1/0 或 true/false"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 501 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /api/outputs/enable [post]
func (r *Router) setOutputsEnabled(c *gin.Context) {
	raw, ok := c.GetQuery("state")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing state parameter"})
		return
	}
	enabled, ok := parseState(raw)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid state"})
		return
	}

	if r.opts.Callbacks.SetOutputsEnabled == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Output enable callback not set"})
		return
	}

	if err := r.opts.Callbacks.SetOutputsEnabled(enabled); err != nil {
		r.log.Warn("输出使能失败", zap.Bool("enabled", enabled), zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"enabled": enabled,
	})
}

// getAllStates 全部通道快照
// @Summary 全部通道状态
// @Tags Output
// @Produce json
// @Success 200 {object} ChannelStates
// @Failure 500 {object} map[string]string
// @Router /api/states [get]
func (r *Router) getAllStates(c *gin.Context) {
	if r.opts.Callbacks.AllOutputsJSON == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Callback not set"})
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(r.opts.Callbacks.AllOutputsJSON()))
}

// getInfo GET /api/info
func (r *Router) getInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"system":   r.systemName(),
		"channels": r.opts.Channels,
		"ip":       localIP(c),
		"uptime":   int64(time.Since(r.startTime).Seconds()),
	})
}

// getEvents GET /api/events?limit=N&channel=N
func (r *Router) getEvents(c *gin.Context) {
	if r.opts.Events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event journal disabled"})
		return
	}

	query := &models.OutputEventQuery{}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		query.Limit = limit
	}
	if raw, ok := c.GetQuery("channel"); ok {
		channel, valid := r.parseChannel(raw)
		if !valid {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid channel"})
			return
		}
		query.Channel = &channel
	}

	events, err := r.opts.Events.Query(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// getHardware GET /api/hardware
func (r *Router) getHardware(c *gin.Context) {
	if r.opts.HardwareInfo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Hardware not available"})
		return
	}
	c.JSON(http.StatusOK, r.opts.HardwareInfo())
}

// parseChannel 解析并校验通道号
func (r *Router) parseChannel(raw string) (int, bool) {
	channel, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || channel < 0 || channel >= r.opts.Channels {
		return 0, false
	}
	return channel, true
}

// parseState 接受 0/1 和 true/false；其他整数按非零处理
func parseState(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return n != 0, true
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b, true
	}
	return false, false
}

// respondError 按错误码返回 {"error": "..."}
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if appErr, ok := err.(*errors.AppError); ok {
		status = appErr.HTTPStatus()
		if errors.IsRetryable(err) {
			c.Header("Retry-After", "1")
		}
	}
	if status >= http.StatusInternalServerError {
		logger.LogError(err, "request_failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path))
	}
	c.JSON(status, gin.H{
		"error": err.Error(),
		"code":  errors.GetCode(err),
	})
}

// localIP 请求到达的本机地址
func localIP(c *gin.Context) string {
	if addr, ok := c.Request.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			return host
		}
	}
	host, _, err := net.SplitHostPort(c.Request.Host)
	if err != nil {
		return c.Request.Host
	}
	return host
}
