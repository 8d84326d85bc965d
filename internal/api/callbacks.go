package api

import (
	"encoding/json"
	"strconv"

	"github.com/wfunc/latchctl/internal/hardware"
)

// Callbacks 前端与控制器之间的全部接口
// 任一字段为空时对应的接口返回 500
type Callbacks struct {
	SetOutput      func(channel int, state bool) error
	GetOutput      func(channel int) bool
	AllOutputsJSON func() string

	// SetOutputsEnabled 驱动 OE 脚，可为空（驱动不支持时返回 ErrNotSupported）
	SetOutputsEnabled func(enabled bool) error
}

// ChannelStates 全部通道状态快照
type ChannelStates struct {
	Channels map[string]bool `json:"channels"`
}

// ControllerCallbacks 基于控制器生成回调
func ControllerCallbacks(ctrl *hardware.Controller) Callbacks {
	return Callbacks{
		SetOutput: ctrl.SetChannel,
		GetOutput: ctrl.Channel,
		AllOutputsJSON: func() string {
			return StatesJSON(ctrl.All(), ctrl.ChannelCount())
		},
		SetOutputsEnabled: func(enabled bool) error {
			if enabled {
				return ctrl.EnableOutputs()
			}
			return ctrl.DisableOutputs()
		},
	}
}

// StatesJSON 生成 {"channels":{"0":false,...}}，覆盖全部已配置通道
func StatesJSON(mask hardware.ChannelMask, count int) string {
	states := ChannelStates{Channels: make(map[string]bool, count)}
	for ch := 0; ch < count; ch++ {
		states.Channels[strconv.Itoa(ch)] = mask.Bit(ch)
	}
	data, _ := json.Marshal(states)
	return string(data)
}
