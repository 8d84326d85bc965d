package hardware

import (
	"fmt"
	"time"
)

// MaxChannels 单个控制器支持的最大通道数
const MaxChannels = 32

// ChannelMask 通道位图，bit i 对应通道 i 的逻辑状态
type ChannelMask uint32

// FullMask 返回 count 个通道全开的掩码
func FullMask(count int) ChannelMask {
	if count >= MaxChannels {
		return ChannelMask(0xFFFFFFFF)
	}
	if count <= 0 {
		return 0
	}
	return ChannelMask(1)<<uint(count) - 1
}

// Bit 读取第 ch 位
func (m ChannelMask) Bit(ch int) bool {
	if ch < 0 || ch >= MaxChannels {
		return false
	}
	return m&(1<<uint(ch)) != 0
}

// String 以 0x%08X 格式输出
func (m ChannelMask) String() string {
	return fmt.Sprintf("0x%08X", uint32(m))
}

// Polarity 输出极性
type Polarity int

const (
	// ActiveHigh 逻辑ON => 高电平
	ActiveHigh Polarity = iota
	// ActiveLow 逻辑ON => 低电平（常见继电器模块）
	ActiveLow
)

// String 配置文件中的名称
func (p Polarity) String() string {
	switch p {
	case ActiveHigh:
		return "active_high"
	case ActiveLow:
		return "active_low"
	default:
		return fmt.Sprintf("polarity(%d)", int(p))
	}
}

// Valid 是否为已知极性
func (p Polarity) Valid() bool {
	return p == ActiveHigh || p == ActiveLow
}

// ParsePolarity 解析极性字符串，只认 String() 的两种写法，与配置校验一致
func ParsePolarity(s string) (Polarity, error) {
	switch s {
	case ActiveHigh.String():
		return ActiveHigh, nil
	case ActiveLow.String():
		return ActiveLow, nil
	default:
		return ActiveHigh, fmt.Errorf("unknown polarity %q", s)
	}
}

// Physical 计算交给驱动的物理字（只保留 count 位）
func Physical(mask ChannelMask, polarity Polarity, count int) ChannelMask {
	if polarity == ActiveLow {
		return ^mask & FullMask(count)
	}
	return mask & FullMask(count)
}

// Operation 状态变化的来源操作
type Operation string

const (
	OpInitialize  Operation = "initialize"
	OpSetChannel  Operation = "set_channel"
	OpToggle      Operation = "toggle_channel"
	OpSetAll      Operation = "set_all"
	OpSetPolarity Operation = "set_polarity"
)

// Change 一次成功提交后的状态变化
type Change struct {
	Operation Operation
	Channel   int // 单通道操作时有效，否则为 -1
	OldMask   ChannelMask
	NewMask   ChannelMask
	Physical  ChannelMask
	Polarity  Polarity
	Source    string
	Time      time.Time
}

// Status 控制器调试快照
type Status struct {
	Driver       string          `json:"driver"`
	Ready        bool            `json:"ready"`
	ChannelCount int             `json:"channel_count"`
	Polarity     string          `json:"polarity"`
	Mask         string          `json:"mask"`
	LastPhysical string          `json:"last_physical"`
	Channels     map[string]bool `json:"channels"`
	Commits      uint64          `json:"commits"`
	Errors       uint64          `json:"errors"`
	LockTimeouts uint64          `json:"lock_timeouts"`
	LastError    string          `json:"last_error,omitempty"`
	LastCommit   time.Time       `json:"last_commit,omitempty"`
}
