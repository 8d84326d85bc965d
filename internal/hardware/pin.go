package hardware

import (
	"fmt"
	"sync"
)

// PinID GPIO 引脚编号（gpiochip 上的 line offset）
type PinID int

// NoPin 未连接
const NoPin PinID = -1

// Valid 是否为已连接的引脚
func (p PinID) Valid() bool {
	return p >= 0
}

// PinDriver GPIO 抽象，驱动只通过它操作引脚
type PinDriver interface {
	// ConfigureOutput 配置为输出
	ConfigureOutput(pin PinID) error
	// SetPin 设置电平，true 为高电平
	SetPin(pin PinID, high bool) error
}

// PinEvent 一次引脚电平写入
type PinEvent struct {
	Pin  PinID
	High bool
}

func (e PinEvent) String() string {
	level := "LOW"
	if e.High {
		level = "HIGH"
	}
	return fmt.Sprintf("%d=%s", e.Pin, level)
}

// RecordingPins 内存引脚，记录每一次写入（模拟模式和测试使用）
type RecordingPins struct {
	mu         sync.Mutex
	configured map[PinID]bool
	levels     map[PinID]bool
	events     []PinEvent

	// FailOn 写入该引脚时返回错误，用于模拟硬件故障
	FailOn PinID
}

// NewRecordingPins 创建内存引脚
func NewRecordingPins() *RecordingPins {
	return &RecordingPins{
		configured: make(map[PinID]bool),
		levels:     make(map[PinID]bool),
		FailOn:     NoPin,
	}
}

// ConfigureOutput 实现 PinDriver
func (r *RecordingPins) ConfigureOutput(pin PinID) error {
	if !pin.Valid() {
		return fmt.Errorf("invalid pin %d", pin)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configured[pin] = true
	return nil
}

// SetPin 实现 PinDriver
func (r *RecordingPins) SetPin(pin PinID, high bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.configured[pin] {
		return fmt.Errorf("pin %d not configured as output", pin)
	}
	if r.FailOn.Valid() && pin == r.FailOn {
		return fmt.Errorf("pin %d write failed", pin)
	}
	r.levels[pin] = high
	r.events = append(r.events, PinEvent{Pin: pin, High: high})
	return nil
}

// Level 当前电平
func (r *RecordingPins) Level(pin PinID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.levels[pin]
}

// Configured 是否已配置为输出
func (r *RecordingPins) Configured(pin PinID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.configured[pin]
}

// Events 返回记录的副本
func (r *RecordingPins) Events() []PinEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PinEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Reset 清空记录（保留引脚配置和电平）
func (r *RecordingPins) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
