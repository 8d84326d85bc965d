//go:build linux

package hardware

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
	"github.com/wfunc/latchctl/internal/logger"
	"go.uber.org/zap"
)

// ChipPins 基于 Linux GPIO 字符设备的引脚实现
type ChipPins struct {
	chip     string
	consumer string

	mu    sync.Mutex
	lines map[PinID]*gpiocdev.Line
	log   *zap.Logger
}

// NewChipPins 创建 gpiochip 引脚驱动，引脚在 ConfigureOutput 时才申请
func NewChipPins(chip, consumer string) (*ChipPins, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	if consumer == "" {
		consumer = "latchctl"
	}
	return &ChipPins{
		chip:     chip,
		consumer: consumer,
		lines:    make(map[PinID]*gpiocdev.Line),
		log:      logger.GetModuleLogger("hardware"),
	}, nil
}

// ConfigureOutput 申请 line 并配置为输出（初始低电平）
func (c *ChipPins) ConfigureOutput(pin PinID) error {
	if !pin.Valid() {
		return fmt.Errorf("invalid pin %d", pin)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lines[pin]; ok {
		return nil
	}

	line, err := gpiocdev.RequestLine(c.chip, int(pin),
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer(c.consumer))
	if err != nil {
		return fmt.Errorf("request %s:%d: %w", c.chip, pin, err)
	}
	c.lines[pin] = line

	c.log.Debug("GPIO已申请",
		zap.String("chip", c.chip),
		zap.Int("offset", int(pin)))
	return nil
}

// SetPin 设置电平
func (c *ChipPins) SetPin(pin PinID, high bool) error {
	c.mu.Lock()
	line, ok := c.lines[pin]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("pin %d not configured as output", pin)
	}

	v := 0
	if high {
		v = 1
	}
	return line.SetValue(v)
}

// Close 释放全部 line（恢复为输入）
func (c *ChipPins) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for pin, line := range c.lines {
		line.Reconfigure(gpiocdev.AsInput)
		if err := line.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.lines, pin)
	}
	return firstErr
}
