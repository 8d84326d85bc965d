//go:build !linux

package hardware

import "fmt"

// ChipPins 非 Linux 平台没有 GPIO 字符设备
type ChipPins struct{}

// NewChipPins 非 Linux 平台直接返回错误，请使用 mock_mode
func NewChipPins(chip, consumer string) (*ChipPins, error) {
	return nil, fmt.Errorf("gpio character device %s not available on this platform", chip)
}

func (c *ChipPins) ConfigureOutput(pin PinID) error {
	return fmt.Errorf("gpio not supported")
}

func (c *ChipPins) SetPin(pin PinID, high bool) error {
	return fmt.Errorf("gpio not supported")
}

func (c *ChipPins) Close() error { return nil }
