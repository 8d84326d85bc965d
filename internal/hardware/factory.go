package hardware

import (
	"strings"
	"time"

	"github.com/wfunc/latchctl/internal/config"
	"github.com/wfunc/latchctl/internal/errors"
)

// 支持的驱动名
const (
	Driver74HC595  = "74hc595"
	Driver74HC4094 = "74hc4094"
	Driver74HC164  = "74hc164"
	Driver74HC373  = "74hc373"
	DriverSerial   = "serial"
	DriverMock     = "mock"
)

// DriverNames 全部可用驱动
func DriverNames() []string {
	return []string{Driver74HC595, Driver74HC4094, Driver74HC164, Driver74HC373, DriverSerial, DriverMock}
}

// NewDriver 按配置创建驱动；pins 为 GPIO 类驱动使用的引脚实现
func NewDriver(latch config.LatchConfig, serialCfg config.SerialConfig, pins PinDriver) (Driver, error) {
	name := strings.ToLower(strings.TrimSpace(latch.Driver))

	switch name {
	case Driver74HC595, Driver74HC4094, Driver74HC164:
		variant, err := ParseShiftVariant(name)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrInvalidParam)
		}
		d, err := NewShiftRegisterDriver(pins, variant, ShiftPins{
			Data:  PinID(latch.Shift.DataPin),
			Clock: PinID(latch.Shift.ClockPin),
			Latch: PinID(latch.Shift.LatchPin),
			OE:    PinID(latch.Shift.OEPin),
		})
		if err != nil {
			return nil, err
		}
		return d, nil

	case Driver74HC373:
		data := make([]PinID, len(latch.Parallel.DataPins))
		for i, p := range latch.Parallel.DataPins {
			data[i] = PinID(p)
		}
		d, err := NewParallelLatchDriver(pins, data, PinID(latch.Parallel.EnablePin))
		if err != nil {
			return nil, err
		}
		return d, nil

	case DriverSerial:
		return NewSerialBridgeDriver(SerialBridgeConfig{
			Port:        serialCfg.Port,
			BaudRate:    serialCfg.BaudRate,
			DataBits:    byte(serialCfg.DataBits),
			StopBits:    byte(serialCfg.StopBits),
			Parity:      serialCfg.Parity,
			ReadTimeout: serialCfg.ReadTimeout,
			WaitAck:     serialCfg.WaitAck,
			RetryTimes:  serialCfg.RetryTimes,
		}), nil

	case DriverMock:
		return NewMemoryDriver(), nil

	default:
		return nil, errors.Newf(errors.ErrInvalidParam, "未知驱动 %q，可选: %s", latch.Driver, strings.Join(DriverNames(), ", "))
	}
}

// NewPins 按配置创建引脚实现；模拟模式下使用内存引脚
func NewPins(latch config.LatchConfig) (PinDriver, error) {
	if latch.MockMode {
		return NewRecordingPins(), nil
	}
	pins, err := NewChipPins(latch.GPIO.Chip, latch.GPIO.Consumer)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrPinConfig, latch.GPIO.Chip)
	}
	return pins, nil
}

// needsPins 该驱动是否直接操作 GPIO
func needsPins(driver string) bool {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSerial, DriverMock:
		return false
	default:
		return true
	}
}

// lockTimeoutOf 配置中的锁超时，未配置时使用默认值
func lockTimeoutOf(latch config.LatchConfig) time.Duration {
	if latch.LockTimeout <= 0 {
		return DefaultLockTimeout
	}
	return latch.LockTimeout
}
