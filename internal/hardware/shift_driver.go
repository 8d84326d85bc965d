package hardware

import (
	"fmt"
	"strings"

	"github.com/wfunc/latchctl/internal/errors"
)

// ShiftVariant 移位寄存器型号
type ShiftVariant int

const (
	// Variant74HC595 带存储锁存器（RCLK），可选 OE
	Variant74HC595 ShiftVariant = iota
	// Variant74HC4094 带 STROBE 锁存，可选 OE
	Variant74HC4094
	// Variant74HC164 无锁存，移位过程中输出会跟着跳变
	Variant74HC164
)

// HasLatch 是否带存储锁存器
func (v ShiftVariant) HasLatch() bool {
	return v != Variant74HC164
}

func (v ShiftVariant) String() string {
	switch v {
	case Variant74HC595:
		return "74HC595 Shift Register"
	case Variant74HC4094:
		return "74HC4094 Shift Register"
	case Variant74HC164:
		return "74HC164 Shift Register"
	default:
		return "Unknown Shift Register"
	}
}

// ParseShiftVariant 解析驱动名（74hc595 / 74hc4094 / 74hc164）
func ParseShiftVariant(name string) (ShiftVariant, error) {
	switch strings.ToLower(name) {
	case "74hc595", "595":
		return Variant74HC595, nil
	case "74hc4094", "4094":
		return Variant74HC4094, nil
	case "74hc164", "164":
		return Variant74HC164, nil
	default:
		return 0, fmt.Errorf("unknown shift register %q", name)
	}
}

// ShiftPins 移位寄存器接线，未接的脚为 NoPin
type ShiftPins struct {
	Data  PinID
	Clock PinID
	Latch PinID // RCLK / STROBE
	OE    PinID // 低电平有效
}

// ShiftLine 状态机中被操作的信号线
type ShiftLine int

const (
	LineData ShiftLine = iota
	LineClock
	LineLatch
)

func (l ShiftLine) String() string {
	switch l {
	case LineData:
		return "DATA"
	case LineClock:
		return "CLOCK"
	case LineLatch:
		return "LATCH"
	default:
		return "?"
	}
}

// ShiftStep 协议状态机中的一步
type ShiftStep struct {
	Line ShiftLine
	High bool
}

func (s ShiftStep) String() string {
	if s.High {
		return s.Line.String() + "_HIGH"
	}
	return s.Line.String() + "_LOW"
}

// ShiftSequence 生成一次提交的完整步骤（MSB 先出）
//
//	[LATCH_LOW] → (bit = count-1..0){ CLOCK_LOW → DATA(bit) → CLOCK_HIGH } → CLOCK_LOW → [LATCH_HIGH]
//
// 锁存脚上升沿把移位寄存器的内容打入输出级，之前的中间状态不可见。
func ShiftSequence(data ChannelMask, count int, latched bool) []ShiftStep {
	if count < 0 {
		count = 0
	}
	if count > MaxChannels {
		count = MaxChannels
	}

	steps := make([]ShiftStep, 0, count*3+3)
	if latched {
		steps = append(steps, ShiftStep{Line: LineLatch, High: false})
	}
	for i := count - 1; i >= 0; i-- {
		steps = append(steps,
			ShiftStep{Line: LineClock, High: false},
			ShiftStep{Line: LineData, High: data.Bit(i)},
			ShiftStep{Line: LineClock, High: true},
		)
	}
	steps = append(steps, ShiftStep{Line: LineClock, High: false})
	if latched {
		steps = append(steps, ShiftStep{Line: LineLatch, High: true})
	}
	return steps
}

// ShiftRegisterDriver 移位寄存器驱动（74HC595 / 74HC4094 / 74HC164）
//
// 74HC164 没有锁存器，提交过程中输出随移位实时变化，
// 短暂的中间状态在外部可见，这是该器件的固有特性。
type ShiftRegisterDriver struct {
	pins    PinDriver
	variant ShiftVariant
	wiring  ShiftPins
}

// NewShiftRegisterDriver 创建移位寄存器驱动
func NewShiftRegisterDriver(pins PinDriver, variant ShiftVariant, wiring ShiftPins) (*ShiftRegisterDriver, error) {
	if pins == nil {
		return nil, errors.New(errors.ErrDriverMissing, "pin driver")
	}
	if !wiring.Data.Valid() || !wiring.Clock.Valid() {
		return nil, errors.Newf(errors.ErrPinConfig, "DATA=%d CLOCK=%d", wiring.Data, wiring.Clock)
	}
	if variant.HasLatch() && !wiring.Latch.Valid() {
		return nil, errors.Newf(errors.ErrPinConfig, "%s 需要 LATCH 引脚", variant)
	}
	if !variant.HasLatch() {
		// 164 没有锁存和 OE
		wiring.Latch = NoPin
		wiring.OE = NoPin
	}
	return &ShiftRegisterDriver{
		pins:    pins,
		variant: variant,
		wiring:  wiring,
	}, nil
}

// Init 配置引脚，使能输出，并把寄存器清为全高（低有效继电器全部关断）
func (d *ShiftRegisterDriver) Init() error {
	for _, pin := range []PinID{d.wiring.Data, d.wiring.Clock, d.wiring.Latch, d.wiring.OE} {
		if !pin.Valid() {
			continue
		}
		if err := d.pins.ConfigureOutput(pin); err != nil {
			return errors.Wrapf(err, errors.ErrPinConfig, "configure pin %d", pin)
		}
	}

	if d.wiring.Latch.Valid() {
		if err := d.pins.SetPin(d.wiring.Latch, false); err != nil {
			return err
		}
	}
	if d.wiring.OE.Valid() {
		if err := d.pins.SetPin(d.wiring.OE, false); err != nil {
			return err
		}
	}
	if err := d.pins.SetPin(d.wiring.Data, false); err != nil {
		return err
	}
	if err := d.pins.SetPin(d.wiring.Clock, false); err != nil {
		return err
	}

	// 上电清零：移入 8 个高电平并锁存，控制器随后会提交真正的初始值
	for i := 0; i < 8; i++ {
		if err := d.pins.SetPin(d.wiring.Data, true); err != nil {
			return err
		}
		if err := d.pins.SetPin(d.wiring.Clock, true); err != nil {
			return err
		}
		if err := d.pins.SetPin(d.wiring.Clock, false); err != nil {
			return err
		}
	}
	if d.wiring.Latch.Valid() {
		if err := d.pins.SetPin(d.wiring.Latch, true); err != nil {
			return err
		}
		if err := d.pins.SetPin(d.wiring.Latch, false); err != nil {
			return err
		}
	}
	return nil
}

// Commit 锁存拉低 → 移出 count 位 → 锁存拉高
func (d *ShiftRegisterDriver) Commit(bits ChannelMask, count int) error {
	for _, step := range ShiftSequence(bits, count, d.wiring.Latch.Valid()) {
		if err := d.pins.SetPin(d.line(step.Line), step.High); err != nil {
			return errors.Wrapf(err, errors.ErrCommitFailed, "%s", step)
		}
	}
	return nil
}

func (d *ShiftRegisterDriver) line(l ShiftLine) PinID {
	switch l {
	case LineData:
		return d.wiring.Data
	case LineClock:
		return d.wiring.Clock
	default:
		return d.wiring.Latch
	}
}

// SetOutputEnabled 控制 OE 脚（低电平有效）
func (d *ShiftRegisterDriver) SetOutputEnabled(enabled bool) error {
	if !d.wiring.OE.Valid() {
		return errors.Newf(errors.ErrNotSupported, "%s 未连接 OE", d.variant)
	}
	return d.pins.SetPin(d.wiring.OE, !enabled)
}

// Name 驱动名称
func (d *ShiftRegisterDriver) Name() string {
	return d.variant.String()
}

// MaxChannels 可级联，按 32 位计
func (d *ShiftRegisterDriver) MaxChannels() int {
	return MaxChannels
}

// Variant 型号
func (d *ShiftRegisterDriver) Variant() ShiftVariant {
	return d.variant
}

// Wiring 接线
func (d *ShiftRegisterDriver) Wiring() ShiftPins {
	return d.wiring
}
