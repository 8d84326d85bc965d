package hardware

import (
	"github.com/wfunc/latchctl/internal/errors"
)

// ParallelLatchDriver 74HC373 类直连 D 锁存器驱动
//
// 每个通道一根数据线，外加一根共用的电平触发使能线：
// ENABLE 高电平时输出跟随输入，拉低后保持。
type ParallelLatchDriver struct {
	pins   PinDriver
	data   []PinID
	enable PinID
}

// NewParallelLatchDriver 创建直连锁存驱动
func NewParallelLatchDriver(pins PinDriver, dataPins []PinID, enable PinID) (*ParallelLatchDriver, error) {
	if pins == nil {
		return nil, errors.New(errors.ErrDriverMissing, "pin driver")
	}
	if len(dataPins) == 0 || len(dataPins) > MaxChannels {
		return nil, errors.Newf(errors.ErrPinConfig, "数据引脚数量必须在 1-%d 之间: %d", MaxChannels, len(dataPins))
	}
	if !enable.Valid() {
		return nil, errors.Newf(errors.ErrPinConfig, "ENABLE=%d", enable)
	}
	for _, p := range dataPins {
		if !p.Valid() {
			return nil, errors.Newf(errors.ErrPinConfig, "数据引脚无效: %d", p)
		}
	}

	data := make([]PinID, len(dataPins))
	copy(data, dataPins)
	return &ParallelLatchDriver{
		pins:   pins,
		data:   data,
		enable: enable,
	}, nil
}

// Init 使能脚拉低（保持），全部数据脚拉低
func (d *ParallelLatchDriver) Init() error {
	if err := d.pins.ConfigureOutput(d.enable); err != nil {
		return errors.Wrapf(err, errors.ErrPinConfig, "configure enable pin %d", d.enable)
	}
	if err := d.pins.SetPin(d.enable, false); err != nil {
		return err
	}
	for _, p := range d.data {
		if err := d.pins.ConfigureOutput(p); err != nil {
			return errors.Wrapf(err, errors.ErrPinConfig, "configure data pin %d", p)
		}
		if err := d.pins.SetPin(p, false); err != nil {
			return err
		}
	}
	return nil
}

// Commit ENABLE 高 → 写数据脚 → ENABLE 低
func (d *ParallelLatchDriver) Commit(bits ChannelMask, count int) error {
	if err := d.pins.SetPin(d.enable, true); err != nil {
		return errors.Wrap(err, errors.ErrCommitFailed, "enable high")
	}
	for i := 0; i < count && i < len(d.data); i++ {
		if err := d.pins.SetPin(d.data[i], bits.Bit(i)); err != nil {
			// 出错也要把使能拉低，避免锁存器一直透明
			d.pins.SetPin(d.enable, false)
			return errors.Wrapf(err, errors.ErrCommitFailed, "data pin %d", d.data[i])
		}
	}
	if err := d.pins.SetPin(d.enable, false); err != nil {
		return errors.Wrap(err, errors.ErrCommitFailed, "enable low")
	}
	return nil
}

// Name 驱动名称
func (d *ParallelLatchDriver) Name() string {
	return "74HC373 Direct D-Latch"
}

// MaxChannels 等于数据线数量
func (d *ParallelLatchDriver) MaxChannels() int {
	return len(d.data)
}
