package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/latchctl/internal/errors"
)

var testShiftPins = ShiftPins{Data: 23, Clock: 18, Latch: 19, OE: 5}

func newTestShift(t *testing.T, variant ShiftVariant, wiring ShiftPins) (*ShiftRegisterDriver, *RecordingPins) {
	t.Helper()
	pins := NewRecordingPins()
	d, err := NewShiftRegisterDriver(pins, variant, wiring)
	require.NoError(t, err)
	require.NoError(t, d.Init())
	pins.Reset()
	return d, pins
}

// expectedEvents 把状态机步骤映射成引脚写入序列
func expectedEvents(w ShiftPins, steps []ShiftStep) []PinEvent {
	out := make([]PinEvent, 0, len(steps))
	for _, s := range steps {
		pin := w.Data
		switch s.Line {
		case LineClock:
			pin = w.Clock
		case LineLatch:
			pin = w.Latch
		}
		out = append(out, PinEvent{Pin: pin, High: s.High})
	}
	return out
}

// sampleShifted 在时钟上升沿采样数据线，还原移入的位（MSB 先出）
func sampleShifted(events []PinEvent, w ShiftPins) ChannelMask {
	var data bool
	var clock bool
	var word ChannelMask
	for _, e := range events {
		switch e.Pin {
		case w.Data:
			data = e.High
		case w.Clock:
			if e.High && !clock {
				word <<= 1
				if data {
					word |= 1
				}
			}
			clock = e.High
		}
	}
	return word
}

func TestShiftSequence(t *testing.T) {
	steps := ShiftSequence(0b101, 3, true)
	want := []string{
		"LATCH_LOW",
		"CLOCK_LOW", "DATA_HIGH", "CLOCK_HIGH",
		"CLOCK_LOW", "DATA_LOW", "CLOCK_HIGH",
		"CLOCK_LOW", "DATA_HIGH", "CLOCK_HIGH",
		"CLOCK_LOW",
		"LATCH_HIGH",
	}
	got := make([]string, len(steps))
	for i, s := range steps {
		got[i] = s.String()
	}
	assert.Equal(t, want, got)

	// 无锁存：没有 LATCH 步骤
	unlatched := ShiftSequence(0b1, 1, false)
	assert.Equal(t, []ShiftStep{
		{LineClock, false}, {LineData, true}, {LineClock, true}, {LineClock, false},
	}, unlatched)

	// count 被限制在 [0, 32]
	assert.Len(t, ShiftSequence(0, 0, true), 3)
	assert.Len(t, ShiftSequence(0, 40, false), 32*3+1)
}

func TestShiftRegisterInitTrace(t *testing.T) {
	pins := NewRecordingPins()
	d, err := NewShiftRegisterDriver(pins, Variant74HC595, testShiftPins)
	require.NoError(t, err)
	require.NoError(t, d.Init())

	for _, p := range []PinID{23, 18, 19, 5} {
		assert.True(t, pins.Configured(p))
	}

	ev := pins.Events()
	require.Len(t, ev, 4+8*3+2)
	assert.Equal(t, []PinEvent{{19, false}, {5, false}, {23, false}, {18, false}}, ev[:4])
	for i := 0; i < 8; i++ {
		base := 4 + i*3
		assert.Equal(t, []PinEvent{{23, true}, {18, true}, {18, false}}, ev[base:base+3])
	}
	assert.Equal(t, []PinEvent{{19, true}, {19, false}}, ev[len(ev)-2:])

	// 上电清零移入 8 个 1
	assert.Equal(t, ChannelMask(0xFF), sampleShifted(ev, testShiftPins))
	assert.False(t, pins.Level(5), "OE is active low and left enabled")
}

func TestShiftRegisterCommitTrace(t *testing.T) {
	for _, variant := range []ShiftVariant{Variant74HC595, Variant74HC4094} {
		t.Run(variant.String(), func(t *testing.T) {
			d, pins := newTestShift(t, variant, testShiftPins)

			require.NoError(t, d.Commit(0xA5, 8))
			want := expectedEvents(testShiftPins, ShiftSequence(0xA5, 8, true))
			assert.Equal(t, want, pins.Events())

			// 锁存脚只在全部位移入后出现上升沿
			ev := pins.Events()
			assert.Equal(t, PinEvent{Pin: 19, High: false}, ev[0])
			assert.Equal(t, PinEvent{Pin: 19, High: true}, ev[len(ev)-1])
			for _, e := range ev[1 : len(ev)-1] {
				assert.NotEqual(t, PinID(19), e.Pin)
			}
			assert.Equal(t, ChannelMask(0xA5), sampleShifted(ev, testShiftPins))
		})
	}
}

func TestShiftRegister164HasNoLatch(t *testing.T) {
	d, pins := newTestShift(t, Variant74HC164, testShiftPins)

	// 164 忽略 LATCH/OE 接线
	assert.Equal(t, NoPin, d.Wiring().Latch)
	assert.Equal(t, NoPin, d.Wiring().OE)
	assert.False(t, pins.Configured(19))

	require.NoError(t, d.Commit(0x3, 4))
	ev := pins.Events()
	assert.Equal(t, expectedEvents(d.Wiring(), ShiftSequence(0x3, 4, false)), ev)
	for _, e := range ev {
		assert.NotEqual(t, PinID(19), e.Pin)
	}
	assert.Equal(t, ChannelMask(0x3), sampleShifted(ev, testShiftPins))

	err := d.SetOutputEnabled(false)
	assert.True(t, errors.Is(err, errors.ErrNotSupported))
}

func TestShiftRegisterOutputEnable(t *testing.T) {
	d, pins := newTestShift(t, Variant74HC595, testShiftPins)

	require.NoError(t, d.SetOutputEnabled(false))
	assert.True(t, pins.Level(5))
	require.NoError(t, d.SetOutputEnabled(true))
	assert.False(t, pins.Level(5))

	noOE := testShiftPins
	noOE.OE = NoPin
	d2, _ := newTestShift(t, Variant74HC595, noOE)
	assert.True(t, errors.Is(d2.SetOutputEnabled(true), errors.ErrNotSupported))
}

func TestShiftRegisterConstruction(t *testing.T) {
	pins := NewRecordingPins()

	_, err := NewShiftRegisterDriver(nil, Variant74HC595, testShiftPins)
	assert.True(t, errors.Is(err, errors.ErrDriverMissing))

	_, err = NewShiftRegisterDriver(pins, Variant74HC595, ShiftPins{Data: NoPin, Clock: 1, Latch: 2, OE: NoPin})
	assert.True(t, errors.Is(err, errors.ErrPinConfig))

	_, err = NewShiftRegisterDriver(pins, Variant74HC595, ShiftPins{Data: 1, Clock: 2, Latch: NoPin, OE: NoPin})
	assert.True(t, errors.Is(err, errors.ErrPinConfig))

	d, err := NewShiftRegisterDriver(pins, Variant74HC164, ShiftPins{Data: 1, Clock: 2, Latch: NoPin, OE: NoPin})
	require.NoError(t, err)
	assert.Equal(t, "74HC164 Shift Register", d.Name())
	assert.Equal(t, 32, d.MaxChannels())
}

func TestShiftRegisterCommitFailure(t *testing.T) {
	d, pins := newTestShift(t, Variant74HC595, testShiftPins)
	pins.FailOn = testShiftPins.Clock

	err := d.Commit(0x1, 8)
	assert.True(t, errors.Is(err, errors.ErrCommitFailed))
}

func TestParseShiftVariant(t *testing.T) {
	for name, want := range map[string]ShiftVariant{
		"74hc595":  Variant74HC595,
		"74HC4094": Variant74HC4094,
		"164":      Variant74HC164,
	} {
		got, err := ParseShiftVariant(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseShiftVariant("mcp23017")
	assert.Error(t, err)
}

// 控制器 + 74HC595 + 低有效：锁存进去的正是取反后的物理字
func TestControllerDrivesShiftRegister(t *testing.T) {
	pins := NewRecordingPins()
	d, err := NewShiftRegisterDriver(pins, Variant74HC595, testShiftPins)
	require.NoError(t, err)

	c := NewController(d, 8)
	require.NoError(t, c.Initialize(ActiveHigh))

	pins.Reset()
	require.NoError(t, c.SetChannel(3, true))
	assert.Equal(t, ChannelMask(0x08), sampleShifted(pins.Events(), testShiftPins))

	pins.Reset()
	require.NoError(t, c.SetPolarity(ActiveLow))
	assert.Equal(t, ChannelMask(0xF7), sampleShifted(pins.Events(), testShiftPins))
	assert.True(t, pins.Level(testShiftPins.Latch))
}
