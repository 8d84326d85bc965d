package hardware

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/latchctl/internal/errors"
)

func newReadyController(t *testing.T, count int, polarity Polarity) (*Controller, *MemoryDriver) {
	t.Helper()
	drv := NewMemoryDriver()
	c := NewController(drv, count)
	require.NoError(t, c.Initialize(polarity))
	return c, drv
}

func lastBits(t *testing.T, drv *MemoryDriver) ChannelMask {
	t.Helper()
	rec, ok := drv.LastCommit()
	require.True(t, ok, "driver has no commits")
	return rec.Bits
}

// plainDriver 没有 OE、也不可关闭的驱动
type plainDriver struct{ commits int }

func (p *plainDriver) Init() error                   { return nil }
func (p *plainDriver) Commit(ChannelMask, int) error { p.commits++; return nil }
func (p *plainDriver) Name() string                  { return "plain" }
func (p *plainDriver) MaxChannels() int              { return 8 }

// closingDriver 记录 Close 调用
type closingDriver struct {
	plainDriver
	closed bool
}

func (c *closingDriver) Close() error {
	c.closed = true
	return nil
}

func TestNewControllerClampsChannelCount(t *testing.T) {
	assert.Equal(t, 1, NewController(NewMemoryDriver(), 0).ChannelCount())
	assert.Equal(t, 1, NewController(NewMemoryDriver(), -5).ChannelCount())
	assert.Equal(t, 32, NewController(NewMemoryDriver(), 64).ChannelCount())
	assert.Equal(t, 12, NewController(NewMemoryDriver(), 12).ChannelCount())
}

func TestInitializeCommitsAllOff(t *testing.T) {
	drv := NewMemoryDriver()
	c := NewController(drv, 8)

	// 构造时不触碰硬件
	assert.False(t, drv.Initialized())
	assert.Equal(t, 0, drv.CommitCount())
	assert.False(t, c.IsReady())

	require.NoError(t, c.Initialize(ActiveLow))
	assert.True(t, drv.Initialized())
	assert.True(t, c.IsReady())
	assert.Equal(t, ChannelMask(0), c.All())

	rec, ok := drv.LastCommit()
	require.True(t, ok)
	assert.Equal(t, ChannelMask(0xFF), rec.Bits, "all-off under active-low drives every line high")
	assert.Equal(t, 8, rec.Count)
}

func TestInitializeFailures(t *testing.T) {
	t.Run("missing driver", func(t *testing.T) {
		c := NewController(nil, 8)
		err := c.Initialize(ActiveHigh)
		assert.True(t, errors.Is(err, errors.ErrDriverMissing))
		assert.False(t, c.IsReady())
	})

	t.Run("driver init error", func(t *testing.T) {
		drv := NewMemoryDriver()
		drv.InitErr = fmt.Errorf("gpio busy")
		c := NewController(drv, 8)

		err := c.Initialize(ActiveHigh)
		assert.True(t, errors.Is(err, errors.ErrDriverInit))
		assert.False(t, c.IsReady())
		assert.Equal(t, 0, drv.CommitCount())

		// 未就绪时修改操作被拒绝
		assert.True(t, errors.Is(c.SetChannel(0, true), errors.ErrNotInitialized))
	})

	t.Run("invalid polarity", func(t *testing.T) {
		c := NewController(NewMemoryDriver(), 8)
		assert.True(t, errors.Is(c.Initialize(Polarity(7)), errors.ErrInvalidPolarity))
	})

	t.Run("channels exceed driver", func(t *testing.T) {
		drv := &plainDriver{}
		c := NewController(drv, 12)

		err := c.Initialize(ActiveHigh)
		assert.True(t, errors.Is(err, errors.ErrPinConfig))
		assert.False(t, c.IsReady())
		assert.Equal(t, 0, drv.commits)
		assert.True(t, errors.Is(c.SetChannel(10, true), errors.ErrNotInitialized))
	})

	t.Run("initial commit error keeps polarity", func(t *testing.T) {
		drv := NewMemoryDriver()
		drv.SetCommitErr(fmt.Errorf("bus fault"))
		c := NewController(drv, 8)

		err := c.Initialize(ActiveLow)
		assert.True(t, errors.Is(err, errors.ErrCommitFailed))
		assert.False(t, c.IsReady())
		assert.Equal(t, ActiveHigh, c.Polarity())
		assert.Equal(t, "active_high", c.Status().Polarity)

		// 故障排除后可以重新初始化
		drv.SetCommitErr(nil)
		require.NoError(t, c.Initialize(ActiveLow))
		assert.Equal(t, ActiveLow, c.Polarity())
		assert.Equal(t, ChannelMask(0xFF), lastBits(t, drv))
	})

	t.Run("second initialize", func(t *testing.T) {
		c, drv := newReadyController(t, 8, ActiveHigh)
		require.NoError(t, c.SetChannel(2, true))
		commits := drv.CommitCount()

		err := c.Initialize(ActiveLow)
		assert.True(t, errors.Is(err, errors.ErrAlreadyInitialized))
		assert.Equal(t, commits, drv.CommitCount())
		assert.Equal(t, ActiveHigh, c.Polarity())
		assert.True(t, c.Channel(2))
	})
}

func TestMutationsBeforeInitialize(t *testing.T) {
	drv := NewMemoryDriver()
	c := NewController(drv, 8)

	for name, call := range map[string]func() error{
		"SetChannel":    func() error { return c.SetChannel(1, true) },
		"ToggleChannel": func() error { return c.ToggleChannel(1) },
		"SetAll":        func() error { return c.SetAll(0xFF) },
		"SetAllOn":      c.SetAllOn,
		"SetAllOff":     c.SetAllOff,
		"SetPolarity":   func() error { return c.SetPolarity(ActiveLow) },
	} {
		err := call()
		assert.True(t, errors.Is(err, errors.ErrNotInitialized), name)
	}

	// 读取返回零状态
	assert.Equal(t, ChannelMask(0), c.All())
	assert.False(t, c.Channel(1))
	assert.Equal(t, 0, drv.CommitCount())
}

func TestRangeRejectionLeavesStateUnchanged(t *testing.T) {
	c, drv := newReadyController(t, 8, ActiveHigh)
	require.NoError(t, c.SetAll(0x5A))
	before := c.All()
	commits := drv.CommitCount()

	for _, ch := range []int{8, 9, 31, 32, 100, -1} {
		err := c.SetChannel(ch, true)
		assert.True(t, errors.Is(err, errors.ErrChannelOutOfRange), "SetChannel(%d)", ch)
		err = c.SetChannel(ch, false)
		assert.True(t, errors.Is(err, errors.ErrChannelOutOfRange), "SetChannel(%d)", ch)
		err = c.ToggleChannel(ch)
		assert.True(t, errors.Is(err, errors.ErrChannelOutOfRange), "ToggleChannel(%d)", ch)
		assert.False(t, c.Channel(ch))
	}

	assert.Equal(t, before, c.All())
	assert.Equal(t, commits, drv.CommitCount(), "rejected calls never reach the driver")
}

func TestSetClearCorrectness(t *testing.T) {
	c, _ := newReadyController(t, 16, ActiveHigh)

	for ch := 0; ch < 16; ch++ {
		require.NoError(t, c.SetChannel(ch, true))
		assert.True(t, c.Channel(ch))
		require.NoError(t, c.SetChannel(ch, false))
		assert.False(t, c.Channel(ch))
	}
}

func TestToggleIsInvolution(t *testing.T) {
	c, _ := newReadyController(t, 8, ActiveHigh)
	require.NoError(t, c.SetAll(0xA5))

	for ch := 0; ch < 8; ch++ {
		before := c.All()
		require.NoError(t, c.ToggleChannel(ch))
		assert.Equal(t, !before.Bit(ch), c.Channel(ch))
		assert.Equal(t, before&^(1<<uint(ch)), c.All()&^(1<<uint(ch)), "other channels untouched")
		require.NoError(t, c.ToggleChannel(ch))
		assert.Equal(t, before, c.All())
	}
}

func TestSetAllTruncates(t *testing.T) {
	c, drv := newReadyController(t, 4, ActiveHigh)

	require.NoError(t, c.SetAll(0xFFFFFFFF))
	assert.Equal(t, ChannelMask(0xF), c.All())
	assert.Equal(t, ChannelMask(0xF), lastBits(t, drv))

	require.NoError(t, c.SetAll(0xF0))
	assert.Equal(t, ChannelMask(0), c.All())
}

func TestFullBankHelpers(t *testing.T) {
	c, _ := newReadyController(t, 8, ActiveHigh)

	require.NoError(t, c.SetAllOn())
	assert.Equal(t, ChannelMask(0xFF), c.All())

	require.NoError(t, c.SetAllOff())
	assert.Equal(t, ChannelMask(0x00), c.All())

	c32, drv := newReadyController(t, 32, ActiveHigh)
	require.NoError(t, c32.SetAllOn())
	assert.Equal(t, ChannelMask(0xFFFFFFFF), c32.All())
	assert.Equal(t, ChannelMask(0xFFFFFFFF), lastBits(t, drv))
}

func TestPolarityTransparency(t *testing.T) {
	high, highDrv := newReadyController(t, 8, ActiveHigh)
	low, lowDrv := newReadyController(t, 8, ActiveLow)

	ops := []func(*Controller) error{
		func(c *Controller) error { return c.SetChannel(0, true) },
		func(c *Controller) error { return c.SetChannel(5, true) },
		func(c *Controller) error { return c.ToggleChannel(7) },
		func(c *Controller) error { return c.ToggleChannel(0) },
		func(c *Controller) error { return c.SetAll(0x3C) },
	}

	for _, op := range ops {
		require.NoError(t, op(high))
		require.NoError(t, op(low))

		assert.Equal(t, high.All(), low.All())
		for ch := 0; ch < 8; ch++ {
			assert.Equal(t, high.Channel(ch), low.Channel(ch))
		}
		assert.Equal(t, ^lastBits(t, highDrv)&0xFF, lastBits(t, lowDrv))
	}
}

func TestPolarityScenario(t *testing.T) {
	c, drv := newReadyController(t, 8, ActiveHigh)

	require.NoError(t, c.SetChannel(3, true))
	assert.Equal(t, ChannelMask(0x08), c.All())
	assert.Equal(t, ChannelMask(0x08), lastBits(t, drv))

	require.NoError(t, c.SetPolarity(ActiveLow))
	assert.Equal(t, ChannelMask(0x08), c.All())
	assert.Equal(t, ChannelMask(0xF7), lastBits(t, drv))
	assert.Equal(t, ActiveLow, c.Polarity())
}

func TestSetPolarityIdempotent(t *testing.T) {
	c, drv := newReadyController(t, 8, ActiveLow)
	commits := drv.CommitCount()

	require.NoError(t, c.SetPolarity(ActiveLow))
	assert.Equal(t, commits, drv.CommitCount(), "unchanged polarity writes nothing")

	assert.True(t, errors.Is(c.SetPolarity(Polarity(9)), errors.ErrInvalidPolarity))
	assert.Equal(t, commits, drv.CommitCount())
}

func TestSerializedConcurrency(t *testing.T) {
	const n = 32
	c, _ := newReadyController(t, n, ActiveLow)
	c.lockTimeout = 5 * time.Second

	var wg sync.WaitGroup
	start := make(chan struct{})
	for ch := 0; ch < n; ch++ {
		wg.Add(1)
		go func(ch int) {
			defer wg.Done()
			<-start
			assert.NoError(t, c.SetChannel(ch, true))
		}(ch)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, FullMask(n), c.All())
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	c, _ := newReadyController(t, 8, ActiveHigh)
	c.lockTimeout = 5 * time.Second

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = c.ToggleChannel(j % 8)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				assert.Zero(t, c.All()&^0xFF, "stored mask never exceeds channel count")
				_ = c.Status()
			}
		}()
	}
	wg.Wait()
}

func TestCommitFailureRollsBack(t *testing.T) {
	c, drv := newReadyController(t, 8, ActiveHigh)
	require.NoError(t, c.SetChannel(1, true))

	drv.SetCommitErr(fmt.Errorf("bus fault"))
	err := c.SetChannel(2, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCommitFailed))
	assert.Equal(t, ChannelMask(0x02), c.All())

	err = c.SetPolarity(ActiveLow)
	require.Error(t, err)
	assert.Equal(t, ActiveHigh, c.Polarity())

	drv.SetCommitErr(nil)
	require.NoError(t, c.SetChannel(2, true))
	assert.Equal(t, ChannelMask(0x06), c.All())

	st := c.Status()
	assert.Equal(t, uint64(2), st.Errors)
}

func TestLockTimeout(t *testing.T) {
	drv := NewMemoryDriver()
	c := NewController(drv, 8, WithLockTimeout(20*time.Millisecond))
	require.NoError(t, c.Initialize(ActiveHigh))

	// 模拟另一方长时间持锁
	require.NoError(t, c.sem.Acquire(context.Background(), 1))

	start := time.Now()
	err := c.SetChannel(0, true)
	assert.True(t, errors.Is(err, errors.ErrLockTimeout))
	assert.True(t, errors.IsRetryable(err))
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, c.Channel(0))

	// 读取不受锁影响
	assert.Equal(t, ChannelMask(0), c.All())
	st := c.Status()
	assert.Equal(t, uint64(1), st.LockTimeouts)
	assert.Empty(t, st.LastPhysical)

	c.sem.Release(1)
	require.NoError(t, c.SetChannel(0, true))
}

func TestSubscribeReceivesChanges(t *testing.T) {
	drv := NewMemoryDriver()
	c := NewController(drv, 8, WithSource("test"))

	var mu sync.Mutex
	var changes []Change
	c.Subscribe(func(ch Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, ch)
	})

	require.NoError(t, c.Initialize(ActiveHigh))
	require.NoError(t, c.SetChannel(3, true))
	require.NoError(t, c.SetPolarity(ActiveLow))
	_ = c.SetChannel(9, true)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 3)

	assert.Equal(t, OpInitialize, changes[0].Operation)

	assert.Equal(t, OpSetChannel, changes[1].Operation)
	assert.Equal(t, 3, changes[1].Channel)
	assert.Equal(t, ChannelMask(0), changes[1].OldMask)
	assert.Equal(t, ChannelMask(0x08), changes[1].NewMask)
	assert.Equal(t, ChannelMask(0x08), changes[1].Physical)
	assert.Equal(t, "test", changes[1].Source)

	assert.Equal(t, OpSetPolarity, changes[2].Operation)
	assert.Equal(t, ChannelMask(0xF7), changes[2].Physical)
	assert.Equal(t, ActiveLow, changes[2].Polarity)
}

func TestSubscriberMayCallController(t *testing.T) {
	c, _ := newReadyController(t, 8, ActiveHigh)

	// 回调在锁外执行，可以再次读写控制器
	var seen ChannelMask
	c.Subscribe(func(Change) {
		seen = c.All()
	})
	require.NoError(t, c.SetChannel(4, true))
	assert.Equal(t, ChannelMask(0x10), seen)
}

func TestOutputEnable(t *testing.T) {
	c, drv := newReadyController(t, 8, ActiveHigh)

	require.NoError(t, c.DisableOutputs())
	assert.False(t, drv.OutputsEnabled())
	require.NoError(t, c.EnableOutputs())
	assert.True(t, drv.OutputsEnabled())

	plain := NewController(&plainDriver{}, 8)
	assert.True(t, errors.Is(plain.EnableOutputs(), errors.ErrNotInitialized))
	require.NoError(t, plain.Initialize(ActiveHigh))
	assert.True(t, errors.Is(plain.EnableOutputs(), errors.ErrNotSupported))
}

func TestCloseReleasesDriver(t *testing.T) {
	drv := &closingDriver{}
	c := NewController(drv, 4)
	require.NoError(t, c.Initialize(ActiveHigh))

	require.NoError(t, c.Close())
	assert.True(t, drv.closed)
	assert.False(t, c.IsReady())
	assert.True(t, errors.Is(c.SetChannel(0, true), errors.ErrControllerClosed))

	// 重复关闭无副作用
	require.NoError(t, c.Close())
}

func TestCloseWhileMutationWaitsForLock(t *testing.T) {
	drv := NewMemoryDriver()
	c := NewController(drv, 8, WithLockTimeout(2*time.Second))
	require.NoError(t, c.Initialize(ActiveHigh))
	commits := drv.CommitCount()

	// 持锁，让修改操作通过就绪检查后停在等锁
	require.NoError(t, c.sem.Acquire(context.Background(), 1))

	results := make(chan error, 3)
	go func() { results <- c.SetChannel(0, true) }()
	go func() { results <- c.SetPolarity(ActiveLow) }()
	go func() { results <- c.DisableOutputs() }()
	time.Sleep(50 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()
	require.Eventually(t, c.closed.Load, time.Second, 5*time.Millisecond)
	c.sem.Release(1)

	for i := 0; i < 3; i++ {
		select {
		case err := <-results:
			assert.True(t, errors.Is(err, errors.ErrControllerClosed), "got %v", err)
		case <-time.After(3 * time.Second):
			t.Fatal("mutation did not return")
		}
	}
	require.NoError(t, <-closed)

	assert.Equal(t, commits, drv.CommitCount())
	assert.True(t, drv.OutputsEnabled())
	assert.False(t, c.Channel(0))
	assert.Equal(t, ActiveHigh, c.Polarity())
}

func TestParsePolarity(t *testing.T) {
	tests := []struct {
		in      string
		want    Polarity
		wantErr bool
	}{
		{"active_high", ActiveHigh, false},
		{"active_low", ActiveLow, false},
		{"high", ActiveHigh, true},
		{"low", ActiveHigh, true},
		{"activelow", ActiveHigh, true},
		{"ACTIVE_LOW", ActiveHigh, true},
		{"", ActiveHigh, true},
	}
	for _, tt := range tests {
		got, err := ParsePolarity(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolarity(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePolarity(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStatusSnapshot(t *testing.T) {
	c, _ := newReadyController(t, 4, ActiveLow)
	require.NoError(t, c.SetChannel(1, true))

	st := c.Status()
	assert.Equal(t, "Mock Latch Driver", st.Driver)
	assert.True(t, st.Ready)
	assert.Equal(t, 4, st.ChannelCount)
	assert.Equal(t, "active_low", st.Polarity)
	assert.Equal(t, "0x00000002", st.Mask)
	assert.Equal(t, "0x0000000D", st.LastPhysical)
	assert.Equal(t, map[string]bool{"0": false, "1": true, "2": false, "3": false}, st.Channels)
	assert.Equal(t, uint64(2), st.Commits)
}
