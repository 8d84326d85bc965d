package hardware

import (
	"context"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/latchctl/internal/errors"
	"github.com/wfunc/latchctl/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultLockTimeout 默认加锁等待上限
const DefaultLockTimeout = 100 * time.Millisecond

// ChangeHandler 状态变化回调，在锁释放后调用
type ChangeHandler func(Change)

// ControllerOption 控制器选项
type ControllerOption func(*Controller)

// WithLockTimeout 设置加锁等待上限
func WithLockTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.lockTimeout = d
		}
	}
}

// WithSource 设置写入 Change.Source 的默认来源
func WithSource(source string) ControllerOption {
	return func(c *Controller) {
		c.source = source
	}
}

// Controller 通道状态控制器
//
// 持有逻辑位图、极性和一把互斥锁；每次修改都在锁内完成
// “更新位图 → 极性变换 → driver.Commit”。读操作走原子变量，不阻塞。
// 控制器独占驱动，Close 时如果驱动实现了 io.Closer 会一并关闭。
type Controller struct {
	driver       Driver
	channelCount int
	lockTimeout  time.Duration
	source       string

	sem *semaphore.Weighted

	// 以下字段只在持锁时写
	polarity     Polarity
	lastPhysical ChannelMask
	lastCommit   time.Time
	lastError    string

	mask   atomic.Uint32
	pol    atomic.Int32
	ready  atomic.Bool
	closed atomic.Bool

	commits      atomic.Uint64
	errorCount   atomic.Uint64
	lockTimeouts atomic.Uint64

	subMu       sync.RWMutex
	subscribers []ChangeHandler

	logger *zap.Logger
}

// NewController 创建控制器，不触碰硬件；通道数被限制在 [1, 32]
func NewController(driver Driver, channelCount int, opts ...ControllerOption) *Controller {
	if channelCount < 1 {
		channelCount = 1
	}
	if channelCount > MaxChannels {
		channelCount = MaxChannels
	}

	c := &Controller{
		driver:       driver,
		channelCount: channelCount,
		lockTimeout:  DefaultLockTimeout,
		source:       "controller",
		sem:          semaphore.NewWeighted(1),
		logger:       logger.GetModuleLogger("hardware"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize 绑定极性、初始化驱动并提交全关状态
func (c *Controller) Initialize(polarity Polarity) error {
	if c.driver == nil {
		return errors.New(errors.ErrDriverMissing)
	}
	if !polarity.Valid() {
		return errors.Newf(errors.ErrInvalidPolarity, "%d", int(polarity))
	}
	if c.closed.Load() {
		return errors.New(errors.ErrControllerClosed)
	}

	release, err := c.lockOpen()
	if err != nil {
		return err
	}

	if c.ready.Load() {
		release()
		return errors.New(errors.ErrAlreadyInitialized, c.driver.Name())
	}

	// 驱动接不上的通道不能假装成功
	if limit := c.driver.MaxChannels(); c.channelCount > limit {
		release()
		c.logger.Error("通道数超过驱动能力",
			zap.String("driver", c.driver.Name()),
			zap.Int("channels", c.channelCount),
			zap.Int("max", limit))
		return errors.Newf(errors.ErrPinConfig, "%s: 通道数 %d 超过驱动能力 %d", c.driver.Name(), c.channelCount, limit)
	}

	if err := c.driver.Init(); err != nil {
		release()
		c.logger.Error("驱动初始化失败",
			zap.String("driver", c.driver.Name()),
			zap.Error(err))
		return errors.Wrap(err, errors.ErrDriverInit, c.driver.Name())
	}

	prev := c.polarity
	c.polarity = polarity

	old := ChannelMask(c.mask.Load())
	if err := c.commitLocked(0); err != nil {
		c.polarity = prev
		release()
		return err
	}
	c.pol.Store(int32(polarity))
	c.mask.Store(0)
	c.ready.Store(true)
	change := c.change(OpInitialize, -1, old, 0)
	release()

	c.logger.Info("控制器初始化完成",
		zap.String("driver", c.driver.Name()),
		zap.Int("channels", c.channelCount),
		zap.String("polarity", polarity.String()))

	c.notify(change)
	return nil
}

// SetChannel 设置单个通道
func (c *Controller) SetChannel(ch int, on bool) error {
	if err := c.checkChannel(ch); err != nil {
		return err
	}
	return c.mutate(OpSetChannel, ch, func(m ChannelMask) ChannelMask {
		if on {
			return m | 1<<uint(ch)
		}
		return m &^ (1 << uint(ch))
	})
}

// ToggleChannel 翻转单个通道
func (c *Controller) ToggleChannel(ch int) error {
	if err := c.checkChannel(ch); err != nil {
		return err
	}
	return c.mutate(OpToggle, ch, func(m ChannelMask) ChannelMask {
		return m ^ 1<<uint(ch)
	})
}

// SetAll 设置整个位图，超出通道数的位被截掉
func (c *Controller) SetAll(mask ChannelMask) error {
	full := FullMask(c.channelCount)
	return c.mutate(OpSetAll, -1, func(ChannelMask) ChannelMask {
		return mask & full
	})
}

// SetAllOn 全部打开
func (c *Controller) SetAllOn() error {
	return c.SetAll(FullMask(c.channelCount))
}

// SetAllOff 全部关闭
func (c *Controller) SetAllOff() error {
	return c.SetAll(0)
}

// Channel 读取单个通道逻辑状态，越界返回 false
func (c *Controller) Channel(ch int) bool {
	if ch < 0 || ch >= c.channelCount {
		return false
	}
	return ChannelMask(c.mask.Load()).Bit(ch)
}

// All 读取逻辑位图
func (c *Controller) All() ChannelMask {
	return ChannelMask(c.mask.Load())
}

// SetPolarity 修改极性并按新极性重新提交；极性不变时不写硬件
func (c *Controller) SetPolarity(p Polarity) error {
	if !p.Valid() {
		return errors.Newf(errors.ErrInvalidPolarity, "%d", int(p))
	}
	if err := c.checkReady(); err != nil {
		return err
	}

	release, err := c.lockOpen()
	if err != nil {
		return err
	}
	if c.polarity == p {
		release()
		return nil
	}

	prev := c.polarity
	c.polarity = p
	mask := ChannelMask(c.mask.Load())
	if err := c.commitLocked(mask); err != nil {
		c.polarity = prev
		release()
		return err
	}
	c.pol.Store(int32(p))
	change := c.change(OpSetPolarity, -1, mask, mask)
	release()

	c.logger.Info("输出极性已切换",
		zap.String("from", prev.String()),
		zap.String("to", p.String()))

	c.notify(change)
	return nil
}

// EnableOutputs 打开 OE（驱动支持时）
func (c *Controller) EnableOutputs() error {
	return c.setOutputEnabled(true)
}

// DisableOutputs 关闭 OE（驱动支持时），逻辑状态保持不变
func (c *Controller) DisableOutputs() error {
	return c.setOutputEnabled(false)
}

func (c *Controller) setOutputEnabled(enabled bool) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	oe, ok := c.driver.(OutputEnabler)
	if !ok {
		return errors.Newf(errors.ErrNotSupported, "%s 不支持输出使能", c.driver.Name())
	}

	release, err := c.lockOpen()
	if err != nil {
		return err
	}
	defer release()

	if err := oe.SetOutputEnabled(enabled); err != nil {
		return errors.Wrap(err, errors.ErrCommitFailed, "output enable")
	}
	return nil
}

// Subscribe 注册状态变化回调
func (c *Controller) Subscribe(handler ChangeHandler) {
	if handler == nil {
		return
	}
	c.subMu.Lock()
	c.subscribers = append(c.subscribers, handler)
	c.subMu.Unlock()
}

// ChannelCount 通道数
func (c *Controller) ChannelCount() int {
	return c.channelCount
}

// Polarity 当前极性
func (c *Controller) Polarity() Polarity {
	return Polarity(c.pol.Load())
}

// IsReady 是否已初始化
func (c *Controller) IsReady() bool {
	return c.ready.Load() && !c.closed.Load()
}

// DriverName 驱动名称
func (c *Controller) DriverName() string {
	if c.driver == nil {
		return ""
	}
	return c.driver.Name()
}

// Status 调试快照
func (c *Controller) Status() Status {
	mask := c.All()
	channels := make(map[string]bool, c.channelCount)
	for i := 0; i < c.channelCount; i++ {
		channels[strconv.Itoa(i)] = mask.Bit(i)
	}

	s := Status{
		Driver:       c.DriverName(),
		Ready:        c.IsReady(),
		ChannelCount: c.channelCount,
		Polarity:     c.Polarity().String(),
		Mask:         mask.String(),
		Channels:     channels,
		Commits:      c.commits.Load(),
		Errors:       c.errorCount.Load(),
		LockTimeouts: c.lockTimeouts.Load(),
	}

	// 只在拿得到锁时读取提交细节，拿不到就留空
	if c.sem.TryAcquire(1) {
		s.LastPhysical = c.lastPhysical.String()
		s.LastCommit = c.lastCommit
		s.LastError = c.lastError
		c.sem.Release(1)
	}
	return s
}

// Close 关闭控制器并释放驱动
func (c *Controller) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.lockTimeout*10)
	defer cancel()
	if err := c.sem.Acquire(ctx, 1); err == nil {
		defer c.sem.Release(1)
	}

	c.ready.Store(false)
	if closer, ok := c.driver.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return errors.Wrap(err, errors.ErrUnknown, "close driver")
		}
	}
	c.logger.Info("控制器已关闭", zap.String("driver", c.DriverName()))
	return nil
}

// mutate 加锁 → 计算新位图 → 提交
func (c *Controller) mutate(op Operation, ch int, next func(ChannelMask) ChannelMask) error {
	if err := c.checkReady(); err != nil {
		return err
	}

	release, err := c.lockOpen()
	if err != nil {
		return err
	}

	old := ChannelMask(c.mask.Load())
	updated := next(old) & FullMask(c.channelCount)

	// 提交成功才发布新位图，失败时逻辑状态保持原值
	if err := c.commitLocked(updated); err != nil {
		release()
		return err
	}
	c.mask.Store(uint32(updated))
	change := c.change(op, ch, old, updated)
	release()

	logger.LogOutputChange(ch, ch >= 0 && updated.Bit(ch), uint32(updated), c.source)
	c.notify(change)
	return nil
}

// commitLocked 极性变换后交给驱动；调用方持锁
func (c *Controller) commitLocked(mask ChannelMask) error {
	physical := Physical(mask, c.polarity, c.channelCount)

	start := time.Now()
	err := c.driver.Commit(physical, c.channelCount)
	logger.LogDriverCommit(c.driver.Name(), uint32(physical), c.channelCount, time.Since(start), err)

	if err != nil {
		c.errorCount.Add(1)
		c.lastError = err.Error()
		if _, ok := err.(*errors.AppError); ok {
			return err
		}
		return errors.Wrapf(err, errors.ErrCommitFailed, "%s: %v", c.driver.Name(), err)
	}

	c.commits.Add(1)
	c.lastPhysical = physical
	c.lastCommit = start
	c.lastError = ""
	return nil
}

// lock 在超时内获取锁
func (c *Controller) lock() (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.lockTimeout)
	defer cancel()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.lockTimeouts.Add(1)
		c.logger.Warn("获取通道锁超时", zap.Duration("timeout", c.lockTimeout))
		return nil, errors.Newf(errors.ErrLockTimeout, "%s", c.lockTimeout)
	}
	return func() { c.sem.Release(1) }, nil
}

// lockOpen 加锁后再确认未关闭，Close 可能在等锁期间完成
func (c *Controller) lockOpen() (func(), error) {
	release, err := c.lock()
	if err != nil {
		return nil, err
	}
	if c.closed.Load() {
		release()
		return nil, errors.New(errors.ErrControllerClosed)
	}
	return release, nil
}

func (c *Controller) checkReady() error {
	if c.closed.Load() {
		return errors.New(errors.ErrControllerClosed)
	}
	if !c.ready.Load() {
		return errors.New(errors.ErrNotInitialized)
	}
	return nil
}

func (c *Controller) checkChannel(ch int) error {
	if ch < 0 || ch >= c.channelCount {
		return errors.Newf(errors.ErrChannelOutOfRange, "通道 %d 超出范围 (0-%d)", ch, c.channelCount-1)
	}
	return nil
}

// change 构造变化事件；调用方持锁
func (c *Controller) change(op Operation, ch int, old, updated ChannelMask) Change {
	return Change{
		Operation: op,
		Channel:   ch,
		OldMask:   old,
		NewMask:   updated,
		Physical:  c.lastPhysical,
		Polarity:  c.polarity,
		Source:    c.source,
		Time:      time.Now(),
	}
}

func (c *Controller) notify(change Change) {
	c.subMu.RLock()
	handlers := make([]ChangeHandler, len(c.subscribers))
	copy(handlers, c.subscribers)
	c.subMu.RUnlock()

	for _, h := range handlers {
		h(change)
	}
}
