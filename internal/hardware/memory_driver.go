package hardware

import (
	"sync"
	"time"

	"github.com/wfunc/latchctl/internal/logger"
	"go.uber.org/zap"
)

// CommitRecord 一次提交记录
type CommitRecord struct {
	Bits  ChannelMask
	Count int
	Time  time.Time
}

// MemoryDriver 模拟驱动（不连接真实硬件）
type MemoryDriver struct {
	mu     sync.RWMutex
	logger *zap.Logger

	name        string
	maxChannels int
	initialized bool
	enabled     bool
	commits     []CommitRecord

	// 注入的故障，用于测试
	InitErr   error
	CommitErr error
}

// NewMemoryDriver 创建模拟驱动
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		logger:      logger.GetModuleLogger("hardware"),
		name:        "Mock Latch Driver",
		maxChannels: MaxChannels,
		enabled:     true,
	}
}

// Init 模拟初始化
func (m *MemoryDriver) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.InitErr != nil {
		return m.InitErr
	}
	m.initialized = true
	m.logger.Info("模拟驱动已初始化（模拟模式）")
	return nil
}

// Commit 记录提交
func (m *MemoryDriver) Commit(bits ChannelMask, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CommitErr != nil {
		return m.CommitErr
	}
	m.commits = append(m.commits, CommitRecord{Bits: bits, Count: count, Time: time.Now()})
	m.logger.Debug("模拟提交",
		zap.Stringer("bits", bits),
		zap.Int("count", count))
	return nil
}

// SetOutputEnabled 模拟 OE
func (m *MemoryDriver) SetOutputEnabled(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
	return nil
}

// Name 驱动名称
func (m *MemoryDriver) Name() string {
	return m.name
}

// MaxChannels 能力上限
func (m *MemoryDriver) MaxChannels() int {
	return m.maxChannels
}

// Initialized 是否已初始化
func (m *MemoryDriver) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// OutputsEnabled OE 状态
func (m *MemoryDriver) OutputsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Commits 所有提交记录的副本
func (m *MemoryDriver) Commits() []CommitRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CommitRecord, len(m.commits))
	copy(out, m.commits)
	return out
}

// CommitCount 提交次数
func (m *MemoryDriver) CommitCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.commits)
}

// LastCommit 最近一次提交
func (m *MemoryDriver) LastCommit() (CommitRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.commits) == 0 {
		return CommitRecord{}, false
	}
	return m.commits[len(m.commits)-1], true
}

// SetCommitErr 并发安全地设置提交故障
func (m *MemoryDriver) SetCommitErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommitErr = err
}
