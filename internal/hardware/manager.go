package hardware

import (
	"io"
	"sync"
	"time"

	"github.com/wfunc/latchctl/internal/config"
	"github.com/wfunc/latchctl/internal/errors"
	"github.com/wfunc/latchctl/internal/logger"
	"go.uber.org/zap"
)

// Manager 硬件管理器
// 负责按配置组装引脚、驱动和控制器，并管理它们的生命周期
type Manager struct {
	mu     sync.RWMutex
	logger *zap.Logger

	latch  config.LatchConfig
	serial config.SerialConfig

	pins       PinDriver
	driver     Driver
	injected   bool // driver 由调用方提供
	controller *Controller

	running   bool
	startTime time.Time
}

// NewManager 创建硬件管理器
func NewManager(latch config.LatchConfig, serialCfg config.SerialConfig) *Manager {
	return &Manager{
		logger: logger.GetModuleLogger("hardware"),
		latch:  latch,
		serial: serialCfg,
	}
}

// NewManagerWithDriver 使用外部构造的驱动（测试和扩展驱动使用）
func NewManagerWithDriver(latch config.LatchConfig, driver Driver) *Manager {
	m := NewManager(latch, config.SerialConfig{})
	m.driver = driver
	m.injected = driver != nil
	return m
}

// Initialize 组装并初始化控制器
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New(errors.ErrAlreadyInitialized, "hardware manager")
	}

	polarity, err := ParsePolarity(m.latch.Polarity)
	if err != nil {
		return errors.Wrap(err, errors.ErrInvalidPolarity)
	}

	driverName := m.latch.Driver
	if m.latch.MockMode && !needsPins(driverName) {
		driverName = DriverMock
	}

	if m.driver == nil {
		if needsPins(driverName) {
			m.pins, err = NewPins(m.latch)
			if err != nil {
				return err
			}
		}

		latch := m.latch
		latch.Driver = driverName
		m.driver, err = NewDriver(latch, m.serial, m.pins)
		if err != nil {
			m.closePins()
			return err
		}
	}

	m.controller = NewController(m.driver, m.latch.Channels,
		WithLockTimeout(lockTimeoutOf(m.latch)))

	if err := m.controller.Initialize(polarity); err != nil {
		m.controller.Close()
		m.closePins()
		m.controller = nil
		if !m.injected {
			m.driver = nil
		}
		return err
	}

	m.running = true
	m.startTime = time.Now()

	m.logger.Info("硬件管理器初始化完成",
		zap.String("driver", m.driver.Name()),
		zap.Int("channels", m.controller.ChannelCount()),
		zap.String("polarity", polarity.String()),
		zap.Bool("mock_mode", m.latch.MockMode))
	return nil
}

// Stop 关闭所有输出并释放硬件
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	// 退出前关断全部通道
	if err := m.controller.SetAllOff(); err != nil {
		m.logger.Warn("关断输出失败", zap.Error(err))
	}
	err := m.controller.Close()
	m.closePins()
	m.running = false

	m.logger.Info("硬件管理器已停止")
	return err
}

// ApplyConfig 热重载：只应用极性，驱动和通道数不支持热切换
func (m *Manager) ApplyConfig(latch config.LatchConfig) error {
	m.mu.RLock()
	ctrl := m.controller
	current := m.latch
	m.mu.RUnlock()

	if ctrl == nil {
		return errors.New(errors.ErrNotInitialized)
	}

	if latch.Driver != current.Driver || latch.Channels != current.Channels {
		m.logger.Warn("驱动和通道数修改需要重启后生效",
			zap.String("driver", latch.Driver),
			zap.Int("channels", latch.Channels))
	}

	polarity, err := ParsePolarity(latch.Polarity)
	if err != nil {
		return errors.Wrap(err, errors.ErrInvalidPolarity)
	}
	if err := ctrl.SetPolarity(polarity); err != nil {
		return err
	}

	m.mu.Lock()
	m.latch.Polarity = latch.Polarity
	m.mu.Unlock()
	return nil
}

// Controller 获取控制器
func (m *Manager) Controller() *Controller {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controller
}

// Pins 获取引脚实现（模拟模式下为 *RecordingPins）
func (m *Manager) Pins() PinDriver {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pins
}

// IsRunning 检查运行状态
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Uptime 运行时长
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return 0
	}
	return time.Since(m.startTime)
}

// GetStatistics 获取统计信息
func (m *Manager) GetStatistics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[string]interface{}{
		"running":   m.running,
		"mock_mode": m.latch.MockMode,
		"driver":    m.latch.Driver,
	}
	if m.running {
		stats["uptime"] = time.Since(m.startTime).String()
	}
	if m.controller != nil {
		stats["controller"] = m.controller.Status()
	}
	if bridge, ok := m.driver.(*SerialBridgeDriver); ok {
		stats["serial_reconnects"] = bridge.Reconnects()
	}
	return stats
}

func (m *Manager) closePins() {
	if closer, ok := m.pins.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			m.logger.Warn("释放GPIO失败", zap.Error(err))
		}
	}
	m.pins = nil
}
