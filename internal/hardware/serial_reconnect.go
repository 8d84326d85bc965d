package hardware

import (
	"os"
	"strings"
	"time"

	"github.com/wfunc/latchctl/internal/errors"
	"go.uber.org/zap"
)

// reconnectInterval 两次重连尝试的最小间隔，避免掉线期间每次提交都去打开串口
var reconnectInterval = 2 * time.Second

// SerialPortExists 检查串口设备是否存在
func SerialPortExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// isDisconnectError 判断串口错误是否为断线（USB 拔出、设备重新枚举）
func isDisconnectError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "input/output error") ||
		strings.Contains(errStr, "device not configured") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "no such file") ||
		strings.Contains(errStr, "bad file descriptor")
}

// dropPortLocked 断线后释放串口，下一次提交时重连；调用方持有 d.mu
func (d *SerialBridgeDriver) dropPortLocked(cause error) {
	if d.port == nil {
		return
	}
	d.logger.Error("检测到串口断线",
		zap.String("port", d.config.Port),
		zap.Error(cause))

	d.port.Close()
	d.port = nil
	d.reader = nil
}

// reconnectLocked 串口已断开时尝试重新打开；调用方持有 d.mu
func (d *SerialBridgeDriver) reconnectLocked() error {
	if d.port != nil {
		return nil
	}
	if d.closed {
		return errors.New(errors.ErrDeviceOffline, d.config.Port)
	}

	now := time.Now()
	if !d.lastReconnect.IsZero() && now.Sub(d.lastReconnect) < reconnectInterval {
		return errors.New(errors.ErrDeviceOffline, d.config.Port)
	}
	d.lastReconnect = now

	if !d.portExists(d.config.Port) {
		d.logger.Warn("串口设备不存在，等待重新插入", zap.String("port", d.config.Port))
		return errors.New(errors.ErrDeviceOffline, d.config.Port)
	}

	if err := d.openLocked(); err != nil {
		return err
	}
	d.reconnects++
	d.logger.Info("串口重连成功",
		zap.String("port", d.config.Port),
		zap.Int("reconnects", d.reconnects))
	return nil
}

// Reconnects 成功重连次数
func (d *SerialBridgeDriver) Reconnects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reconnects
}
