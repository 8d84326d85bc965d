package hardware

import (
	"bufio"
	stderrors "errors"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
	"github.com/wfunc/latchctl/internal/errors"
	"github.com/wfunc/latchctl/internal/logger"
	"go.uber.org/zap"
)

// SerialPort 串口接口（用于测试）
type SerialPort interface {
	io.ReadWriteCloser
	Flush() error
}

// SerialBridgeConfig 串口锁存板配置
type SerialBridgeConfig struct {
	Port        string
	BaudRate    int
	DataBits    byte
	StopBits    byte
	Parity      string
	ReadTimeout time.Duration
	WaitAck     bool
	RetryTimes  int
}

// SerialBridgeDriver 通过 UART 驱动远端锁存板
//
// 每次提交发送一帧 SET_OUTPUTS，板子把物理字写入自己的锁存器。
type SerialBridgeDriver struct {
	config SerialBridgeConfig
	open   func(*serial.Config) (SerialPort, error)

	mu     sync.Mutex
	port   SerialPort
	reader *bufio.Reader
	seq    uint16

	closed        bool
	portExists    func(string) bool
	lastReconnect time.Time
	reconnects    int

	logger *zap.Logger
}

// NewSerialBridgeDriver 创建串口锁存板驱动，串口在 Init 时打开
func NewSerialBridgeDriver(config SerialBridgeConfig) *SerialBridgeDriver {
	if config.BaudRate == 0 {
		config.BaudRate = 115200
	}
	if config.DataBits == 0 {
		config.DataBits = 8
	}
	if config.StopBits == 0 {
		config.StopBits = 1
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 200 * time.Millisecond
	}
	return &SerialBridgeDriver{
		config: config,
		open: func(c *serial.Config) (SerialPort, error) {
			return serial.OpenPort(c)
		},
		portExists: SerialPortExists,
		logger:     logger.GetModuleLogger("hardware"),
	}
}

// NewSerialBridgeDriverWithPort 使用已打开的串口（测试注入）
func NewSerialBridgeDriverWithPort(config SerialBridgeConfig, port SerialPort) *SerialBridgeDriver {
	d := NewSerialBridgeDriver(config)
	d.open = func(*serial.Config) (SerialPort, error) {
		return port, nil
	}
	d.portExists = func(string) bool { return true }
	return d
}

// Init 打开串口并清空缓冲区
func (d *SerialBridgeDriver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port != nil {
		return nil
	}
	d.closed = false
	return d.openLocked()
}

// openLocked 打开串口；调用方持有 d.mu
func (d *SerialBridgeDriver) openLocked() error {
	parity := serial.ParityNone
	switch d.config.Parity {
	case "O", "odd":
		parity = serial.ParityOdd
	case "E", "even":
		parity = serial.ParityEven
	}

	port, err := d.open(&serial.Config{
		Name:        d.config.Port,
		Baud:        d.config.BaudRate,
		Size:        d.config.DataBits,
		Parity:      parity,
		StopBits:    serial.StopBits(d.config.StopBits),
		ReadTimeout: d.config.ReadTimeout,
	})
	if err != nil {
		d.logger.Error("打开串口失败",
			zap.String("port", d.config.Port),
			zap.Error(err))
		return errors.Wrapf(err, errors.ErrSerialPortOpen, "%s", d.config.Port)
	}
	if err := port.Flush(); err != nil {
		d.logger.Warn("清空串口缓冲区失败", zap.Error(err))
	}

	d.port = port
	d.reader = bufio.NewReader(port)

	d.logger.Info("串口连接成功",
		zap.String("port", d.config.Port),
		zap.Int("baud_rate", d.config.BaudRate))
	return nil
}

// Commit 发送 SET_OUTPUTS，按配置等待 ACK
// 串口掉线后下一次提交会尝试重新打开
func (d *SerialBridgeDriver) Commit(bits ChannelMask, count int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.reconnectLocked(); err != nil {
		return err
	}

	d.seq++
	frame := NewSetOutputsFrame(d.seq, bits, count)
	return d.send(frame)
}

// SetOutputEnabled 远端输出使能
func (d *SerialBridgeDriver) SetOutputEnabled(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.reconnectLocked(); err != nil {
		return err
	}

	var v byte
	if enabled {
		v = 0x01
	}
	d.seq++
	return d.send(NewFrame(CmdOutputEnable, d.seq, []byte{v}))
}

// send 发送一帧，超时按 RetryTimes 重发；调用方持有 d.mu
func (d *SerialBridgeDriver) send(frame *Frame) error {
	raw := frame.ToBytes()

	var lastErr error
	for attempt := 0; attempt <= d.config.RetryTimes; attempt++ {
		if _, err := d.port.Write(raw); err != nil {
			if isDisconnectError(err) {
				d.dropPortLocked(err)
			}
			return errors.Wrapf(err, errors.ErrSerialPortWrite, "%v", err)
		}
		if !d.config.WaitAck {
			return nil
		}

		lastErr = d.waitAck(frame.Sequence)
		if lastErr == nil {
			return nil
		}
		if !errors.IsRetryable(lastErr) {
			return lastErr
		}
		d.logger.Warn("等待ACK超时，重发",
			zap.Uint16("seq", frame.Sequence),
			zap.Int("attempt", attempt+1))
	}
	return lastErr
}

// waitAck 读取回包直到匹配序列号的 ACK/NACK
func (d *SerialBridgeDriver) waitAck(seq uint16) error {
	deadline := time.Now().Add(d.config.ReadTimeout * 2)
	for time.Now().Before(deadline) {
		f, err := ReadFrame(d.reader)
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				// tarm/serial 读超时返回 EOF
				return errors.Newf(errors.ErrSerialTimeout, "seq=%d", seq)
			}
			return errors.Wrap(err, errors.ErrInvalidResponse)
		}
		if len(f.Data) < 2 {
			continue
		}
		ackSeq := uint16(f.Data[0])<<8 | uint16(f.Data[1])
		if ackSeq != seq {
			continue
		}

		switch f.Command {
		case CmdACK:
			return nil
		case CmdNACK:
			code := byte(0)
			if len(f.Data) > 2 {
				code = f.Data[2]
			}
			if code == ErrorBusy {
				return errors.Newf(errors.ErrDeviceBusy, "seq=%d", seq)
			}
			return errors.Newf(errors.ErrCommandFailed, "NACK seq=%d code=0x%02X", seq, code)
		}
	}
	return errors.Newf(errors.ErrSerialTimeout, "seq=%d", seq)
}

// Name 驱动名称
func (d *SerialBridgeDriver) Name() string {
	return "Serial Latch Bridge (" + d.config.Port + ")"
}

// MaxChannels 协议按 32 位传输
func (d *SerialBridgeDriver) MaxChannels() int {
	return MaxChannels
}

// Close 关闭串口
func (d *SerialBridgeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	d.reader = nil
	if err != nil {
		d.logger.Error("关闭串口失败", zap.Error(err))
		return err
	}
	d.logger.Info("串口已断开", zap.String("port", d.config.Port))
	return nil
}
