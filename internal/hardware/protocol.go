package hardware

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// 帧定义
const (
	FrameHeader byte   = 0xAA
	FrameTail   byte   = 0x55
	MinFrameLen uint16 = 9 // 帧头(1) + 长度(2) + 命令(1) + 序列号(2) + CRC(2) + 帧尾(1)
	MaxFrameLen uint16 = 64
)

// 命令码定义
const (
	CmdSetOutputs    byte = 0x06 // 设置输出字：word(4, 大端) + count(1)
	CmdOutputEnable  byte = 0x07 // 输出使能：0x00 关闭 / 0x01 打开
	CmdStatusQuery   byte = 0x21 // 状态查询
	EventStatusReply byte = 0x22 // 状态上报：word(4) + count(1) + enabled(1)
	CmdHeartbeat     byte = 0x31 // 心跳包
	CmdACK           byte = 0x80 // ACK确认：原序列号(2)
	CmdNACK          byte = 0x81 // NACK拒绝：原序列号(2) + 错误码(1)
)

// 错误码定义（NACK 携带）
const (
	ErrorUnsupported  byte = 0x01 // 命令不支持
	ErrorInvalidParam byte = 0x02 // 参数错误
	ErrorBusy         byte = 0x03 // 设备忙
	ErrorHardware     byte = 0x04 // 硬件故障
	ErrorChecksum     byte = 0x05 // 校验失败
	ErrorOutOfRange   byte = 0x06 // 超出范围
)

// Frame 数据帧结构
type Frame struct {
	Header   byte
	Length   uint16 // 整帧长度
	Command  byte
	Sequence uint16
	Data     []byte
	CRC16    uint16
	Tail     byte
}

// NewFrame 创建新的数据帧
func NewFrame(cmd byte, seq uint16, data []byte) *Frame {
	f := &Frame{
		Header:   FrameHeader,
		Command:  cmd,
		Sequence: seq,
		Data:     data,
		Tail:     FrameTail,
	}
	f.Length = MinFrameLen + uint16(len(data))
	f.CRC16 = f.CalculateCRC()
	return f
}

// NewSetOutputsFrame 构造 SET_OUTPUTS 帧
func NewSetOutputsFrame(seq uint16, word ChannelMask, count int) *Frame {
	data := make([]byte, 5)
	binary.BigEndian.PutUint32(data, uint32(word))
	data[4] = byte(count)
	return NewFrame(CmdSetOutputs, seq, data)
}

// ParseSetOutputs 解析 SET_OUTPUTS 数据段
func ParseSetOutputs(data []byte) (ChannelMask, int, error) {
	if len(data) != 5 {
		return 0, 0, fmt.Errorf("set outputs payload: want 5 bytes, got %d", len(data))
	}
	return ChannelMask(binary.BigEndian.Uint32(data[:4])), int(data[4]), nil
}

// ToBytes 将帧转换为字节数组
func (f *Frame) ToBytes() []byte {
	buf := make([]byte, f.Length)
	idx := 0

	buf[idx] = f.Header
	idx++

	binary.BigEndian.PutUint16(buf[idx:], f.Length)
	idx += 2

	buf[idx] = f.Command
	idx++

	binary.BigEndian.PutUint16(buf[idx:], f.Sequence)
	idx += 2

	if len(f.Data) > 0 {
		copy(buf[idx:], f.Data)
		idx += len(f.Data)
	}

	binary.BigEndian.PutUint16(buf[idx:], f.CRC16)
	idx += 2

	buf[idx] = f.Tail

	return buf
}

// FromBytes 从字节数组解析帧
func (f *Frame) FromBytes(data []byte) error {
	if len(data) < int(MinFrameLen) {
		return fmt.Errorf("frame too short: %d < %d", len(data), MinFrameLen)
	}

	if data[0] != FrameHeader {
		return fmt.Errorf("invalid frame header: 0x%02X", data[0])
	}

	f.Header = data[0]
	f.Length = binary.BigEndian.Uint16(data[1:3])
	if f.Length < MinFrameLen || f.Length > MaxFrameLen {
		return fmt.Errorf("invalid frame length: %d", f.Length)
	}
	if len(data) < int(f.Length) {
		return fmt.Errorf("incomplete frame: %d < %d", len(data), f.Length)
	}
	if data[f.Length-1] != FrameTail {
		return fmt.Errorf("invalid frame tail: 0x%02X", data[f.Length-1])
	}

	f.Command = data[3]
	f.Sequence = binary.BigEndian.Uint16(data[4:6])

	f.Data = nil
	if dataLen := f.Length - MinFrameLen; dataLen > 0 {
		f.Data = make([]byte, dataLen)
		copy(f.Data, data[6:6+dataLen])
	}

	crcIdx := f.Length - 3
	f.CRC16 = binary.BigEndian.Uint16(data[crcIdx : crcIdx+2])
	f.Tail = data[f.Length-1]

	if calc := f.CalculateCRC(); calc != f.CRC16 {
		return fmt.Errorf("CRC mismatch: calc=0x%04X, recv=0x%04X", calc, f.CRC16)
	}

	return nil
}

// CalculateCRC 计算从命令码到数据的CRC
func (f *Frame) CalculateCRC() uint16 {
	data := make([]byte, 0, 3+len(f.Data))
	data = append(data, f.Command)
	data = append(data, byte(f.Sequence>>8), byte(f.Sequence&0xFF))
	data = append(data, f.Data...)
	return CRC16XMODEM(data)
}

// CRC16XMODEM CRC16-XMODEM算法
func CRC16XMODEM(data []byte) uint16 {
	crc := uint16(0x0000)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// ReadFrame 从字节流中读取下一帧，帧头之前的噪声字节被丢弃
func ReadFrame(r *bufio.Reader) (*Frame, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != FrameHeader {
			continue
		}

		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		length := binary.BigEndian.Uint16(lenBuf[:])
		if length < MinFrameLen || length > MaxFrameLen {
			// 不是合法帧头，继续找
			continue
		}

		raw := make([]byte, length)
		raw[0] = FrameHeader
		copy(raw[1:3], lenBuf[:])
		if _, err := io.ReadFull(r, raw[3:]); err != nil {
			return nil, err
		}

		f := &Frame{}
		if err := f.FromBytes(raw); err != nil {
			return nil, err
		}
		return f, nil
	}
}
