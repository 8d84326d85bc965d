package hardware

// Driver 锁存/移位硬件驱动接口
//
// 控制器只依赖这个接口。新增 I2C/SPI 扩展芯片时实现它即可，
// 不需要修改 Controller。
type Driver interface {
	// Init 配置引脚并把硬件置于确定状态
	Init() error
	// Commit 把物理字的低 count 位输出到硬件
	Commit(bits ChannelMask, count int) error
	// Name 驱动名称
	Name() string
	// MaxChannels 驱动能力上限
	MaxChannels() int
}

// OutputEnabler 带输出使能脚（OE）的驱动
type OutputEnabler interface {
	SetOutputEnabled(enabled bool) error
}
