package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/wfunc/latchctl/internal/errors"
)

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Latch     LatchConfig     `mapstructure:"latch"`
	Serial    SerialConfig    `mapstructure:"serial"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	SystemName      string        `mapstructure:"system_name"`
	EnableCORS      bool          `mapstructure:"enable_cors"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	Path            string        `mapstructure:"path"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// LatchConfig 输出通道与驱动配置
type LatchConfig struct {
	Driver      string         `mapstructure:"driver"`   // 74hc595 / 74hc4094 / 74hc164 / 74hc373 / serial / mock
	Channels    int            `mapstructure:"channels"` // 1-32
	Polarity    string         `mapstructure:"polarity"` // active_high / active_low
	LockTimeout time.Duration  `mapstructure:"lock_timeout"`
	MockMode    bool           `mapstructure:"mock_mode"` // 调试模式（引脚只记录不输出）
	Shift       ShiftConfig    `mapstructure:"shift"`
	Parallel    ParallelConfig `mapstructure:"parallel"`
	GPIO        GPIOConfig     `mapstructure:"gpio"`
}

// ShiftConfig 移位寄存器引脚，-1 表示未接
type ShiftConfig struct {
	DataPin  int `mapstructure:"data_pin"`
	ClockPin int `mapstructure:"clock_pin"`
	LatchPin int `mapstructure:"latch_pin"`
	OEPin    int `mapstructure:"oe_pin"`
}

// ParallelConfig D锁存器引脚
type ParallelConfig struct {
	DataPins  []int `mapstructure:"data_pins"`
	EnablePin int   `mapstructure:"enable_pin"`
}

// GPIOConfig GPIO字符设备配置
type GPIOConfig struct {
	Chip     string `mapstructure:"chip"`
	Consumer string `mapstructure:"consumer"`
}

// SerialConfig 串口锁存板配置
type SerialConfig struct {
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	DataBits    int           `mapstructure:"data_bits"`
	StopBits    int           `mapstructure:"stop_bits"`
	Parity      string        `mapstructure:"parity"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	WaitAck     bool          `mapstructure:"wait_ack"`
	RetryTimes  int           `mapstructure:"retry_times"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	RetentionDays   int           `mapstructure:"retention_days"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// AuthConfig 控制接口认证配置
type AuthConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Secret       string `mapstructure:"secret"`
	PasswordHash string `mapstructure:"password_hash"` // argon2id 编码
	TokenHours   int    `mapstructure:"token_hours"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		// 设置配置文件路径
		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		// 设置环境变量前缀
		v.SetEnvPrefix("LATCHCTL")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		SetDefaults(v)

		// 读取配置文件
		if err = v.ReadInConfig(); err != nil {
			// 如果配置文件不存在，使用默认配置
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		loaded := &Config{}
		if err = v.Unmarshal(loaded); err != nil {
			return
		}
		if err = loaded.Validate(); err != nil {
			return
		}

		mu.Lock()
		cfg = loaded
		mu.Unlock()
	})

	return err
}

// Load 从指定viper实例解析配置（不影响全局实例，测试用）
func Load(vp *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := vp.Unmarshal(c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// SetDefaults 设置默认配置值
func SetDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.system_name", "Latch Controller")
	v.SetDefault("server.enable_cors", false)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// WebSocket默认配置
	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")

	// 输出通道默认配置（ESP32 DevKit 默认接线）
	v.SetDefault("latch.driver", "74hc595")
	v.SetDefault("latch.channels", 8)
	v.SetDefault("latch.polarity", "active_high")
	v.SetDefault("latch.lock_timeout", "100ms")
	v.SetDefault("latch.mock_mode", false)
	v.SetDefault("latch.shift.data_pin", 23)
	v.SetDefault("latch.shift.clock_pin", 18)
	v.SetDefault("latch.shift.latch_pin", 19)
	v.SetDefault("latch.shift.oe_pin", -1)
	v.SetDefault("latch.parallel.enable_pin", -1)
	v.SetDefault("latch.gpio.chip", "gpiochip0")
	v.SetDefault("latch.gpio.consumer", "latchctl")

	// 串口默认配置
	v.SetDefault("serial.port", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.read_timeout", "200ms")
	v.SetDefault("serial.wait_ack", true)
	v.SetDefault("serial.retry_times", 2)

	// 数据库默认配置
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/latchctl.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.retention_days", 30)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "latchctl.log")
	v.SetDefault("log.file.max_size", 20)
	v.SetDefault("log.file.max_age", 14)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.compress", true)

	// 安全默认配置
	v.SetDefault("security.rate_limit.enabled", false)
	v.SetDefault("security.rate_limit.requests_per_minute", 600)
	v.SetDefault("security.rate_limit.burst", 20)
	v.SetDefault("security.auth.enabled", false)
	v.SetDefault("security.auth.token_hours", 24)
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Latch.Channels < 1 || c.Latch.Channels > 32 {
		return errors.Newf(errors.ErrConfigValidate, "latch.channels 必须在 1-32 之间: %d", c.Latch.Channels)
	}
	// 与 hardware.ParsePolarity 接受的写法一致
	switch c.Latch.Polarity {
	case "active_high", "active_low":
	default:
		return errors.Newf(errors.ErrConfigValidate, "latch.polarity 无效: %q", c.Latch.Polarity)
	}
	if c.Latch.LockTimeout <= 0 {
		return errors.New(errors.ErrConfigValidate, "latch.lock_timeout 必须大于0")
	}
	// 并行锁存每个通道需要一个数据脚
	if strings.ToLower(c.Latch.Driver) == "74hc373" && len(c.Latch.Parallel.DataPins) < c.Latch.Channels {
		return errors.Newf(errors.ErrConfigValidate, "latch.parallel.data_pins 数量 %d 少于通道数 %d",
			len(c.Latch.Parallel.DataPins), c.Latch.Channels)
	}
	if c.Security.Auth.Enabled && c.Security.Auth.Secret == "" {
		return errors.New(errors.ErrConfigValidate, "security.auth.secret 不能为空")
	}
	return nil
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	if v == nil {
		return
	}
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}
		if err := newCfg.Validate(); err != nil {
			fmt.Printf("配置重载校验失败: %v\n", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}

		fmt.Printf("配置已重新加载: %s\n", e.Name)
	})
}

// ConfigFile 当前使用的配置文件
func ConfigFile() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// GetString 获取字符串配置
func GetString(key string) string {
	return v.GetString(key)
}

// GetDuration 获取时间间隔配置
func GetDuration(key string) time.Duration {
	return v.GetDuration(key)
}

// Set 动态设置配置值
func Set(key string, value interface{}) {
	v.Set(key, value)
}
