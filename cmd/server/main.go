package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/wfunc/latchctl/internal/api"
	"github.com/wfunc/latchctl/internal/config"
	"github.com/wfunc/latchctl/internal/database"
	"github.com/wfunc/latchctl/internal/errors"
	"github.com/wfunc/latchctl/internal/hardware"
	"github.com/wfunc/latchctl/internal/logger"
	"github.com/wfunc/latchctl/internal/repository"
	"github.com/wfunc/latchctl/internal/service"
	ws "github.com/wfunc/latchctl/internal/websocket"
	"go.uber.org/zap"
)

// @title latchctl API
// @version 1.0
// @description 锁存器/继电器输出控制接口
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	hardware *hardware.Manager
	recorder *service.EventRecorder
	events   *repository.OutputEventRepository
	hub      *ws.Hub
	router   *api.Router
	http     *http.Server

	// 关闭控制
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		mockMode    = flag.Bool("mock", false, "模拟模式（不访问硬件）")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()
	if *mockMode {
		cfg.Latch.MockMode = true
	}

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	printStartInfo(cfg)

	server := NewServer(cfg)

	if err := server.Start(); err != nil {
		logger.Fatal("服务器启动失败", zap.Error(err))
	}

	server.WaitForShutdown()

	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("服务器已安全关闭")
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:        cfg,
		logger:     logger.GetLogger(),
		shutdownCh: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动输出控制服务...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
		zap.String("driver", s.cfg.Latch.Driver),
		zap.Int("channels", s.cfg.Latch.Channels),
	)

	if err := s.initComponents(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "初始化组件失败")
	}

	if err := s.startServices(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "启动服务失败")
	}

	// 监听配置变化
	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	s.logger.Info("服务器启动成功",
		zap.String("http", s.http.Addr),
		zap.String("websocket", s.cfg.WebSocket.Path),
	)
	return nil
}

// initComponents 初始化组件
func (s *Server) initComponents() error {
	s.logger.Info("初始化组件...")

	if err := s.initHardware(); err != nil {
		return err
	}

	if s.cfg.Database.Enabled {
		if err := s.initDatabase(); err != nil {
			return err
		}
	}

	s.hub = ws.NewHub(logger.GetModuleLogger("websocket"))

	opts := api.Options{
		Server:       s.cfg.Server,
		WebSocket:    s.cfg.WebSocket,
		Security:     s.cfg.Security,
		Callbacks:    api.ControllerCallbacks(s.hardware.Controller()),
		Channels:     s.cfg.Latch.Channels,
		Hub:          s.hub,
		HardwareInfo: s.hardware.GetStatistics,
		Logger:       logger.GetModuleLogger("api"),
	}
	if s.events != nil {
		opts.Events = s.events
		opts.Health = func(ctx context.Context) error {
			return database.Ping(ctx, database.GetDB())
		}
	}
	s.router = api.NewRouter(opts)

	s.http = &http.Server{
		Addr:         net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port)),
		Handler:      s.router.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.logger.Info("所有组件初始化完成")
	return nil
}

// initHardware 初始化驱动和控制器
func (s *Server) initHardware() error {
	s.logger.Info("初始化硬件...", zap.Bool("mock_mode", s.cfg.Latch.MockMode))

	s.hardware = hardware.NewManager(s.cfg.Latch, s.cfg.Serial)
	return s.hardware.Initialize()
}

// initDatabase 初始化输出记录数据库
func (s *Server) initDatabase() error {
	s.logger.Info("初始化数据库...")

	if err := database.Init(&s.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}

	if s.cfg.Database.AutoMigrate {
		s.logger.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(database.GetDB()); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	s.events = repository.NewOutputEventRepository(database.GetDB())
	s.recorder = service.NewEventRecorderFromRepository(s.events, s.cfg.Database.RetentionDays)
	s.recorder.Attach(s.hardware.Controller())

	s.logger.Info("数据库初始化完成", zap.String("session_id", s.recorder.SessionID()))
	return nil
}

// startServices 启动服务
func (s *Server) startServices() error {
	s.logger.Info("启动服务...")

	if s.recorder != nil {
		s.recorder.Start()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()

	// 先监听端口，绑定失败直接返回
	listener, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return errors.Wrapf(err, errors.ErrUnknown, "监听 %s 失败", s.http.Addr)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
		}
	}()

	s.logger.Info("所有服务启动完成")
	return nil
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)

	signal.Notify(sigCh,
		syscall.SIGINT,  // Ctrl+C
		syscall.SIGTERM, // kill命令
		syscall.SIGQUIT, // Ctrl+\
	)

	sig := <-sigCh
	s.logger.Info("收到退出信号", zap.String("signal", sig.String()))

	close(s.shutdownCh)
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 停止接收新请求
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP服务关闭失败", zap.Error(err))
	}

	// 取消主上下文，Hub 关闭所有连接
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		return errors.New(errors.ErrTimeout, "关闭超时")
	}

	s.closeComponents()

	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}
	return nil
}

// closeComponents 关闭组件
// 记录器先于控制器停止，保证最后的变化已写入
func (s *Server) closeComponents() {
	s.logger.Info("关闭组件...")

	if s.recorder != nil {
		s.recorder.Stop()
		if dropped := s.recorder.Dropped(); dropped > 0 {
			s.logger.Warn("部分输出记录未写入", zap.Uint64("dropped", dropped))
		}
	}

	if err := s.hardware.Stop(); err != nil {
		s.logger.Error("关闭硬件失败", zap.Error(err))
	}

	if err := database.Close(); err != nil {
		s.logger.Error("关闭数据库失败", zap.Error(err))
	}

	s.logger.Info("所有组件已关闭")
}

// reloadConfig 热重载：日志级别和输出极性
func (s *Server) reloadConfig(newCfg *config.Config) {
	if newCfg.Log.Level != s.cfg.Log.Level {
		logger.SetLevel(newCfg.Log.Level)
		s.logger.Info("日志级别已更新", zap.String("level", newCfg.Log.Level))
	}

	if err := s.hardware.ApplyConfig(newCfg.Latch); err != nil {
		s.logger.Error("应用硬件配置失败", zap.Error(err))
	}

	s.cfg = newCfg
	s.logger.Info("配置重新加载完成")
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("latchctl 输出控制服务\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("latchctl 输出控制服务")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  latchctl-server [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  LATCHCTL_LATCH_DRIVER     驱动类型 (74hc595/74hc4094/74hc164/74hc373/serial/mock)")
	fmt.Println("  LATCHCTL_SERVER_PORT      HTTP端口")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  latchctl-server -config=/etc/latchctl/config.yaml")
	fmt.Println("  latchctl-server -mock")
}

// printStartInfo 打印启动信息
func printStartInfo(cfg *config.Config) {
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("  %s\n", cfg.Server.SystemName)
	fmt.Printf("版本: %s | 模式: %s | PID: %d\n", Version, cfg.Server.Mode, os.Getpid())
	fmt.Printf("驱动: %s | 通道: %d | 极性: %s\n", cfg.Latch.Driver, cfg.Latch.Channels, cfg.Latch.Polarity)
	fmt.Printf("配置文件: %s\n", config.ConfigFile())
	fmt.Println("═══════════════════════════════════════════════════════════════")
}
