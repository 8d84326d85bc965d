package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/latchctl/internal/hardware"
	"github.com/wfunc/latchctl/internal/logger"
	"github.com/wfunc/latchctl/internal/models"
	"github.com/wfunc/latchctl/internal/repository"
	"go.uber.org/zap"
)

// EventStore 记录写入接口
type EventStore interface {
	CreateBatch(ctx context.Context, events []*models.OutputEvent) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// RecorderOptions 记录器参数
type RecorderOptions struct {
	BufferSize    int           // 待写入队列长度
	BatchSize     int           // 达到该条数立即写入
	FlushInterval time.Duration // 定时写入间隔
	Retention     time.Duration // 保留时长，0 表示不清理
	PruneInterval time.Duration
}

// DefaultRecorderOptions 默认参数
func DefaultRecorderOptions() RecorderOptions {
	return RecorderOptions{
		BufferSize:    1000,
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
		Retention:     30 * 24 * time.Hour,
		PruneInterval: time.Hour,
	}
}

// EventRecorder 订阅控制器状态变化并异步写入数据库
type EventRecorder struct {
	store     EventStore
	opts      RecorderOptions
	logger    *zap.Logger
	sessionID string

	queue   chan *models.OutputEvent
	buffer  []*models.OutputEvent
	dropped uint64
	mu      sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewEventRecorder 创建记录器
func NewEventRecorder(store EventStore, opts RecorderOptions) *EventRecorder {
	def := DefaultRecorderOptions()
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = def.FlushInterval
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = def.PruneInterval
	}

	return &EventRecorder{
		store:     store,
		opts:      opts,
		logger:    logger.GetModuleLogger("database"),
		sessionID: uuid.New().String(),
		queue:     make(chan *models.OutputEvent, opts.BufferSize),
		buffer:    make([]*models.OutputEvent, 0, opts.BatchSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// NewEventRecorderFromRepository 基于 gorm 仓库创建记录器
func NewEventRecorderFromRepository(repo *repository.OutputEventRepository, retentionDays int) *EventRecorder {
	opts := DefaultRecorderOptions()
	opts.Retention = time.Duration(retentionDays) * 24 * time.Hour
	return NewEventRecorder(repo, opts)
}

// Attach 订阅控制器
func (r *EventRecorder) Attach(ctrl *hardware.Controller) {
	ctrl.Subscribe(r.Record)
}

// Start 启动后台写入协程
func (r *EventRecorder) Start() {
	go r.backgroundWriter()
}

// Record 记录一次状态变化，队列满时丢弃，不阻塞控制器
func (r *EventRecorder) Record(change hardware.Change) {
	event := &models.OutputEvent{
		SessionID: r.sessionID,
		Operation: string(change.Operation),
		Channel:   change.Channel,
		State:     change.Channel >= 0 && change.NewMask.Bit(change.Channel),
		OldMask:   uint32(change.OldMask),
		NewMask:   uint32(change.NewMask),
		Physical:  uint32(change.Physical),
		Polarity:  change.Polarity.String(),
		Source:    change.Source,
		CreatedAt: change.Time,
	}

	select {
	case r.queue <- event:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		r.logger.Warn("记录队列已满，丢弃输出记录",
			zap.String("operation", event.Operation),
			zap.Int("channel", event.Channel))
	}
}

// Dropped 被丢弃的记录数
func (r *EventRecorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// SessionID 本次运行的会话ID
func (r *EventRecorder) SessionID() string {
	return r.sessionID
}

// Stop 写入剩余记录后退出
func (r *EventRecorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	<-r.done
}

func (r *EventRecorder) backgroundWriter() {
	defer close(r.done)

	flushTicker := time.NewTicker(r.opts.FlushInterval)
	defer flushTicker.Stop()
	pruneTicker := time.NewTicker(r.opts.PruneInterval)
	defer pruneTicker.Stop()

	r.prune()

	for {
		select {
		case event := <-r.queue:
			r.buffer = append(r.buffer, event)
			if len(r.buffer) >= r.opts.BatchSize {
				r.flush()
			}

		case <-flushTicker.C:
			r.flush()

		case <-pruneTicker.C:
			r.prune()

		case <-r.stopCh:
			// 退出前取完队列
			for {
				select {
				case event := <-r.queue:
					r.buffer = append(r.buffer, event)
				default:
					r.flush()
					return
				}
			}
		}
	}
}

// flush 批量写入缓冲区
func (r *EventRecorder) flush() {
	if len(r.buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	err := r.store.CreateBatch(ctx, r.buffer)
	logger.LogDatabaseOperation("create_batch", "output_events", time.Since(start), err)
	if err != nil {
		r.logger.Error("批量写入输出记录失败", zap.Int("count", len(r.buffer)), zap.Error(err))
	}

	r.buffer = make([]*models.OutputEvent, 0, r.opts.BatchSize)
}

// prune 清理过期记录
func (r *EventRecorder) prune() {
	if r.opts.Retention <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := r.store.Prune(ctx, time.Now().Add(-r.opts.Retention))
	if err != nil {
		r.logger.Warn("清理过期输出记录失败", zap.Error(err))
		return
	}
	if deleted > 0 {
		r.logger.Info("清理过期输出记录", zap.Int64("deleted", deleted))
	}
}
