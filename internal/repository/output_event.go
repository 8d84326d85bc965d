package repository

import (
	"context"
	"time"

	"github.com/wfunc/latchctl/internal/errors"
	"github.com/wfunc/latchctl/internal/models"
	"gorm.io/gorm"
)

// 查询条数上限
const (
	DefaultEventLimit = 50
	MaxEventLimit     = 1000
)

// OutputEventRepository 输出变化记录仓库
type OutputEventRepository struct {
	db *gorm.DB
}

// NewOutputEventRepository 创建仓库
func NewOutputEventRepository(db *gorm.DB) *OutputEventRepository {
	return &OutputEventRepository{db: db}
}

// Create 写入一条记录
func (r *OutputEventRepository) Create(ctx context.Context, event *models.OutputEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return errors.Wrap(err, errors.ErrDatabaseInsert)
	}
	return nil
}

// CreateBatch 批量写入
func (r *OutputEventRepository) CreateBatch(ctx context.Context, events []*models.OutputEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(events, 100).Error; err != nil {
		return errors.Wrap(err, errors.ErrDatabaseInsert)
	}
	return nil
}

// Recent 最近的记录，按时间倒序
func (r *OutputEventRepository) Recent(ctx context.Context, limit int) ([]*models.OutputEvent, error) {
	return r.Query(ctx, &models.OutputEventQuery{Limit: limit})
}

// Query 按条件查询，按时间倒序
func (r *OutputEventRepository) Query(ctx context.Context, query *models.OutputEventQuery) ([]*models.OutputEvent, error) {
	db := r.db.WithContext(ctx).Model(&models.OutputEvent{})

	if query.Channel != nil {
		db = db.Where("channel = ?", *query.Channel)
	}
	if query.Operation != "" {
		db = db.Where("operation = ?", query.Operation)
	}
	if !query.Since.IsZero() {
		db = db.Where("created_at >= ?", query.Since)
	}

	var events []*models.OutputEvent
	err := db.Order("created_at DESC").Order("id DESC").
		Limit(clampLimit(query.Limit)).
		Find(&events).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	return events, nil
}

// Count 记录总数
func (r *OutputEventRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.OutputEvent{}).Count(&count).Error; err != nil {
		return 0, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	return count, nil
}

// Prune 删除 before 之前的记录，返回删除条数
func (r *OutputEventRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.OutputEvent{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, errors.ErrDatabaseDelete)
	}
	return result.RowsAffected, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultEventLimit
	case limit > MaxEventLimit:
		return MaxEventLimit
	default:
		return limit
	}
}
