package database

import (
	"fmt"

	"github.com/wfunc/latchctl/internal/errors"
	"github.com/wfunc/latchctl/internal/logger"
	"github.com/wfunc/latchctl/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AutoMigrate 迁移记录表结构
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New(errors.ErrDatabaseConnect, "数据库未初始化")
	}
	log := logger.GetModuleLogger("database")

	// 多个进程共用同一个 SQLite 文件时避免同时迁移
	if path := sqlitePath(db); path != "" {
		cleanupStaleLocks(path)
		lockFile, err := acquireMigrationLock(path)
		if err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "获取迁移锁失败")
		}
		defer releaseMigrationLock(lockFile)
	}

	log.Info("开始数据库迁移...")
	for _, model := range models.AllModels() {
		if err := db.AutoMigrate(model); err != nil {
			log.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err))
			return errors.Wrap(err, errors.ErrDatabaseQuery, "迁移失败")
		}
	}

	// 按时间倒序查询最近记录
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_output_events_channel_created ON output_events(channel, created_at)").Error; err != nil {
		log.Warn("创建索引失败", zap.String("index", "idx_output_events_channel_created"), zap.Error(err))
	}

	log.Info("数据库迁移完成")
	return nil
}
