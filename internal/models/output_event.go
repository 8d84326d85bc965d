package models

import (
	"time"
)

// OutputEvent 输出变化记录，只作为历史查询，不用于恢复状态
type OutputEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"type:varchar(36);index" json:"session_id"` // 进程启动时生成
	Operation string    `gorm:"type:varchar(32);index" json:"operation"`
	Channel   int       `gorm:"index" json:"channel"` // -1 表示整组操作
	State     bool      `json:"state"`                // 单通道操作后的逻辑状态
	OldMask   uint32    `json:"old_mask"`
	NewMask   uint32    `json:"new_mask"`
	Physical  uint32    `json:"physical"`
	Polarity  string    `gorm:"type:varchar(16)" json:"polarity"`
	Source    string    `gorm:"type:varchar(32)" json:"source"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName 指定表名
func (OutputEvent) TableName() string {
	return "output_events"
}

// OutputEventQuery 查询条件
type OutputEventQuery struct {
	Channel   *int
	Operation string
	Since     time.Time
	Limit     int
}

// AllModels 需要迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&OutputEvent{},
	}
}
