package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 授信事件类型，写入 outbox 的 event_type 字段
const (
	EventTypeAuthApproved = "credit.auth.approved"
	EventTypeAuthDeclined = "credit.auth.declined"
	EventTypeAuthVoided   = "credit.auth.voided"
	EventTypeCaptured     = "credit.capture.settled"
	EventTypeDisputed     = "credit.auth.disputed"
)

// OutboxMessage 事务性发件箱
// 授权结果事件与业务写入落在同一个数据库事务里，由后台任务异步投递到 Kafka，
// 保证业务成功则事件至少投递一次
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"` // 交易号，作为 Kafka 消息 key
	EventType  string    `gorm:"type:varchar(64);not null" json:"event_type"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
