package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 会员状态常量
// ============================================================================

const (
	MemberStatusPending   = "PENDING"
	MemberStatusActive    = "ACTIVE"
	MemberStatusSuspended = "SUSPENDED"
	MemberStatusClosed    = "CLOSED"
)

// Member 会员表
// 持有信用额度与当前占用额度，是整个授信系统的核心数据
//
// 【重要】额度字段约束：
// 1. current_balance 只能通过额度台账（MemberRepository 的 Reserve/Release/Settle）修改
// 2. 任何可观测时刻满足 0 <= current_balance <= credit_limit
// 3. member_number 由入会流程分配，创建后不可变
type Member struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	MemberNumber   string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"member_number"` // 会员号，全局唯一
	Name           string          `gorm:"type:varchar(64)" json:"name"`
	Email          string          `gorm:"type:varchar(128)" json:"email"`
	Status         string          `gorm:"type:varchar(20);not null" json:"status"`
	CreditLimit    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"credit_limit"`    // 信用额度
	CurrentBalance decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"current_balance"` // 已占用额度（含未请款的预授权）
	Version        int             `gorm:"not null;default:0" json:"version"`                  // 乐观锁版本号
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Member) TableName() string {
	return "member"
}

// AvailableCredit 可用额度 = 信用额度 - 已占用额度
func (m *Member) AvailableCredit() decimal.Decimal {
	return m.CreditLimit.Sub(m.CurrentBalance)
}
