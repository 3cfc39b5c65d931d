package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 交易类型常量
// ============================================================================

const (
	TransactionTypeAuth        = "AUTH"        // 预授权（占用额度）
	TransactionTypeCapture     = "CAPTURE"     // 请款
	TransactionTypeRefund      = "REFUND"      // 退款
	TransactionTypePayment     = "PAYMENT"     // 还款
	TransactionTypeChargeback  = "CHARGEBACK"  // 拒付
	TransactionTypeInstallment = "INSTALLMENT" // 分期
)

// ============================================================================
// 交易状态常量与状态机
// ============================================================================

const (
	TransactionStatusPending   = "PENDING"
	TransactionStatusApproved  = "APPROVED"
	TransactionStatusDeclined  = "DECLINED"
	TransactionStatusSettled   = "SETTLED"
	TransactionStatusCancelled = "CANCELLED"
	TransactionStatusDisputed  = "DISPUTED"
)

// ValidStatusTransitions 交易状态流转白名单
// DECLINED / SETTLED / CANCELLED / DISPUTED 为终态，终态不允许任何流转
var ValidStatusTransitions = map[string][]string{
	TransactionStatusPending: {
		TransactionStatusApproved,
		TransactionStatusDeclined,
	},
	TransactionStatusApproved: {
		TransactionStatusSettled,   // 请款
		TransactionStatusCancelled, // 撤销
		TransactionStatusDisputed,  // 外部拒付上报
	},
}

// CanTransitionTo 判断状态流转是否合法
func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsTerminalStatus 判断是否终态
func IsTerminalStatus(status string) bool {
	_, exists := ValidStatusTransitions[status]
	return !exists
}

// Transaction 交易表
// 记录每一笔授权/请款/撤销的完整生命周期，是审计的核心依据
//
// 【重要】交易表设计原则：
// 1. 只流转状态，不删除记录 —— 保证审计可追溯
// 2. transaction_id 全局唯一，创建后不可变
// 3. 仅弱引用会员号，不级联任何实体
type Transaction struct {
	ID                int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID     string              `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_id"` // 交易号（全局唯一）
	RequestID         *string             `gorm:"type:varchar(64);uniqueIndex" json:"request_id,omitempty"`    // 幂等ID，调用方可选传入
	MemberNumber      string              `gorm:"type:varchar(32);index;not null" json:"member_number"`
	Type              string              `gorm:"type:varchar(20);not null" json:"type"`
	Amount            decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"amount"`  // 授权金额（预授权占用金额）
	SettledAmount     decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"settled_amount"`   // 实际结算金额，仅 SETTLED 有值
	Currency          string              `gorm:"type:varchar(3);not null" json:"currency"`
	Status            string              `gorm:"type:varchar(20);index;not null" json:"status"`
	AuthorizationCode string              `gorm:"type:varchar(6)" json:"authorization_code"` // 授权码，仅 APPROVED 分配
	MerchantName      string              `gorm:"type:varchar(128)" json:"merchant_name"`
	MerchantCategory  string              `gorm:"type:varchar(64)" json:"merchant_category"`
	DeclineReason     string              `gorm:"type:varchar(256)" json:"decline_reason,omitempty"` // 拒绝原因，仅 DECLINED 审计用
	TransactionAt     time.Time           `gorm:"not null;index" json:"transaction_at"`
	ExpiresAt         *time.Time          `gorm:"index" json:"expires_at,omitempty"` // 预授权占用过期时间
	SettledAt         *time.Time          `json:"settled_at,omitempty"`
	CreatedAt         time.Time           `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "credit_transaction"
}
