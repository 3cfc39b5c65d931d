package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 风控规则常量
// ============================================================================

const (
	FraudRuleTypeAmountThreshold   = "AMOUNT_THRESHOLD"   // 单笔金额阈值
	FraudRuleTypeCategoryBlocklist = "CATEGORY_BLOCKLIST" // 商户类别黑名单
	FraudRuleTypeVelocity          = "VELOCITY"           // 窗口内交易频率
)

const (
	RiskLevelLow      = "LOW"
	RiskLevelMedium   = "MEDIUM"
	RiskLevelHigh     = "HIGH"
	RiskLevelCritical = "CRITICAL"
)

// FraudRule 风控规则表
// 规则是评估的只读输入，评估过程绝不回写规则
// 表内启用规则优先于配置文件里的兜底阈值
type FraudRule struct {
	ID              int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	RuleName        string              `gorm:"type:varchar(64);not null" json:"rule_name"`
	RuleType        string              `gorm:"type:varchar(32);not null" json:"rule_type"`
	RiskLevel       string              `gorm:"type:varchar(16);not null" json:"risk_level"`
	ThresholdAmount decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"threshold_amount"` // AMOUNT_THRESHOLD 使用
	ThresholdCount  int                 `gorm:"not null;default:0" json:"threshold_count"`  // VELOCITY 使用
	WindowMinutes   int                 `gorm:"not null;default:0" json:"window_minutes"`   // VELOCITY 使用
	Category        string              `gorm:"type:varchar(64)" json:"category"`           // CATEGORY_BLOCKLIST 使用
	Enabled         bool                `gorm:"not null;default:true;index" json:"enabled"`
	CreatedAt       time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FraudRule) TableName() string {
	return "fraud_rule"
}
