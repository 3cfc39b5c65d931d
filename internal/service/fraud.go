package service

import (
	"fmt"
	"strings"
	"time"

	"creditcore/internal/model"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 风控评估
// ============================================================================
//
// EvaluateFraud 是纯函数：相同输入必然得到相同输出，无 IO、无隐藏随机性、
// 不读墙上时钟（窗口统计由调用方取好传入）。
// 告警按固定顺序产出（金额 -> 类别 -> 频率），保证错误信息可复现。
// 任何一条告警都意味着调用方必须拒绝授权，不存在部分授权。

const (
	AlertCodeHighAmount    = "HIGH_AMOUNT"
	AlertCodeRiskyCategory = "RISKY_CATEGORY"
	AlertCodeVelocity      = "VELOCITY"
)

// Alert 风控告警
type Alert struct {
	Code      string `json:"code"`
	RiskLevel string `json:"risk_level"`
	Message   string `json:"message"`
}

// FraudDetectedError 触发风控，携带全部告警明细
type FraudDetectedError struct {
	Alerts []Alert
}

func (e *FraudDetectedError) Error() string {
	messages := make([]string, 0, len(e.Alerts))
	for _, a := range e.Alerts {
		messages = append(messages, a.Message)
	}
	return "触发风控规则: " + strings.Join(messages, "; ")
}

// FraudInput 评估输入，由授权引擎取好
type FraudInput struct {
	MemberNumber     string
	Amount           decimal.Decimal
	MerchantCategory string
	RecentAuthCount  int64 // 频率窗口内已发生的预授权笔数
}

// FraudBaseline 兜底阈值（fraud_rule 表内无同类型启用规则时生效）
type FraudBaseline struct {
	AmountThreshold   decimal.Decimal
	BlockedCategories []string
	VelocityMaxCount  int
	VelocityWindow    time.Duration
}

// ResolveVelocityWindow 频率检查的生效窗口：启用的 VELOCITY 规则优先，其次兜底配置
func ResolveVelocityWindow(rules []*model.FraudRule, baseline FraudBaseline) time.Duration {
	for _, rule := range rules {
		if rule.Enabled && rule.RuleType == model.FraudRuleTypeVelocity && rule.WindowMinutes > 0 {
			return time.Duration(rule.WindowMinutes) * time.Minute
		}
	}
	return baseline.VelocityWindow
}

// EvaluateFraud 评估一笔授权请求，返回告警列表（空列表 = 放行）
func EvaluateFraud(input FraudInput, rules []*model.FraudRule, baseline FraudBaseline) []Alert {
	var alerts []Alert

	// 1. 单笔金额阈值
	threshold := baseline.AmountThreshold
	thresholdRisk := model.RiskLevelHigh
	for _, rule := range rules {
		if rule.Enabled && rule.RuleType == model.FraudRuleTypeAmountThreshold && rule.ThresholdAmount.Valid {
			threshold = rule.ThresholdAmount.Decimal
			thresholdRisk = rule.RiskLevel
			break
		}
	}
	if threshold.IsPositive() && input.Amount.GreaterThan(threshold) {
		alerts = append(alerts, Alert{
			Code:      AlertCodeHighAmount,
			RiskLevel: thresholdRisk,
			Message:   fmt.Sprintf("高额交易: 金额 %s 超过阈值 %s", input.Amount, threshold),
		})
	}

	// 2. 商户类别黑名单（大小写不敏感），兜底类别与表内规则合并
	blocked := make(map[string]string, len(baseline.BlockedCategories))
	for _, c := range baseline.BlockedCategories {
		blocked[strings.ToLower(c)] = model.RiskLevelCritical
	}
	for _, rule := range rules {
		if rule.Enabled && rule.RuleType == model.FraudRuleTypeCategoryBlocklist && rule.Category != "" {
			blocked[strings.ToLower(rule.Category)] = rule.RiskLevel
		}
	}
	if risk, hit := blocked[strings.ToLower(input.MerchantCategory)]; hit {
		alerts = append(alerts, Alert{
			Code:      AlertCodeRiskyCategory,
			RiskLevel: risk,
			Message:   fmt.Sprintf("高风险商户类别: %s", input.MerchantCategory),
		})
	}

	// 3. 交易频率
	maxCount := baseline.VelocityMaxCount
	velocityRisk := model.RiskLevelMedium
	for _, rule := range rules {
		if rule.Enabled && rule.RuleType == model.FraudRuleTypeVelocity && rule.ThresholdCount > 0 {
			maxCount = rule.ThresholdCount
			velocityRisk = rule.RiskLevel
			break
		}
	}
	if maxCount > 0 && input.RecentAuthCount >= int64(maxCount) {
		alerts = append(alerts, Alert{
			Code:      AlertCodeVelocity,
			RiskLevel: velocityRisk,
			Message:   fmt.Sprintf("交易频率异常: 窗口内已有 %d 笔预授权，上限 %d 笔", input.RecentAuthCount, maxCount),
		})
	}

	return alerts
}
