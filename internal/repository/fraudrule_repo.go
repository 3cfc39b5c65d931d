package repository

import (
	"context"

	"creditcore/internal/model"

	"gorm.io/gorm"
)

// FraudRuleRepository 风控规则仓储
// 规则对评估过程只读，此处不提供任何回写评估结果的方法
type FraudRuleRepository struct {
	db *gorm.DB
}

func NewFraudRuleRepository(db *gorm.DB) *FraudRuleRepository {
	return &FraudRuleRepository{db: db}
}

func (r *FraudRuleRepository) Create(ctx context.Context, rule *model.FraudRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

// ListActive 查询启用规则，按主键排序保证评估顺序稳定
func (r *FraudRuleRepository) ListActive(ctx context.Context) ([]*model.FraudRule, error) {
	var rules []*model.FraudRule
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("id ASC").
		Find(&rules).Error
	return rules, err
}
