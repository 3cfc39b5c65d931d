package repository

import (
	"context"
	"errors"
	"fmt"

	"creditcore/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrMemberNotFound      = errors.New("会员不存在")
	ErrCreditLimitExceeded = errors.New("可用额度不足")
	// ErrInvariantViolation 额度台账不变量被破坏（余额为负或超过信用额度）
	// 属于致命错误：必须中止操作并上抛，绝不静默修正
	ErrInvariantViolation = errors.New("额度台账不变量被破坏")
)

// MemberRepository 会员仓储，同时承担额度台账职责
//
// 【额度台账并发设计】
// Reserve / Release / Settle 均为单条条件 UPDATE：
//   - MySQL 行锁保证同一会员的台账操作天然串行，不同会员互不阻塞
//   - 条件不满足时影响行数为 0，绝不会出现"先读后写"的丢失更新
// 服务层在授权全流程外再加会员维度分布式锁，两层防护
type MemberRepository struct {
	db *gorm.DB
}

func NewMemberRepository(db *gorm.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

func (r *MemberRepository) Create(ctx context.Context, member *model.Member) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "member_number"}},
			DoNothing: true,
		}).
		Create(member).Error
}

func (r *MemberRepository) GetByMemberNumber(ctx context.Context, memberNumber string) (*model.Member, error) {
	var member model.Member
	err := r.db.WithContext(ctx).Where("member_number = ?", memberNumber).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

// Reserve 占用额度
// 条件 UPDATE：只有 credit_limit - current_balance >= amount 时才生效，
// 检查与占用是同一条语句，并发下不可能出现两笔合计超限
func (r *MemberRepository) Reserve(ctx context.Context, memberNumber string, amount decimal.Decimal) error {
	result := r.db.WithContext(ctx).
		Model(&model.Member{}).
		Where("member_number = ? AND credit_limit - current_balance >= ?", memberNumber, amount).
		Updates(map[string]interface{}{
			"current_balance": gorm.Expr("current_balance + ?", amount),
			"version":         gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		// 区分会员不存在与额度不足
		if _, err := r.GetByMemberNumber(ctx, memberNumber); err != nil {
			return err
		}
		return ErrCreditLimitExceeded
	}

	return nil
}

// Release 释放额度，下限为 0
// 每笔预授权最多释放一次，由交易状态机的条件流转保证，台账本身不记占用明细
func (r *MemberRepository) Release(ctx context.Context, memberNumber string, amount decimal.Decimal) error {
	result := r.db.WithContext(ctx).
		Model(&model.Member{}).
		Where("member_number = ?", memberNumber).
		Updates(map[string]interface{}{
			"current_balance": gorm.Expr("GREATEST(current_balance - ?, 0)", amount),
			"version":         gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		// MySQL 对未变化的行影响行数为 0，余额已为 0 时释放是合法空操作
		if _, err := r.GetByMemberNumber(ctx, memberNumber); err != nil {
			return err
		}
	}

	return nil
}

// Settle 结算：按 settled - reserved 的差额调整占用
// 预授权占用的部分转为实际消费留在 current_balance 内，少请款的部分随差额释放。
// 后置条件必须仍满足 0 <= current_balance <= credit_limit，否则视为不变量被破坏
func (r *MemberRepository) Settle(ctx context.Context, memberNumber string, reserved, settled decimal.Decimal) error {
	delta := settled.Sub(reserved)
	if delta.IsZero() {
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(&model.Member{}).
		Where("member_number = ? AND current_balance + ? >= 0 AND current_balance + ? <= credit_limit",
			memberNumber, delta, delta).
		Updates(map[string]interface{}{
			"current_balance": gorm.Expr("current_balance + ?", delta),
			"version":         gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByMemberNumber(ctx, memberNumber); err != nil {
			return err
		}
		return fmt.Errorf("%w: member=%s reserved=%s settled=%s",
			ErrInvariantViolation, memberNumber, reserved, settled)
	}

	return nil
}
