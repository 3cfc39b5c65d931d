package repository

import (
	"context"
	"errors"
	"time"

	"creditcore/internal/model"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound  = errors.New("交易不存在")
	ErrDuplicateTransaction = errors.New("交易号或幂等ID重复")
	ErrInvalidTransition    = errors.New("交易状态不允许该操作")
)

const mysqlDuplicateEntry = 1062

// TransactionRepository 交易仓储
// 交易号与幂等ID的唯一性由唯一索引兜底，状态流转统一走条件 UPDATE
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// TransitionUpdate 状态流转时一并写入的结算字段
type TransitionUpdate struct {
	SettledAmount *decimal.Decimal
	SettledAt     *time.Time
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

// Create 创建交易记录，可选携带事件，同一事务写入（事务性发件箱）
// 交易号/幂等ID冲突返回 ErrDuplicateTransaction，由调用方决定换号重试或返回已有记录
func (r *TransactionRepository) Create(ctx context.Context, trans *model.Transaction, event *model.OutboxMessage) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(trans).Error; err != nil {
			return err
		}
		if event != nil {
			if err := tx.Create(event).Error; err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		if isDuplicateEntry(err) {
			return ErrDuplicateTransaction
		}
		return err
	}
	return nil
}

func (r *TransactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// GetByRequestID 按幂等ID查询，不存在时返回 (nil, nil)
func (r *TransactionRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// Transition 条件状态流转
// WHERE 带上当前状态集合，影响行数为 0 即竞争失败或状态不合法，
// 并发的两次请款/撤销只会有一个胜出，这是幂等保证的核心
func (r *TransactionRepository) Transition(ctx context.Context, transactionID string,
	fromStatuses []string, toStatus string, upd *TransitionUpdate, event *model.OutboxMessage) error {

	for _, from := range fromStatuses {
		if !model.CanTransitionTo(from, toStatus) {
			return ErrInvalidTransition
		}
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if upd != nil {
		if upd.SettledAmount != nil {
			updates["settled_amount"] = *upd.SettledAmount
		}
		if upd.SettledAt != nil {
			updates["settled_at"] = upd.SettledAt
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Model(&model.Transaction{}).
			Where("transaction_id = ? AND status IN ?", transactionID, fromStatuses).
			Updates(updates)

		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&model.Transaction{}).
				Where("transaction_id = ?", transactionID).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrTransactionNotFound
			}
			return ErrInvalidTransition
		}

		if event != nil {
			if err := tx.Create(event).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// CountRecentAuths 统计窗口内的预授权笔数（不含被拒绝的），供频率风控使用
func (r *TransactionRepository) CountRecentAuths(ctx context.Context, memberNumber string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("member_number = ? AND type = ? AND status <> ? AND transaction_at >= ?",
			memberNumber, model.TransactionTypeAuth, model.TransactionStatusDeclined, since).
		Count(&count).Error
	return count, err
}

// GetExpiredHolds 查询已过有效期、仍未请款的预授权，供到期撤销任务使用
func (r *TransactionRepository) GetExpiredHolds(ctx context.Context, before time.Time, limit int) ([]*model.Transaction, error) {
	var holds []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("type = ? AND status = ? AND expires_at IS NOT NULL AND expires_at < ?",
			model.TransactionTypeAuth, model.TransactionStatusApproved, before).
		Limit(limit).
		Find(&holds).Error
	return holds, err
}

// ListByMemberNumber 分页查询会员交易
func (r *TransactionRepository) ListByMemberNumber(ctx context.Context, memberNumber string, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("member_number = ?", memberNumber)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}
