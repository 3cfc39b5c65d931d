package service

import (
	"context"
	"time"

	"creditcore/internal/model"
	"creditcore/internal/repository"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 外部协作方接口
// ============================================================================
//
// 核心引擎只依赖这些接口，不伪造任何会员数据，也不直接触碰存储细节。
// 生产实现在 internal/repository 与 internal/infrastructure/lock，
// 测试使用内存实现。

// MemberDirectory 会员目录，对核心只读
type MemberDirectory interface {
	GetByMemberNumber(ctx context.Context, memberNumber string) (*model.Member, error)
}

// CreditLedger 额度台账
// 三个操作都必须对同一会员串行执行，且单次调用原子生效
type CreditLedger interface {
	// Reserve 占用额度，可用额度不足返回 repository.ErrCreditLimitExceeded
	Reserve(ctx context.Context, memberNumber string, amount decimal.Decimal) error
	// Release 释放额度，下限为 0，对已释放的占用重复调用是空操作
	Release(ctx context.Context, memberNumber string, amount decimal.Decimal) error
	// Settle 结算，按 settled - reserved 差额调整占用；
	// 后置条件破坏不变量时返回 repository.ErrInvariantViolation
	Settle(ctx context.Context, memberNumber string, reserved, settled decimal.Decimal) error
}

// TransactionStore 交易存储
type TransactionStore interface {
	// Create 交易号或幂等ID已存在时返回 repository.ErrDuplicateTransaction
	Create(ctx context.Context, trans *model.Transaction, event *model.OutboxMessage) error
	GetByTransactionID(ctx context.Context, transactionID string) (*model.Transaction, error)
	// GetByRequestID 不存在时返回 (nil, nil)
	GetByRequestID(ctx context.Context, requestID string) (*model.Transaction, error)
	// Transition 条件状态流转，当前状态不在 fromStatuses 内时
	// 返回 repository.ErrInvalidTransition，并发操作只有一个胜出
	Transition(ctx context.Context, transactionID string, fromStatuses []string, toStatus string,
		upd *repository.TransitionUpdate, event *model.OutboxMessage) error
	CountRecentAuths(ctx context.Context, memberNumber string, since time.Time) (int64, error)
}

// RuleSource 风控规则来源，对核心只读
type RuleSource interface {
	ListActive(ctx context.Context) ([]*model.FraudRule, error)
}

// Locker 按 key 互斥，返回释放函数
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

func memberLockKey(memberNumber string) string {
	return "credit:lock:member:" + memberNumber
}

func transactionLockKey(transactionID string) string {
	return "credit:lock:txn:" + transactionID
}
