package service

import (
	"context"
	"sync"
	"time"

	"creditcore/internal/model"
	"creditcore/internal/repository"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 内存实现，行为对齐 internal/repository 的生产实现
// ============================================================================

// memoryMemberStore 同时实现 MemberDirectory 和 CreditLedger
type memoryMemberStore struct {
	mu      sync.Mutex
	members map[string]*model.Member
}

func newMemoryMemberStore(members ...*model.Member) *memoryMemberStore {
	s := &memoryMemberStore{members: make(map[string]*model.Member)}
	for _, m := range members {
		s.members[m.MemberNumber] = m
	}
	return s
}

func (s *memoryMemberStore) GetByMemberNumber(ctx context.Context, memberNumber string) (*model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberNumber]
	if !ok {
		return nil, repository.ErrMemberNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memoryMemberStore) Reserve(ctx context.Context, memberNumber string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberNumber]
	if !ok {
		return repository.ErrMemberNotFound
	}
	if m.CreditLimit.Sub(m.CurrentBalance).LessThan(amount) {
		return repository.ErrCreditLimitExceeded
	}
	m.CurrentBalance = m.CurrentBalance.Add(amount)
	m.Version++
	return nil
}

func (s *memoryMemberStore) Release(ctx context.Context, memberNumber string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberNumber]
	if !ok {
		return repository.ErrMemberNotFound
	}
	next := m.CurrentBalance.Sub(amount)
	if next.IsNegative() {
		next = decimal.Zero
	}
	m.CurrentBalance = next
	m.Version++
	return nil
}

func (s *memoryMemberStore) Settle(ctx context.Context, memberNumber string, reserved, settled decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberNumber]
	if !ok {
		return repository.ErrMemberNotFound
	}
	next := m.CurrentBalance.Add(settled.Sub(reserved))
	if next.IsNegative() || next.GreaterThan(m.CreditLimit) {
		return repository.ErrInvariantViolation
	}
	m.CurrentBalance = next
	m.Version++
	return nil
}

// balance 测试断言用
func (s *memoryMemberStore) balance(memberNumber string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[memberNumber].CurrentBalance
}

// memoryTransactionStore 实现 TransactionStore，含发件箱
type memoryTransactionStore struct {
	mu          sync.Mutex
	byTxnID     map[string]*model.Transaction
	byRequestID map[string]*model.Transaction
	outbox      []*model.OutboxMessage
	createErrs  []error // 队列：每次 Create 先弹出一个预设错误
}

func newMemoryTransactionStore() *memoryTransactionStore {
	return &memoryTransactionStore{
		byTxnID:     make(map[string]*model.Transaction),
		byRequestID: make(map[string]*model.Transaction),
	}
}

func (s *memoryTransactionStore) Create(ctx context.Context, trans *model.Transaction, event *model.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		if err != nil {
			return err
		}
	}
	if _, exists := s.byTxnID[trans.TransactionID]; exists {
		return repository.ErrDuplicateTransaction
	}
	if trans.RequestID != nil {
		if _, exists := s.byRequestID[*trans.RequestID]; exists {
			return repository.ErrDuplicateTransaction
		}
	}
	cp := *trans
	s.byTxnID[trans.TransactionID] = &cp
	if trans.RequestID != nil {
		s.byRequestID[*trans.RequestID] = &cp
	}
	if event != nil {
		s.outbox = append(s.outbox, event)
	}
	return nil
}

func (s *memoryTransactionStore) GetByTransactionID(ctx context.Context, transactionID string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byTxnID[transactionID]
	if !ok {
		return nil, repository.ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memoryTransactionStore) GetByRequestID(ctx context.Context, requestID string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byRequestID[requestID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *memoryTransactionStore) Transition(ctx context.Context, transactionID string, fromStatuses []string,
	toStatus string, upd *repository.TransitionUpdate, event *model.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byTxnID[transactionID]
	if !ok {
		return repository.ErrTransactionNotFound
	}
	matched := false
	for _, from := range fromStatuses {
		if t.Status == from && model.CanTransitionTo(from, toStatus) {
			matched = true
			break
		}
	}
	if !matched {
		return repository.ErrInvalidTransition
	}
	t.Status = toStatus
	if upd != nil {
		if upd.SettledAmount != nil {
			t.SettledAmount = decimal.NewNullDecimal(*upd.SettledAmount)
		}
		if upd.SettledAt != nil {
			t.SettledAt = upd.SettledAt
		}
	}
	if event != nil {
		s.outbox = append(s.outbox, event)
	}
	return nil
}

func (s *memoryTransactionStore) CountRecentAuths(ctx context.Context, memberNumber string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, t := range s.byTxnID {
		if t.MemberNumber == memberNumber &&
			t.Type == model.TransactionTypeAuth &&
			t.Status != model.TransactionStatusDeclined &&
			!t.TransactionAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// declined 测试断言用：返回全部 DECLINED 记录
func (s *memoryTransactionStore) declined() []*model.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Transaction
	for _, t := range s.byTxnID {
		if t.Status == model.TransactionStatusDeclined {
			out = append(out, t)
		}
	}
	return out
}

// staticRuleSource 固定规则列表
type staticRuleSource struct {
	rules []*model.FraudRule
}

func (s *staticRuleSource) ListActive(ctx context.Context) ([]*model.FraudRule, error) {
	return s.rules, nil
}

// memoryLocker 按 key 互斥，行为对齐 Redis 锁
type memoryLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *memoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock, nil
}
