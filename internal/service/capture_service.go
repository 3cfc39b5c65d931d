package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"creditcore/internal/model"
	"creditcore/internal/repository"

	"github.com/shopspring/decimal"
)

// CaptureConfig 请款/撤销引擎配置
type CaptureConfig struct {
	EventTopic string
}

// CaptureService 请款/撤销引擎
// 把 APPROVED 的预授权推进到终态：SETTLED（请款）/ CANCELLED（撤销）/ DISPUTED（拒付上报）。
// 幂等保证：交易锁 + 条件状态流转，重复调用只会有第一次触碰台账
type CaptureService struct {
	ledger CreditLedger
	store  TransactionStore
	locker Locker
	cfg    CaptureConfig
	now    func() time.Time
}

func NewCaptureService(ledger CreditLedger, store TransactionStore, locker Locker, cfg CaptureConfig) *CaptureService {
	return &CaptureService{
		ledger: ledger,
		store:  store,
		locker: locker,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Capture 请款
// 允许部分请款（captureAmount <= 预授权金额），少请款的差额随结算释放回额度
func (s *CaptureService) Capture(ctx context.Context, transactionID string, captureAmount decimal.Decimal) (*model.Transaction, error) {
	if !captureAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	trans, err := s.store.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if trans.Status != model.TransactionStatusApproved {
		return nil, fmt.Errorf("%w: 当前状态 %s", repository.ErrInvalidTransition, trans.Status)
	}
	if captureAmount.GreaterThan(trans.Amount) {
		return nil, fmt.Errorf("%w: 预授权金额 %s，请款金额 %s",
			ErrCaptureAmountExceeded, trans.Amount, captureAmount)
	}

	release, err := s.locker.Acquire(ctx, transactionLockKey(transactionID))
	if err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer release()

	// 获取锁后重读状态，并发的另一次请款/撤销可能已经胜出
	trans, err = s.store.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if trans.Status != model.TransactionStatusApproved {
		return nil, fmt.Errorf("%w: 当前状态 %s", repository.ErrInvalidTransition, trans.Status)
	}

	now := s.now()

	// 先结算台账，再条件流转状态。持锁期间没有并发操作者，
	// 结算后流转仍失败属于异常，必须上抛并人工对账，不能静默吞掉
	if err := s.ledger.Settle(ctx, trans.MemberNumber, trans.Amount, captureAmount); err != nil {
		return nil, err
	}

	upd := &repository.TransitionUpdate{
		SettledAmount: &captureAmount,
		SettledAt:     &now,
	}
	event := newOutboxEvent(s.cfg.EventTopic, model.EventTypeCaptured, transactionID, map[string]interface{}{
		"transaction_id": transactionID,
		"member_number":  trans.MemberNumber,
		"amount":         trans.Amount,
		"settled_amount": captureAmount,
		"status":         model.TransactionStatusSettled,
		"settled_at":     now.Format(time.RFC3339),
	})

	if err := s.store.Transition(ctx, transactionID,
		[]string{model.TransactionStatusApproved}, model.TransactionStatusSettled, upd, event); err != nil {
		log.Printf("[CaptureService] 台账已结算但状态流转失败，需要人工对账: transactionID=%s err=%v",
			transactionID, err)
		return nil, err
	}

	trans.Status = model.TransactionStatusSettled
	trans.SettledAmount = decimal.NewNullDecimal(captureAmount)
	trans.SettledAt = &now

	log.Printf("[CaptureService] 请款成功: transactionID=%s reserved=%s settled=%s",
		transactionID, trans.Amount, captureAmount)
	return trans, nil
}

// Void 撤销预授权，释放全额占用
func (s *CaptureService) Void(ctx context.Context, transactionID string) (*model.Transaction, error) {
	trans, err := s.store.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if trans.Status != model.TransactionStatusApproved {
		return nil, fmt.Errorf("%w: 当前状态 %s", repository.ErrInvalidTransition, trans.Status)
	}

	release, err := s.locker.Acquire(ctx, transactionLockKey(transactionID))
	if err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer release()

	trans, err = s.store.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if trans.Status != model.TransactionStatusApproved {
		return nil, fmt.Errorf("%w: 当前状态 %s", repository.ErrInvalidTransition, trans.Status)
	}

	if err := s.ledger.Release(ctx, trans.MemberNumber, trans.Amount); err != nil {
		return nil, err
	}

	event := newOutboxEvent(s.cfg.EventTopic, model.EventTypeAuthVoided, transactionID, map[string]interface{}{
		"transaction_id": transactionID,
		"member_number":  trans.MemberNumber,
		"amount":         trans.Amount,
		"status":         model.TransactionStatusCancelled,
	})

	if err := s.store.Transition(ctx, transactionID,
		[]string{model.TransactionStatusApproved}, model.TransactionStatusCancelled, nil, event); err != nil {
		log.Printf("[CaptureService] 额度已释放但状态流转失败，需要人工对账: transactionID=%s err=%v",
			transactionID, err)
		return nil, err
	}

	trans.Status = model.TransactionStatusCancelled

	log.Printf("[CaptureService] 撤销成功: transactionID=%s amount=%s", transactionID, trans.Amount)
	return trans, nil
}

// MarkDisputed 外部拒付上报，仅标记状态
// 争议期间额度继续占用，后续处置属于拒付工作流，不在本系统范围内
func (s *CaptureService) MarkDisputed(ctx context.Context, transactionID string) (*model.Transaction, error) {
	trans, err := s.store.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if trans.Status != model.TransactionStatusApproved {
		return nil, fmt.Errorf("%w: 当前状态 %s", repository.ErrInvalidTransition, trans.Status)
	}

	release, err := s.locker.Acquire(ctx, transactionLockKey(transactionID))
	if err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer release()

	event := newOutboxEvent(s.cfg.EventTopic, model.EventTypeDisputed, transactionID, map[string]interface{}{
		"transaction_id": transactionID,
		"member_number":  trans.MemberNumber,
		"amount":         trans.Amount,
		"status":         model.TransactionStatusDisputed,
	})

	if err := s.store.Transition(ctx, transactionID,
		[]string{model.TransactionStatusApproved}, model.TransactionStatusDisputed, nil, event); err != nil {
		return nil, err
	}

	trans.Status = model.TransactionStatusDisputed

	log.Printf("[CaptureService] 拒付上报: transactionID=%s", transactionID)
	return trans, nil
}
