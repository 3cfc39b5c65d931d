package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"creditcore/internal/model"
	"creditcore/internal/repository"
	"creditcore/pkg/idgen"

	"github.com/shopspring/decimal"
)

// AuthorizationConfig 授权引擎配置
type AuthorizationConfig struct {
	Currency     string
	HoldExpiry   time.Duration // 预授权占用有效期
	IDRetryCount int           // 交易号冲突时的换号重试次数
	EventTopic   string
	Baseline     FraudBaseline
}

// AuthorizationService 授权引擎
// 编排顺序：校验会员 -> 占用额度 -> 风控评估 -> 落库。
// 每一步都是下一步的硬前置条件，占用额度之后的任何失败都通过补偿释放回滚，
// 对调用方表现为全有或全无
type AuthorizationService struct {
	members MemberDirectory
	ledger  CreditLedger
	store   TransactionStore
	rules   RuleSource
	locker  Locker
	cfg     AuthorizationConfig
	now     func() time.Time
}

func NewAuthorizationService(members MemberDirectory, ledger CreditLedger, store TransactionStore,
	rules RuleSource, locker Locker, cfg AuthorizationConfig) *AuthorizationService {
	return &AuthorizationService{
		members: members,
		ledger:  ledger,
		store:   store,
		rules:   rules,
		locker:  locker,
		cfg:     cfg,
		now:     time.Now,
	}
}

// AuthorizeRequest 授权请求
type AuthorizeRequest struct {
	RequestID        string // 幂等ID，调用方可选传入；不传则本次授权不可盲重试
	MemberNumber     string
	Amount           decimal.Decimal
	MerchantName     string
	MerchantCategory string
}

// Authorize 授权
//
// 【关键点】
// 1. 并发安全：同一会员的授权在会员锁内串行，两笔合计超限的并发请求只会通过一笔
// 2. 补偿保证：额度占用后任何一步失败（含 panic、调用方超时），defer 必定释放占用
// 3. 交易号冲突走有限次换号重试，不会无限循环
func (s *AuthorizationService) Authorize(ctx context.Context, req *AuthorizeRequest) (*model.Transaction, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	// 幂等预检
	if req.RequestID != "" {
		existing, err := s.store.GetByRequestID(ctx, req.RequestID)
		if err != nil {
			return nil, fmt.Errorf("查询幂等记录失败: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	// 会员维度锁：不同会员可并发授权，同一会员串行
	release, err := s.locker.Acquire(ctx, memberLockKey(req.MemberNumber))
	if err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer release()

	// 获取锁后再次检查幂等
	if req.RequestID != "" {
		existing, err := s.store.GetByRequestID(ctx, req.RequestID)
		if err != nil {
			return nil, fmt.Errorf("查询幂等记录失败: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	// 1. 校验会员
	member, err := s.members.GetByMemberNumber(ctx, req.MemberNumber)
	if err != nil {
		return nil, err
	}
	if member.Status != model.MemberStatusActive {
		return nil, fmt.Errorf("%w: 当前状态 %s", ErrMemberNotActive, member.Status)
	}

	now := s.now()

	// 2. 占用额度
	if err := s.ledger.Reserve(ctx, req.MemberNumber, req.Amount); err != nil {
		if errors.Is(err, repository.ErrCreditLimitExceeded) {
			s.recordDecline(ctx, req, now, "超出信用额度")
		}
		return nil, err
	}

	// 补偿释放：落库成功之前的任何退出路径都必须把刚占用的额度还回去。
	// 使用独立超时上下文，调用方超时/取消后补偿仍要完成
	committed := false
	defer func() {
		if committed {
			return
		}
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.ledger.Release(releaseCtx, req.MemberNumber, req.Amount); err != nil {
			log.Printf("[AuthorizationService] 补偿释放额度失败，需要人工对账: member=%s amount=%s err=%v",
				req.MemberNumber, req.Amount, err)
		}
	}()

	// 3. 风控评估
	activeRules, err := s.rules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("加载风控规则失败: %w", err)
	}

	window := ResolveVelocityWindow(activeRules, s.cfg.Baseline)
	recentCount, err := s.store.CountRecentAuths(ctx, req.MemberNumber, now.Add(-window))
	if err != nil {
		return nil, fmt.Errorf("统计交易频率失败: %w", err)
	}

	alerts := EvaluateFraud(FraudInput{
		MemberNumber:     req.MemberNumber,
		Amount:           req.Amount,
		MerchantCategory: req.MerchantCategory,
		RecentAuthCount:  recentCount,
	}, activeRules, s.cfg.Baseline)
	if len(alerts) > 0 {
		fraudErr := &FraudDetectedError{Alerts: alerts}
		s.recordDecline(ctx, req, now, fraudErr.Error())
		return nil, fraudErr
	}

	// 4. 生成交易号并落库，冲突时换号重试（有限次）
	var requestID *string
	if req.RequestID != "" {
		requestID = &req.RequestID
	}
	expiresAt := now.Add(s.cfg.HoldExpiry)

	for i := 0; i < s.cfg.IDRetryCount; i++ {
		trans := &model.Transaction{
			TransactionID:     idgen.GenerateTransactionID(),
			RequestID:         requestID,
			MemberNumber:      req.MemberNumber,
			Type:              model.TransactionTypeAuth,
			Amount:            req.Amount,
			Currency:          s.cfg.Currency,
			Status:            model.TransactionStatusApproved,
			AuthorizationCode: idgen.GenerateAuthCode(),
			MerchantName:      req.MerchantName,
			MerchantCategory:  req.MerchantCategory,
			TransactionAt:     now,
			ExpiresAt:         &expiresAt,
		}

		event := newOutboxEvent(s.cfg.EventTopic, model.EventTypeAuthApproved, trans.TransactionID, map[string]interface{}{
			"transaction_id":     trans.TransactionID,
			"member_number":      req.MemberNumber,
			"amount":             req.Amount,
			"currency":           s.cfg.Currency,
			"merchant_name":      req.MerchantName,
			"merchant_category":  req.MerchantCategory,
			"authorization_code": trans.AuthorizationCode,
			"status":             trans.Status,
			"transaction_at":     now.Format(time.RFC3339),
		})

		err := s.store.Create(ctx, trans, event)
		if err == nil {
			committed = true
			log.Printf("[AuthorizationService] 授权成功: transactionID=%s member=%s amount=%s",
				trans.TransactionID, req.MemberNumber, req.Amount)
			return trans, nil
		}
		if !errors.Is(err, repository.ErrDuplicateTransaction) {
			return nil, fmt.Errorf("交易落库失败: %w", err)
		}
		// 幂等ID撞唯一索引：并发的同一请求已经落库，返回已有记录，本次占用由 defer 释放
		if req.RequestID != "" {
			existing, qerr := s.store.GetByRequestID(ctx, req.RequestID)
			if qerr == nil && existing != nil {
				return existing, nil
			}
		}
	}
	return nil, fmt.Errorf("交易号生成冲突重试耗尽: %w", repository.ErrDuplicateTransaction)
}

// recordDecline 落一条 DECLINED 审计记录
// 审计尽力而为：落库失败只记日志，不改变拒绝结果
func (s *AuthorizationService) recordDecline(ctx context.Context, req *AuthorizeRequest, now time.Time, reason string) {
	trans := &model.Transaction{
		TransactionID:    idgen.GenerateTransactionID(),
		MemberNumber:     req.MemberNumber,
		Type:             model.TransactionTypeAuth,
		Amount:           req.Amount,
		Currency:         s.cfg.Currency,
		Status:           model.TransactionStatusDeclined,
		MerchantName:     req.MerchantName,
		MerchantCategory: req.MerchantCategory,
		DeclineReason:    reason,
		TransactionAt:    now,
	}

	event := newOutboxEvent(s.cfg.EventTopic, model.EventTypeAuthDeclined, trans.TransactionID, map[string]interface{}{
		"transaction_id":    trans.TransactionID,
		"member_number":     req.MemberNumber,
		"amount":            req.Amount,
		"merchant_category": req.MerchantCategory,
		"status":            trans.Status,
		"decline_reason":    reason,
	})

	if err := s.store.Create(ctx, trans, event); err != nil {
		log.Printf("[AuthorizationService] 拒绝审计记录落库失败: member=%s err=%v", req.MemberNumber, err)
	}
}
