package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"creditcore/internal/model"
	"creditcore/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthConfig() AuthorizationConfig {
	return AuthorizationConfig{
		Currency:     "JPY",
		HoldExpiry:   168 * time.Hour,
		IDRetryCount: 3,
		EventTopic:   "credit_auth_result",
		Baseline:     testBaseline(),
	}
}

func newTestAuthService(members *memoryMemberStore, store *memoryTransactionStore,
	rules []*model.FraudRule, cfg AuthorizationConfig) *AuthorizationService {
	return NewAuthorizationService(members, members, store, &staticRuleSource{rules: rules}, newMemoryLocker(), cfg)
}

func activeMember(memberNumber string, limit, balance int64) *model.Member {
	return &model.Member{
		MemberNumber:   memberNumber,
		Name:           "测试会员",
		Status:         model.MemberStatusActive,
		CreditLimit:    decimal.NewFromInt(limit),
		CurrentBalance: decimal.NewFromInt(balance),
	}
}

func TestAuthorize_Approved(t *testing.T) {
	members := newMemoryMemberStore(activeMember("M001", 500000, 100000))
	store := newMemoryTransactionStore()
	svc := newTestAuthService(members, store, nil, testAuthConfig())

	trans, err := svc.Authorize(context.Background(), &AuthorizeRequest{
		MemberNumber:     "M001",
		Amount:           decimal.NewFromInt(10000),
		MerchantName:     "便利店",
		MerchantCategory: "retail",
	})

	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusApproved, trans.Status)
	assert.Equal(t, model.TransactionTypeAuth, trans.Type)
	assert.Equal(t, "JPY", trans.Currency)
	assert.Len(t, trans.AuthorizationCode, 6)
	require.NotNil(t, trans.ExpiresAt)

	// 额度被占用
	assert.True(t, members.balance("M001").Equal(decimal.NewFromInt(110000)))

	// 交易已落库，审批事件已进发件箱
	stored, err := store.GetByTransactionID(context.Background(), trans.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusApproved, stored.Status)
	require.Len(t, store.outbox, 1)
	assert.Equal(t, model.EventTypeAuthApproved, store.outbox[0].EventType)
}

func TestAuthorize_CreditLimitExceeded(t *testing.T) {
	members := newMemoryMemberStore(activeMember("M001", 500000, 100000))
	store := newMemoryTransactionStore()
	svc := newTestAuthService(members, store, nil, testAuthConfig())

	_, err := svc.Authorize(context.Background(), &AuthorizeRequest{
		MemberNumber:     "M001",
		Amount:           decimal.NewFromInt(1000000),
		MerchantCategory: "retail",
	})

	require.ErrorIs(t, err, repository.ErrCreditLimitExceeded)

	// 额度不变，并落了一条 DECLINED 审计记录
	assert.True(t, members.balance("M001").Equal(decimal.NewFromInt(100000)))
	declined := store.declined()
	require.Len(t, declined, 1)
	assert.Equal(t, "超出信用额度", declined[0].DeclineReason)
}

func TestAuthorize_FraudHighAmount(t *testing.T) {
	members := newMemoryMemberStore(activeMember("M001", 500000, 100000))
	store := newMemoryTransactionStore()
	svc := newTestAuthService(members, store, nil, testAuthConfig())

	_, err := svc.Authorize(context.Background(), &AuthorizeRequest{
		MemberNumber:     "M001",
		Amount:           decimal.NewFromInt(200000),
		MerchantCategory: "retail",
	})

	var fraudErr *FraudDetectedError
	require.ErrorAs(t, err, &fraudErr)
	require.Len(t, fraudErr.Alerts, 1)
	assert.Equal(t, AlertCodeHighAmount, fraudErr.Alerts[0].Code)

	// 占用已补偿释放
	assert.True(t, members.balance("M001").Equal(decimal.NewFromInt(100000)))
	require.Len(t, store.declined(), 1)
}

func TestAuthorize_FraudBlockedCategory(t *testing.T) {
	members := newMemoryMemberStore(activeMember("M001", 500000, 100000))
	store := newMemoryTransactionStore()
	svc := newTestAuthService(members, store, nil, testAuthConfig())

	_, err := svc.Authorize(context.Background(), &AuthorizeRequest{
		MemberNumber:     "M001",
		Amount:           decimal.NewFromInt(50000),
		MerchantCategory: "gambling",
	})

	var fraudErr *FraudDetectedError
	require.ErrorAs(t, err, &fraudErr)
	assert.Equal(t, AlertCodeRiskyCategory, fraudErr.Alerts[0].Code)
	assert.True(t, members.balance("M001").Equal(decimal.NewFromInt(100000)))
}

func TestAuthorize_VelocityUsesRecentApprovedCount(t *testing.T) {
	members := newMemoryMemberStore(activeMember("M001", 500000, 0))
	store := newMemoryTransactionStore()
	svc := newTestAuthService(members, store, nil, testAuthConfig())

	// 窗口内先放 5 笔已批准的预授权
	now := time.Now()
	for i := 0; i < 5; i++ {
		err := store.Create(context.Background(), &model.Transaction{
			TransactionID: "TXNSEED000000000000000000" + string(rune('A'+i)),
			MemberNumber:  "M001",
			Type:          model.TransactionTypeAuth,
			Amount:        decimal.NewFromInt(100),
			Currency:      "JPY",
			Status:        model.TransactionStatusApproved,
			TransactionAt: now.Add(-time.Minute),
		}, nil)
		require.NoError(t, err)
	}

	_, err := svc.Authorize(context.Background(), &AuthorizeRequest{
		MemberNumber:     "M001",
		Amount:           decimal.NewFromInt(100),
		MerchantCategory: "retail",
	})

	var fraudErr *FraudDetectedError
	require.ErrorAs(t, err, &fraudErr)
	assert.Equal(t, AlertCodeVelocity, fraudErr.Alerts[0].Code)
	assert.True(t, members.balance("M001").IsZero())
}

func TestAuthorize_InvalidAmount(t *testing.T) {
	members := newMemoryMemberStore(activeMember("M001", 500000, 0))
	svc := newTestAuthService(members, newMemoryTransactionStore(), nil, testAuthConfig())

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-100)} {
		_, err := svc.Authorize(context.Background(), &AuthorizeRequest{
			MemberNumber: "M001",
			Amount:       amount,
		})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
}

func TestAuthorize_MemberNotFound(t *testing.T) {
	svc := newTestAuthService(newMemoryMemberStore(), newMemoryTransactionStore(), nil, testAuthConfig())

	_, err := svc.Authorize(context.Background(), &AuthorizeRequest{
		MemberNumber: "M404",
		Amount:       decimal.NewFromInt(100),
	})

	assert.ErrorIs(t, err, repository.ErrMemberNotFound)
}

func TestAuthorize_MemberNotActive(t *testing.T) {
	suspended := activeMember("M001", 500000, 0)
	suspended.Status = model.MemberStatusSuspended
	members := newMemoryMemberStore(suspended)
	svc := newTestAuthService(members, newMemoryTransactionStore(), nil, testAuthConfig())

	_, err := svc.Authorize(context.Background(), &AuthorizeRequest{
		MemberNumber: "M001",
		Amount:       decimal.NewFromInt(100),
	})

	assert.ErrorIs(t, err, ErrMemberNotActive)
	assert.True(t, members.balance("M001").IsZero())
}

func TestAuthorize_RequestIDIdempotent(t *testing.T) {
	members := newMemoryMemberStore(activeMember("M001", 500000, 0))
	store := newMemoryTransactionStore()
	svc := newTestAuthService(members, store, nil, testAuthConfig())

	req := &AuthorizeRequest{
		RequestID:        "req-abc-001",
		MemberNumber:     "M001",
		Amount:           decimal.NewFromInt(10000),
		MerchantCategory: "retail",
	}

	first, err := svc.Authorize(context.Background(), req)
	require.NoError(t, err)

	second, err := svc.Authorize(context.Background(), req)
	require.NoError(t, err)

	// 同一幂等ID返回同一笔交易，额度只占用一次
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.True(t, members.balance("M001").Equal(decimal.NewFromInt(10000)))
}

func TestAuthorize_ConcurrentOverLimitOnlyOneWins(t *testing.T) {
	// 额度 100000，两笔并发各 60000，合计超限，只能通过一笔
	members := newMemoryMemberStore(activeMember("M001", 100000, 0))
	store := newMemoryTransactionStore()
	cfg := testAuthConfig()
	cfg.Baseline.AmountThreshold = decimal.NewFromInt(10000000) // 抬高阈值，避免风控干扰
	svc := newTestAuthService(members, store, nil, cfg)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, results[idx] = svc.Authorize(context.Background(), &AuthorizeRequest{
				MemberNumber:     "M001",
				Amount:           decimal.NewFromInt(60000),
				MerchantCategory: "retail",
			})
		}(i)
	}
	wg.Wait()

	approved := 0
	for _, err := range results {
		if err == nil {
			approved++
		} else {
			assert.ErrorIs(t, err, repository.ErrCreditLimitExceeded)
		}
	}
	assert.Equal(t, 1, approved)
	assert.True(t, members.balance("M001").Equal(decimal.NewFromInt(60000)))
}

func TestAuthorize_RetriesOnDuplicateTransactionID(t *testing.T) {
	members := newMemoryMemberStore(activeMember("M001", 500000, 0))
	store := newMemoryTransactionStore()
	store.createErrs = []error{repository.ErrDuplicateTransaction} // 第一次落库撞唯一索引
	svc := newTestAuthService(members, store, nil, testAuthConfig())

	trans, err := svc.Authorize(context.Background(), &AuthorizeRequest{
		MemberNumber:     "M001",
		Amount:           decimal.NewFromInt(5000),
		MerchantCategory: "retail",
	})

	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusApproved, trans.Status)
	assert.True(t, members.balance("M001").Equal(decimal.NewFromInt(5000)))
}

func TestAuthorize_ReleasesReservationWhenPersistFails(t *testing.T) {
	members := newMemoryMemberStore(activeMember("M001", 500000, 0))
	store := newMemoryTransactionStore()
	storeErr := errors.New("数据库不可用")
	store.createErrs = []error{storeErr}
	svc := newTestAuthService(members, store, nil, testAuthConfig())

	_, err := svc.Authorize(context.Background(), &AuthorizeRequest{
		MemberNumber:     "M001",
		Amount:           decimal.NewFromInt(5000),
		MerchantCategory: "retail",
	})

	require.ErrorIs(t, err, storeErr)

	// 落库失败后占用必须补偿释放
	assert.True(t, members.balance("M001").IsZero())
}

func TestAuthorize_TableRuleOverridesBaselineThreshold(t *testing.T) {
	members := newMemoryMemberStore(activeMember("M001", 500000, 0))
	store := newMemoryTransactionStore()
	rules := []*model.FraudRule{
		{
			RuleType:        model.FraudRuleTypeAmountThreshold,
			RiskLevel:       model.RiskLevelCritical,
			ThresholdAmount: decimal.NewNullDecimal(decimal.NewFromInt(30000)),
			Enabled:         true,
		},
	}
	svc := newTestAuthService(members, store, rules, testAuthConfig())

	// 50000 低于兜底阈值 100000，但超过表内规则阈值 30000
	_, err := svc.Authorize(context.Background(), &AuthorizeRequest{
		MemberNumber:     "M001",
		Amount:           decimal.NewFromInt(50000),
		MerchantCategory: "retail",
	})

	var fraudErr *FraudDetectedError
	require.ErrorAs(t, err, &fraudErr)
	assert.True(t, members.balance("M001").IsZero())
}
