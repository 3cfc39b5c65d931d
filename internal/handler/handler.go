package handler

import (
	"errors"
	"log"
	"strconv"

	"creditcore/internal/config"
	"creditcore/internal/infrastructure/lock"
	"creditcore/internal/repository"
	"creditcore/internal/service"
	"creditcore/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	authorizationService *service.AuthorizationService
	captureService       *service.CaptureService
	memberService        *service.MemberService
	transactionService   *service.TransactionService
}

// NewHandler 创建处理器实例，在此完成核心引擎与仓储/锁实现的装配
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	amountThreshold, err := decimal.NewFromString(cfg.Fraud.AmountThreshold)
	if err != nil {
		log.Fatalf("风控金额阈值配置错误: %v", err)
	}
	baseline := service.FraudBaseline{
		AmountThreshold:   amountThreshold,
		BlockedCategories: cfg.Fraud.BlockedCategories,
		VelocityMaxCount:  cfg.Fraud.VelocityMaxCount,
		VelocityWindow:    cfg.Fraud.VelocityWindow(),
	}

	memberRepo := repository.NewMemberRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	ruleRepo := repository.NewFraudRuleRepository(db)
	locker := lock.NewRedisLocker(rdb)

	return &Handler{
		authorizationService: service.NewAuthorizationService(
			memberRepo, memberRepo, transactionRepo, ruleRepo, locker,
			service.AuthorizationConfig{
				Currency:     cfg.Business.Currency,
				HoldExpiry:   cfg.Business.AuthHoldExpiry(),
				IDRetryCount: cfg.Business.IDRetryCount,
				EventTopic:   cfg.Kafka.Topic.AuthResult,
				Baseline:     baseline,
			}),
		captureService: service.NewCaptureService(
			memberRepo, transactionRepo, locker,
			service.CaptureConfig{EventTopic: cfg.Kafka.Topic.AuthResult}),
		memberService:      service.NewMemberService(db),
		transactionService: service.NewTransactionService(db),
	}
}

// writeError 把核心错误映射为业务错误码
// 所有业务失败都带明确的 kind 与可读信息，绝不吞成笼统的 success=false
func writeError(c *gin.Context, err error) {
	var fraudErr *service.FraudDetectedError
	switch {
	case errors.As(err, &fraudErr):
		response.ErrorWithData(c, response.CodeFraudDetected, fraudErr.Error(), gin.H{
			"alerts": fraudErr.Alerts,
		})
	case errors.Is(err, repository.ErrMemberNotFound):
		response.BusinessError(c, response.CodeMemberNotFound, err.Error())
	case errors.Is(err, service.ErrMemberNotActive):
		response.BusinessError(c, response.CodeMemberNotActive, err.Error())
	case errors.Is(err, repository.ErrCreditLimitExceeded):
		response.BusinessError(c, response.CodeCreditLimitExceeded, err.Error())
	case errors.Is(err, repository.ErrTransactionNotFound):
		response.BusinessError(c, response.CodeTransactionNotFound, err.Error())
	case errors.Is(err, repository.ErrInvalidTransition):
		response.BusinessError(c, response.CodeInvalidTransition, err.Error())
	case errors.Is(err, repository.ErrDuplicateTransaction):
		response.BusinessError(c, response.CodeDuplicateTransaction, err.Error())
	case errors.Is(err, repository.ErrInvariantViolation):
		response.BusinessError(c, response.CodeInvariantViolation, err.Error())
	case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrCaptureAmountExceeded):
		response.ParamError(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 授信相关接口
// ============================================================

// AuthorizeRequest 授权请求
type AuthorizeRequest struct {
	RequestID        string          `json:"request_id"` // 幂等ID，可选
	MemberNumber     string          `json:"member_number" binding:"required"`
	Amount           decimal.Decimal `json:"amount" binding:"required"`
	MerchantName     string          `json:"merchant_name" binding:"required"`
	MerchantCategory string          `json:"merchant_category" binding:"required"`
}

// Authorize 预授权（占用额度）
// POST /api/v1/credit/authorize
//
// 【关键点】授权是整个系统最核心的操作，需要保证：
// 1. 并发安全：同一会员的授权串行，合计超限的并发请求只会通过一笔
// 2. 全有或全无：风控拒绝或落库失败时，刚占用的额度必须释放
func (h *Handler) Authorize(c *gin.Context) {
	var req AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.authorizationService.Authorize(c.Request.Context(), &service.AuthorizeRequest{
		RequestID:        req.RequestID,
		MemberNumber:     req.MemberNumber,
		Amount:           req.Amount,
		MerchantName:     req.MerchantName,
		MerchantCategory: req.MerchantCategory,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"transaction_id":     trans.TransactionID,
		"authorization_code": trans.AuthorizationCode,
		"status":             trans.Status,
		"amount":             trans.Amount,
		"currency":           trans.Currency,
		"expires_at":         trans.ExpiresAt,
	})
}

// CaptureRequest 请款请求
type CaptureRequest struct {
	TransactionID string          `json:"transaction_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
}

// Capture 请款（允许部分请款）
// POST /api/v1/credit/capture
func (h *Handler) Capture(c *gin.Context) {
	var req CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.captureService.Capture(c.Request.Context(), req.TransactionID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"transaction_id": trans.TransactionID,
		"status":         trans.Status,
		"amount":         trans.Amount,
		"settled_amount": trans.SettledAmount,
		"settled_at":     trans.SettledAt,
	})
}

// VoidRequest 撤销请求
type VoidRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
}

// Void 撤销预授权
// POST /api/v1/credit/void
func (h *Handler) Void(c *gin.Context) {
	var req VoidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.captureService.Void(c.Request.Context(), req.TransactionID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"transaction_id": trans.TransactionID,
		"status":         trans.Status,
		"amount":         trans.Amount,
	})
}

// Chargeback 外部拒付上报，仅标记状态
// POST /api/v1/credit/chargeback
func (h *Handler) Chargeback(c *gin.Context) {
	var req VoidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.captureService.MarkDisputed(c.Request.Context(), req.TransactionID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"transaction_id": trans.TransactionID,
		"status":         trans.Status,
	})
}

// ============================================================
// 交易查询接口
// ============================================================

// GetTransaction 查询交易详情
// GET /api/v1/transaction/detail?transaction_id=xxx
func (h *Handler) GetTransaction(c *gin.Context) {
	transactionID := c.Query("transaction_id")
	if transactionID == "" {
		response.ParamError(c, "transaction_id 参数不能为空")
		return
	}

	trans, err := h.transactionService.GetTransaction(c.Request.Context(), transactionID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, trans)
}

// ListTransactions 查询会员交易列表
// GET /api/v1/transaction/list?member_number=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	memberNumber := c.Query("member_number")
	if memberNumber == "" {
		response.ParamError(c, "member_number 参数不能为空")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	transactions, total, err := h.transactionService.ListMemberTransactions(
		c.Request.Context(), memberNumber, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 会员相关接口
// ============================================================

// GetMember 查询会员额度
// GET /api/v1/member/detail?member_number=xxx
func (h *Handler) GetMember(c *gin.Context) {
	memberNumber := c.Query("member_number")
	if memberNumber == "" {
		response.ParamError(c, "member_number 参数不能为空")
		return
	}

	member, err := h.memberService.GetMember(c.Request.Context(), memberNumber)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"member_number":    member.MemberNumber,
		"status":           member.Status,
		"credit_limit":     member.CreditLimit,
		"current_balance":  member.CurrentBalance,
		"available_credit": member.AvailableCredit(),
	})
}

// RegisterMember 开卡（简化版，实际入会走独立的审核流程）
// POST /api/v1/member/register
func (h *Handler) RegisterMember(c *gin.Context) {
	var req service.RegisterMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	member, err := h.memberService.Register(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"member_number": member.MemberNumber,
		"status":        member.Status,
		"credit_limit":  member.CreditLimit,
	})
}
