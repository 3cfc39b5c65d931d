package service

import (
	"context"
	"errors"

	"creditcore/internal/model"
	"creditcore/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MemberService 会员查询与开卡（简化版，实际入会走独立的审核流程）
type MemberService struct {
	memberRepo *repository.MemberRepository
	db         *gorm.DB
}

func NewMemberService(db *gorm.DB) *MemberService {
	return &MemberService{
		memberRepo: repository.NewMemberRepository(db),
		db:         db,
	}
}

type RegisterMemberRequest struct {
	MemberNumber string          `json:"member_number" binding:"required"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	CreditLimit  decimal.Decimal `json:"credit_limit" binding:"required"`
}

// Register 开卡并授予初始额度
func (s *MemberService) Register(ctx context.Context, req *RegisterMemberRequest) (*model.Member, error) {
	if req.CreditLimit.IsNegative() {
		return nil, errors.New("信用额度不能为负数")
	}

	member := &model.Member{
		MemberNumber:   req.MemberNumber,
		Name:           req.Name,
		Email:          req.Email,
		Status:         model.MemberStatusActive,
		CreditLimit:    req.CreditLimit,
		CurrentBalance: decimal.Zero,
	}
	if err := s.memberRepo.Create(ctx, member); err != nil {
		return nil, err
	}

	// OnConflict DoNothing 下重复开卡返回已有会员
	return s.memberRepo.GetByMemberNumber(ctx, req.MemberNumber)
}

func (s *MemberService) GetMember(ctx context.Context, memberNumber string) (*model.Member, error) {
	return s.memberRepo.GetByMemberNumber(ctx, memberNumber)
}
