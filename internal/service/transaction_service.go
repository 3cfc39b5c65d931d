package service

import (
	"context"

	"creditcore/internal/model"
	"creditcore/internal/repository"

	"gorm.io/gorm"
)

// TransactionService 交易查询（审计入口）
type TransactionService struct {
	transactionRepo *repository.TransactionRepository
}

func NewTransactionService(db *gorm.DB) *TransactionService {
	return &TransactionService{
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

func (s *TransactionService) GetTransaction(ctx context.Context, transactionID string) (*model.Transaction, error) {
	return s.transactionRepo.GetByTransactionID(ctx, transactionID)
}

func (s *TransactionService) ListMemberTransactions(ctx context.Context, memberNumber string, page, pageSize int) ([]*model.Transaction, int64, error) {
	return s.transactionRepo.ListByMemberNumber(ctx, memberNumber, page, pageSize)
}
