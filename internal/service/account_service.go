package service

import (
	"context"
	"fmt"
	"strings"

	"ledgersystem/internal/model"
	"ledgersystem/internal/repository"
	"ledgersystem/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CreateAccountRequest struct {
	Code         string `json:"code" binding:"required"`
	Name         string `json:"name" binding:"required"`
	AccountType  string `json:"account_type" binding:"required"`
	IsContra     bool   `json:"is_contra"`
	CurrencyCode string `json:"currency_code" binding:"required"`
}

type AccountService struct {
	accountRepo *repository.AccountRepository
	log         *zap.Logger
}

func NewAccountService(db *gorm.DB, log *zap.Logger) *AccountService {
	return &AccountService{
		accountRepo: repository.NewAccountRepository(db),
		log:         log,
	}
}

// CreateAccount 新科目默认启用，余额为 0
func (s *AccountService) CreateAccount(ctx context.Context, tenantID string, req *CreateAccountRequest) (*model.Account, error) {
	accountType := model.AccountType(strings.ToUpper(strings.TrimSpace(req.AccountType)))
	if !accountType.Valid() {
		return nil, fmt.Errorf("%w: 科目类型 %s", ErrInvalidArgument, req.AccountType)
	}
	if req.Code == "" || req.Name == "" {
		return nil, fmt.Errorf("%w: 科目编码与名称必填", ErrInvalidArgument)
	}

	account := &model.Account{
		ID:           idgen.NewUUID(),
		TenantID:     tenantID,
		Code:         strings.TrimSpace(req.Code),
		Name:         req.Name,
		AccountType:  accountType,
		IsContra:     req.IsContra,
		CurrencyCode: strings.ToUpper(req.CurrencyCode),
		IsActive:     true,
	}
	if err := s.accountRepo.Create(ctx, nil, account); err != nil {
		return nil, err
	}

	s.log.Info("科目已创建",
		zap.String("tenant_id", tenantID),
		zap.String("code", account.Code),
		zap.String("type", string(account.AccountType)))
	return account, nil
}

func (s *AccountService) GetAccount(ctx context.Context, tenantID, code string) (*model.Account, error) {
	return s.accountRepo.GetByCode(ctx, nil, tenantID, code)
}

// SetActive 停用后的科目不能再记账，已有余额不受影响
func (s *AccountService) SetActive(ctx context.Context, tenantID, code string, active bool) (*model.Account, error) {
	if err := s.accountRepo.SetActive(ctx, tenantID, code, active); err != nil {
		return nil, err
	}
	return s.accountRepo.GetByCode(ctx, nil, tenantID, code)
}
