package service

import (
	"context"
	"fmt"

	"ledgersystem/internal/metrics"
	"ledgersystem/internal/model"
	"ledgersystem/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IntegrityReport 会计恒等式与哈希链校验结果
type IntegrityReport struct {
	TenantID      string             `json:"tenant_id"`
	Assets        int64              `json:"assets"`
	Liabilities   int64              `json:"liabilities"`
	Equity        int64              `json:"equity"`
	Revenue       int64              `json:"revenue"`
	Expenses      int64              `json:"expenses"`
	Delta         int64              `json:"delta"`
	EquationHolds bool               `json:"equation_holds"`
	Chain         *ChainVerification `json:"chain"`
	Healthy       bool               `json:"healthy"`
}

// IntegrityService 资产 = 负债 + 权益 + 收入 - 费用，余额均为正常方向，备抵科目冲减
type IntegrityService struct {
	accountRepo *repository.AccountRepository
	chain       *HashChainService
	log         *zap.Logger
}

func NewIntegrityService(db *gorm.DB, chain *HashChainService, log *zap.Logger) *IntegrityService {
	return &IntegrityService{
		accountRepo: repository.NewAccountRepository(db),
		chain:       chain,
		log:         log,
	}
}

func (s *IntegrityService) CheckTenant(ctx context.Context, tenantID string) (*IntegrityReport, error) {
	sums, err := s.accountRepo.SumBalancesByType(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("汇总科目余额失败: %w", err)
	}

	report := &IntegrityReport{TenantID: tenantID}
	for _, sum := range sums {
		v := sum.Total
		if sum.IsContra {
			v = -v
		}
		switch sum.AccountType {
		case model.AccountTypeAsset:
			report.Assets += v
		case model.AccountTypeLiability:
			report.Liabilities += v
		case model.AccountTypeEquity:
			report.Equity += v
		case model.AccountTypeRevenue:
			report.Revenue += v
		case model.AccountTypeExpense:
			report.Expenses += v
		}
	}
	report.Delta = report.Assets - report.Liabilities - report.Equity - report.Revenue + report.Expenses
	report.EquationHolds = report.Delta == 0
	metrics.IntegrityEquationDelta.WithLabelValues(tenantID).Set(float64(report.Delta))

	chain, err := s.chain.Verify(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	report.Chain = chain
	if chain.Valid {
		metrics.IntegrityChainBroken.WithLabelValues(tenantID).Set(0)
	} else {
		metrics.IntegrityChainBroken.WithLabelValues(tenantID).Set(1)
	}

	report.Healthy = report.EquationHolds && chain.Valid
	if !report.EquationHolds {
		s.log.Error("会计恒等式不成立",
			zap.String("tenant_id", tenantID),
			zap.Int64("assets", report.Assets),
			zap.Int64("liabilities", report.Liabilities),
			zap.Int64("equity", report.Equity),
			zap.Int64("revenue", report.Revenue),
			zap.Int64("expenses", report.Expenses),
			zap.Int64("delta", report.Delta))
	}
	return report, nil
}

// CheckAll 逐个租户校验，单个租户出错不影响其他租户
func (s *IntegrityService) CheckAll(ctx context.Context) ([]*IntegrityReport, error) {
	tenants, err := s.accountRepo.ListTenantIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询租户失败: %w", err)
	}

	reports := make([]*IntegrityReport, 0, len(tenants))
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return reports, ctx.Err()
		}
		report, err := s.CheckTenant(ctx, tenantID)
		if err != nil {
			s.log.Error("租户完整性校验失败", zap.String("tenant_id", tenantID), zap.Error(err))
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}
