package service

import (
	"context"
	"fmt"
	"time"

	"ledgersystem/internal/model"
	"ledgersystem/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type JournalLineRequest struct {
	AccountCode     string            `json:"account_code" binding:"required"`
	AmountCents     int64             `json:"amount_cents"`
	BaseAmountCents *int64            `json:"base_amount_cents,omitempty"`
	IsCredit        bool              `json:"is_credit"`
	Dimensions      map[string]string `json:"dimensions,omitempty"`
}

type CreateJournalEntryRequest struct {
	EventID             string               `json:"event_id" binding:"required"`
	PostedDate          string               `json:"posted_date" binding:"required"`
	EffectiveDate       string               `json:"effective_date,omitempty"`
	TransactionDate     string               `json:"transaction_date,omitempty"`
	Description         string               `json:"description,omitempty"`
	ReferenceID         string               `json:"reference_id,omitempty"`
	TransactionCurrency string               `json:"transaction_currency" binding:"required"`
	BaseCurrency        string               `json:"base_currency,omitempty"`
	ExchangeRate        string               `json:"exchange_rate,omitempty"`
	CreatedBy           string               `json:"created_by,omitempty"`
	AutoReverse         bool                 `json:"auto_reverse,omitempty"`
	Lines               []JournalLineRequest `json:"lines" binding:"required,min=2,dive"`
}

type JournalLineResponse struct {
	LineNo          int               `json:"line_no"`
	AccountCode     string            `json:"account_code"`
	AmountCents     int64             `json:"amount_cents"`
	BaseAmountCents int64             `json:"base_amount_cents"`
	IsCredit        bool              `json:"is_credit"`
	Dimensions      map[string]string `json:"dimensions,omitempty"`
}

type JournalEntryResponse struct {
	JournalEntryID      string                `json:"journal_entry_id"`
	TenantID            string                `json:"tenant_id"`
	EventID             string                `json:"event_id"`
	Status              string                `json:"status"`
	PostedDate          string                `json:"posted_date"`
	EffectiveDate       string                `json:"effective_date"`
	Description         string                `json:"description,omitempty"`
	ReferenceID         string                `json:"reference_id,omitempty"`
	ReversalOfID        string                `json:"reversal_of_id,omitempty"`
	AutoReverse         bool                  `json:"auto_reverse"`
	TransactionCurrency string                `json:"transaction_currency"`
	BaseCurrency        string                `json:"base_currency"`
	ExchangeRate        string                `json:"exchange_rate"`
	FiscalYear          int                   `json:"fiscal_year"`
	SequenceNumber      int64                 `json:"sequence_number"`
	PreviousHash        string                `json:"previous_hash"`
	Hash                string                `json:"hash"`
	CreatedBy           string                `json:"created_by"`
	CreatedAt           string                `json:"created_at"`
	Lines               []JournalLineResponse `json:"lines,omitempty"`
}

type JournalListResponse struct {
	Items  []*JournalEntryResponse `json:"items"`
	Total  int64                   `json:"total"`
	Offset int                     `json:"offset"`
	Limit  int                     `json:"limit"`
}

// ListJournalEntriesQuery 凭证查询条件，日期格式 2006-01-02
type ListJournalEntriesQuery struct {
	PostedFrom  string `form:"posted_from"`
	PostedTo    string `form:"posted_to"`
	AccountCode string `form:"account_code"`
	Status      string `form:"status"`
	ReferenceID string `form:"reference_id"`
	Offset      int    `form:"offset"`
	Limit       int    `form:"limit"`
}

// ToDraft 请求到草稿的显式映射
func (r *CreateJournalEntryRequest) ToDraft(tenantID string) (*model.DraftJournalEntry, error) {
	posted, err := parseRequiredDate("posted_date", r.PostedDate)
	if err != nil {
		return nil, err
	}
	effective, err := parseOptionalDate("effective_date", r.EffectiveDate)
	if err != nil {
		return nil, err
	}
	transaction, err := parseOptionalDate("transaction_date", r.TransactionDate)
	if err != nil {
		return nil, err
	}

	var rate decimal.Decimal
	if r.ExchangeRate != "" {
		rate, err = decimal.NewFromString(r.ExchangeRate)
		if err != nil {
			return nil, fmt.Errorf("%w: exchange_rate %q", ErrInvalidArgument, r.ExchangeRate)
		}
	}

	lines := make([]model.DraftJournalLine, 0, len(r.Lines))
	for _, l := range r.Lines {
		lines = append(lines, model.DraftJournalLine{
			AccountCode:     l.AccountCode,
			AmountCents:     l.AmountCents,
			BaseAmountCents: l.BaseAmountCents,
			IsCredit:        l.IsCredit,
			Dimensions:      l.Dimensions,
		})
	}

	return &model.DraftJournalEntry{
		TenantID:            tenantID,
		EventID:             r.EventID,
		PostedDate:          posted,
		EffectiveDate:       effective,
		TransactionDate:     transaction,
		Description:         r.Description,
		ReferenceID:         r.ReferenceID,
		TransactionCurrency: r.TransactionCurrency,
		BaseCurrency:        r.BaseCurrency,
		ExchangeRate:        rate,
		CreatedBy:           r.CreatedBy,
		AutoReverse:         r.AutoReverse,
		Lines:               lines,
	}, nil
}

// NewJournalEntryResponse 实体到响应的显式映射
func NewJournalEntryResponse(entry *model.JournalEntry) *JournalEntryResponse {
	resp := &JournalEntryResponse{
		JournalEntryID:      entry.ID,
		TenantID:            entry.TenantID,
		EventID:             entry.EventID,
		Status:              string(entry.Status),
		PostedDate:          entry.PostedDate.Format(model.DateLayout),
		EffectiveDate:       entry.EffectiveDate.Format(model.DateLayout),
		Description:         entry.Description,
		ReferenceID:         entry.ReferenceID,
		AutoReverse:         entry.AutoReverse,
		TransactionCurrency: entry.TransactionCurrency,
		BaseCurrency:        entry.BaseCurrency,
		ExchangeRate:        entry.ExchangeRate.String(),
		FiscalYear:          entry.FiscalYear,
		SequenceNumber:      entry.SequenceNumber,
		PreviousHash:        entry.PreviousHash,
		Hash:                entry.Hash,
		CreatedBy:           entry.CreatedBy,
		CreatedAt:           ChainTimestamp(entry.CreatedAt),
	}
	if entry.ReversalOfID != nil {
		resp.ReversalOfID = *entry.ReversalOfID
	}
	for _, l := range entry.Lines {
		line := JournalLineResponse{
			LineNo:          l.LineNo,
			AccountCode:     l.AccountCode,
			AmountCents:     l.Amount,
			BaseAmountCents: l.BaseAmount,
			IsCredit:        l.IsCredit,
		}
		if len(l.Dimensions) > 0 {
			line.Dimensions = make(map[string]string, len(l.Dimensions))
			for k, v := range l.Dimensions {
				line.Dimensions[k] = fmt.Sprint(v)
			}
		}
		resp.Lines = append(resp.Lines, line)
	}
	return resp
}

// JournalService 凭证写入与查询入口
type JournalService struct {
	engine      *PostingEngine
	writer      *IdempotentWriter
	journalRepo *repository.JournalRepository
	log         *zap.Logger
}

func NewJournalService(db *gorm.DB, engine *PostingEngine, writer *IdempotentWriter, log *zap.Logger) *JournalService {
	return &JournalService{
		engine:      engine,
		writer:      writer,
		journalRepo: repository.NewJournalRepository(db),
		log:         log,
	}
}

// CreateJournalEntry 幂等记账，相同 event_id + 相同请求体返回首次结果
func (s *JournalService) CreateJournalEntry(ctx context.Context, tenantID string, req *CreateJournalEntryRequest, role ActorRole) (*JournalEntryResponse, error) {
	return ExecuteIdempotent(ctx, s.writer, tenantID, req.EventID, req, func(ctx context.Context) (*JournalEntryResponse, error) {
		draft, err := req.ToDraft(tenantID)
		if err != nil {
			return nil, err
		}
		entry, err := s.engine.Post(ctx, tenantID, draft, role)
		if err != nil {
			return nil, err
		}
		return NewJournalEntryResponse(entry), nil
	})
}

// BatchError 批量记账中第 Index 条失败，之前的凭证已提交
type BatchError struct {
	Index   int
	EventID string
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("批量记账第 %d 条 (event_id=%s) 失败: %v", e.Index, e.EventID, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// CreateJournalEntriesBatch 逐条幂等记账，批内 event_id 不能重复；失败时已提交的凭证不回滚，原样重试会回放它们
func (s *JournalService) CreateJournalEntriesBatch(ctx context.Context, tenantID string, reqs []*CreateJournalEntryRequest, role ActorRole) ([]*JournalEntryResponse, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: 批量请求为空", ErrInvalidArgument)
	}

	seen := make(map[string]struct{}, len(reqs))
	for _, req := range reqs {
		if _, ok := seen[req.EventID]; ok {
			return nil, fmt.Errorf("%w: 批内重复 event_id %s", ErrDuplicateIdempotencyKey, req.EventID)
		}
		seen[req.EventID] = struct{}{}
	}

	results := make([]*JournalEntryResponse, 0, len(reqs))
	for i, req := range reqs {
		resp, err := s.CreateJournalEntry(ctx, tenantID, req, role)
		if err != nil {
			return results, &BatchError{Index: i, EventID: req.EventID, Err: err}
		}
		results = append(results, resp)
	}
	return results, nil
}

func (s *JournalService) GetJournalEntry(ctx context.Context, tenantID, id string) (*JournalEntryResponse, error) {
	entry, err := s.journalRepo.GetByID(ctx, nil, tenantID, id)
	if err != nil {
		return nil, err
	}
	return NewJournalEntryResponse(entry), nil
}

func (s *JournalService) ListJournalEntries(ctx context.Context, tenantID string, q ListJournalEntriesQuery) (*JournalListResponse, error) {
	filter := repository.JournalFilter{
		TenantID:    tenantID,
		AccountCode: q.AccountCode,
		Status:      model.JournalStatus(q.Status),
		ReferenceID: q.ReferenceID,
		Offset:      q.Offset,
		Limit:       q.Limit,
	}
	if q.PostedFrom != "" {
		d, err := parseRequiredDate("posted_from", q.PostedFrom)
		if err != nil {
			return nil, err
		}
		filter.PostedFrom = &d
	}
	if q.PostedTo != "" {
		d, err := parseRequiredDate("posted_to", q.PostedTo)
		if err != nil {
			return nil, err
		}
		filter.PostedTo = &d
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}

	entries, total, err := s.journalRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("查询凭证失败: %w", err)
	}

	resp := &JournalListResponse{Total: total, Offset: filter.Offset, Limit: filter.Limit, Items: make([]*JournalEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Items = append(resp.Items, NewJournalEntryResponse(e))
	}
	return resp, nil
}

func parseRequiredDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: %s 必填", ErrInvalidArgument, field)
	}
	d, err := model.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s 格式应为 2006-01-02", ErrInvalidArgument, field)
	}
	return d, nil
}

func parseOptionalDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return parseRequiredDate(field, value)
}
