package repository

import (
	"context"
	"errors"
	"time"

	"ledgersystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrJournalEntryNotFound = errors.New("凭证不存在")
	ErrDuplicateEventID     = errors.New("事件ID已记账")
)

type JournalRepository struct {
	db *gorm.DB
}

func NewJournalRepository(db *gorm.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

func (r *JournalRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// Insert 显式写入凭证与分录行，只做 INSERT
func (r *JournalRepository) Insert(ctx context.Context, tx *gorm.DB, entry *model.JournalEntry) error {
	err := tx.WithContext(ctx).Omit(clause.Associations).Create(entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEventID
		}
		return err
	}
	if len(entry.Lines) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&entry.Lines).Error
}

func (r *JournalRepository) GetByID(ctx context.Context, tx *gorm.DB, tenantID, id string) (*model.JournalEntry, error) {
	var entry model.JournalEntry
	err := r.conn(tx).WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJournalEntryNotFound
		}
		return nil, err
	}

	lines, err := r.LinesOf(ctx, tx, entry.ID)
	if err != nil {
		return nil, err
	}
	entry.Lines = lines
	return &entry, nil
}

func (r *JournalRepository) LinesOf(ctx context.Context, tx *gorm.DB, entryID string) ([]model.JournalLine, error) {
	var lines []model.JournalLine
	err := r.conn(tx).WithContext(ctx).
		Where("journal_entry_id = ?", entryID).
		Order("line_no ASC").
		Find(&lines).Error
	return lines, err
}

func (r *JournalRepository) ExistsReversalOf(ctx context.Context, tx *gorm.DB, entryID string) (bool, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).
		Model(&model.JournalEntry{}).
		Where("reversal_of_id = ?", entryID).
		Count(&count).Error
	return count > 0, err
}

func (r *JournalRepository) ExistsByEventID(ctx context.Context, tx *gorm.DB, tenantID, eventID string) (bool, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).
		Model(&model.JournalEntry{}).
		Where("tenant_id = ? AND event_id = ?", tenantID, eventID).
		Count(&count).Error
	return count > 0, err
}

// FindAutoReverseCandidates 区间内标记自动冲销且尚未被冲销的凭证
func (r *JournalRepository) FindAutoReverseCandidates(ctx context.Context, tx *gorm.DB, tenantID string, start, end time.Time) ([]*model.JournalEntry, error) {
	var entries []*model.JournalEntry
	err := r.conn(tx).WithContext(ctx).
		Where("tenant_id = ? AND auto_reverse = ? AND status = ? AND posted_date >= ? AND posted_date <= ?",
			tenantID, true, model.JournalStatusPosted, model.DateOf(start), model.DateOf(end)).
		Where("NOT EXISTS (SELECT 1 FROM journal_entries r WHERE r.reversal_of_id = journal_entries.id)").
		Order("chain_index ASC").
		Find(&entries).Error
	return entries, err
}

// JournalFilter 凭证查询条件
type JournalFilter struct {
	TenantID    string
	PostedFrom  *time.Time
	PostedTo    *time.Time
	AccountCode string
	Status      model.JournalStatus
	ReferenceID string
	Offset      int
	Limit       int
}

func (r *JournalRepository) List(ctx context.Context, f JournalFilter) ([]*model.JournalEntry, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.JournalEntry{}).Where("tenant_id = ?", f.TenantID)
	if f.PostedFrom != nil {
		q = q.Where("posted_date >= ?", model.DateOf(*f.PostedFrom))
	}
	if f.PostedTo != nil {
		q = q.Where("posted_date <= ?", model.DateOf(*f.PostedTo))
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ReferenceID != "" {
		q = q.Where("reference_id = ?", f.ReferenceID)
	}
	if f.AccountCode != "" {
		q = q.Where("EXISTS (SELECT 1 FROM journal_lines l WHERE l.journal_entry_id = journal_entries.id AND l.account_code = ?)", f.AccountCode)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var entries []*model.JournalEntry
	err := q.Order("chain_index DESC").Offset(f.Offset).Limit(limit).Find(&entries).Error
	return entries, total, err
}

// ListChain 按链序读取，用于哈希链校验
func (r *JournalRepository) ListChain(ctx context.Context, tenantID string, afterIndex int64, limit int) ([]*model.JournalEntry, error) {
	var entries []*model.JournalEntry
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND chain_index > ?", tenantID, afterIndex).
		Order("chain_index ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
