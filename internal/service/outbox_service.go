package service

import (
	"context"
	"encoding/json"
	"fmt"

	"ledgersystem/internal/model"
	"ledgersystem/internal/repository"
	"ledgersystem/pkg/idgen"

	"go.opentelemetry.io/otel/propagation"
	"gorm.io/gorm"
)

// OutboxService 与凭证同事务写入记账完成事件
type OutboxService struct {
	repo       *repository.OutboxRepository
	eventType  string
	propagator propagation.TextMapPropagator
}

func NewOutboxService(db *gorm.DB, eventType string) *OutboxService {
	return &OutboxService{
		repo:       repository.NewOutboxRepository(db),
		eventType:  eventType,
		propagator: propagation.TraceContext{},
	}
}

func (s *OutboxService) EventType() string {
	return s.eventType
}

// RecordJournalPosted 写入 journal.posted 事件，带上当前链路的 traceparent
func (s *OutboxService) RecordJournalPosted(ctx context.Context, tx *gorm.DB, sourceEventID string, entry *model.JournalEntry) (*model.OutboxEvent, error) {
	payload, err := json.Marshal(model.JournalPostedPayload{
		JournalEntryID: entry.ID,
		TenantID:       entry.TenantID,
		SourceEventID:  sourceEventID,
		Status:         string(entry.Status),
		PostedDate:     entry.PostedDate.Format(model.DateLayout),
		CreatedAt:      ChainTimestamp(entry.CreatedAt),
	})
	if err != nil {
		return nil, fmt.Errorf("事件序列化失败: %w", err)
	}

	event := &model.OutboxEvent{
		ID:            idgen.NextID(),
		TenantID:      entry.TenantID,
		EventType:     s.eventType,
		AggregateType: model.AggregateTypeJournalEntry,
		AggregateID:   entry.ID,
		Payload:       payload,
		Traceparent:   s.traceparent(ctx),
	}
	if err := s.repo.Create(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("写入发件箱失败: %w", err)
	}
	return event, nil
}

func (s *OutboxService) traceparent(ctx context.Context) string {
	carrier := propagation.MapCarrier{}
	s.propagator.Inject(ctx, carrier)
	return carrier.Get("traceparent")
}
