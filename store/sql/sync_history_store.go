package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-booksync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type SyncHistoryStore struct {
	db   *bun.DB
	repo repository.Repository[*syncHistoryRecord]
}

func NewSyncHistoryStore(db *bun.DB) (*SyncHistoryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*syncHistoryRecord](db, syncHistoryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid sync history repository wiring: %w", err)
		}
	}
	return &SyncHistoryStore{db: db, repo: repo}, nil
}

func (s *SyncHistoryStore) Create(ctx context.Context, history core.SyncHistory) (core.SyncHistory, error) {
	if s == nil || s.repo == nil {
		return core.SyncHistory{}, fmt.Errorf("sqlstore: sync history store is not configured")
	}
	if strings.TrimSpace(history.ConnectionID) == "" {
		return core.SyncHistory{}, fmt.Errorf("sqlstore: connection id is required")
	}
	if history.StartedAt.IsZero() {
		history.StartedAt = time.Now().UTC()
	}
	record := newSyncHistoryRecord(history)
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.SyncHistory{}, err
	}
	return created.toDomain(), nil
}

func (s *SyncHistoryStore) Update(ctx context.Context, history core.SyncHistory) (core.SyncHistory, error) {
	if s == nil || s.repo == nil {
		return core.SyncHistory{}, fmt.Errorf("sqlstore: sync history store is not configured")
	}
	trimmedID := strings.TrimSpace(history.ID)
	if trimmedID == "" {
		return core.SyncHistory{}, fmt.Errorf("sqlstore: history id is required")
	}
	current, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		return core.SyncHistory{}, err
	}
	current.Status = string(history.Status)
	current.SyncedCount = history.SyncedCount
	current.FailedCount = history.FailedCount
	current.Failures = append([]core.SyncFailure(nil), history.Failures...)
	current.FinishedAt = cloneTime(history.FinishedAt)

	updated, err := s.repo.Update(ctx, current, repository.UpdateByID(trimmedID))
	if err != nil {
		return core.SyncHistory{}, err
	}
	return updated.toDomain(), nil
}

func (s *SyncHistoryStore) Get(ctx context.Context, id string) (core.SyncHistory, error) {
	if s == nil || s.repo == nil {
		return core.SyncHistory{}, fmt.Errorf("sqlstore: sync history store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.SyncHistory{}, err
	}
	return record.toDomain(), nil
}

func (s *SyncHistoryStore) List(ctx context.Context, connectionID string, limit int) ([]core.SyncHistory, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: sync history store is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return nil, fmt.Errorf("sqlstore: connection id is required")
	}
	criteria := []repository.SelectCriteria{
		repository.SelectBy("connection_id", "=", connectionID),
		repository.OrderBy("started_at DESC"),
	}
	if limit > 0 {
		criteria = append(criteria, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Limit(limit)
		}))
	}
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	out := make([]core.SyncHistory, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *SyncHistoryStore) FindStarted(ctx context.Context, connectionID string) ([]core.SyncHistory, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: sync history store is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return nil, fmt.Errorf("sqlstore: connection id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("connection_id", "=", connectionID),
		repository.SelectBy("status", "=", string(core.SyncRunStatusStarted)),
		repository.OrderBy("started_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.SyncHistory, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
