package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-booksync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type SyncRecordStore struct {
	db   *bun.DB
	repo repository.Repository[*syncRecordRecord]
}

func NewSyncRecordStore(db *bun.DB) (*SyncRecordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*syncRecordRecord](db, syncRecordHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid sync record repository wiring: %w", err)
		}
	}
	return &SyncRecordStore{db: db, repo: repo}, nil
}

// Upsert writes the attempt outcome for the (connection, entity type,
// entity id) key. A synced row never regresses to failed.
func (s *SyncRecordStore) Upsert(ctx context.Context, record core.SyncRecord) (core.SyncRecord, error) {
	if s == nil || s.db == nil {
		return core.SyncRecord{}, fmt.Errorf("sqlstore: sync record store is not configured")
	}
	connectionID := strings.TrimSpace(record.ConnectionID)
	entityID := strings.TrimSpace(record.EntityID)
	entityType := strings.TrimSpace(string(record.EntityType))
	if connectionID == "" || entityID == "" || entityType == "" {
		return core.SyncRecord{}, fmt.Errorf("sqlstore: connection id, entity type, and entity id are required")
	}
	now := time.Now().UTC()

	var out core.SyncRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := findSyncRecordTx(ctx, tx, connectionID, entityType, entityID)
		if err != nil {
			return err
		}
		if existing == nil {
			fresh := newSyncRecordRecord(record, now)
			fresh.ConnectionID = connectionID
			fresh.EntityType = entityType
			fresh.EntityID = entityID
			if strings.TrimSpace(fresh.ID) == "" {
				fresh.ID = uuid.NewString()
			}
			if _, insertErr := tx.NewInsert().Model(fresh).Exec(ctx); insertErr != nil {
				if !isUniqueViolation(insertErr) {
					return insertErr
				}
				existing, err = findSyncRecordTx(ctx, tx, connectionID, entityType, entityID)
				if err != nil {
					return err
				}
				if existing == nil {
					return insertErr
				}
			} else {
				out = fresh.toDomain()
				return nil
			}
		}

		if existing.Status == string(core.SyncRecordStatusSynced) && record.Status != core.SyncRecordStatusSynced {
			out = existing.toDomain()
			return nil
		}

		existing.Status = string(record.Status)
		existing.Error = record.Error
		existing.ExternalEntityID = record.ExternalEntityID
		existing.ExternalEntityType = record.ExternalEntityType
		existing.LastAttemptAt = record.LastAttemptAt
		existing.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().Model(existing).Where("id = ?", existing.ID).Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = existing.toDomain()
		return nil
	})
	if err != nil {
		return core.SyncRecord{}, err
	}
	return out, nil
}

func (s *SyncRecordStore) Get(ctx context.Context, connectionID string, entityType core.EntityType, entityID string) (core.SyncRecord, error) {
	if s == nil || s.db == nil {
		return core.SyncRecord{}, fmt.Errorf("sqlstore: sync record store is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	entityID = strings.TrimSpace(entityID)
	if connectionID == "" || entityID == "" {
		return core.SyncRecord{}, fmt.Errorf("sqlstore: connection id and entity id are required")
	}

	record := &syncRecordRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.connection_id = ?", connectionID).
		Where("?TableAlias.entity_type = ?", string(entityType)).
		Where("?TableAlias.entity_id = ?", entityID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.SyncRecord{}, fmt.Errorf("sqlstore: sync record not found for entity %s", entityID)
		}
		return core.SyncRecord{}, err
	}
	return record.toDomain(), nil
}

func (s *SyncRecordStore) ListByStatus(ctx context.Context, connectionID string, entityType core.EntityType, status core.SyncRecordStatus) ([]core.SyncRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: sync record store is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return nil, fmt.Errorf("sqlstore: connection id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("connection_id", "=", connectionID),
		repository.SelectBy("entity_type", "=", string(entityType)),
		repository.SelectBy("status", "=", string(status)),
		repository.OrderBy("updated_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.SyncRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *SyncRecordStore) SyncedEntityIDs(ctx context.Context, connectionID string, entityType core.EntityType) (map[string]struct{}, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: sync record store is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return nil, fmt.Errorf("sqlstore: connection id is required")
	}

	var ids []string
	err := s.db.NewSelect().
		Model((*syncRecordRecord)(nil)).
		Column("entity_id").
		Where("connection_id = ?", connectionID).
		Where("entity_type = ?", string(entityType)).
		Where("status = ?", string(core.SyncRecordStatusSynced)).
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func findSyncRecordTx(ctx context.Context, tx bun.Tx, connectionID, entityType, entityID string) (*syncRecordRecord, error) {
	record := &syncRecordRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.connection_id = ?", connectionID).
		Where("?TableAlias.entity_type = ?", entityType).
		Where("?TableAlias.entity_id = ?", entityID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}
