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

type CategoryMappingStore struct {
	db   *bun.DB
	repo repository.Repository[*categoryMappingRecord]
}

func NewCategoryMappingStore(db *bun.DB) (*CategoryMappingStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*categoryMappingRecord](db, categoryMappingHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid category mapping repository wiring: %w", err)
		}
	}
	return &CategoryMappingStore{db: db, repo: repo}, nil
}

// Upsert writes one row per (connection, category), replacing the account
// reference and source on re-mapping.
func (s *CategoryMappingStore) Upsert(ctx context.Context, mapping core.CategoryMapping) (core.CategoryMapping, error) {
	if s == nil || s.db == nil {
		return core.CategoryMapping{}, fmt.Errorf("sqlstore: category mapping store is not configured")
	}
	connectionID := strings.TrimSpace(mapping.ConnectionID)
	category := strings.TrimSpace(string(mapping.Category))
	if connectionID == "" || category == "" {
		return core.CategoryMapping{}, fmt.Errorf("sqlstore: connection id and category are required")
	}
	if strings.TrimSpace(mapping.AccountID) == "" {
		return core.CategoryMapping{}, fmt.Errorf("sqlstore: account id is required")
	}
	now := time.Now().UTC()

	var out core.CategoryMapping
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findCategoryMappingTx(ctx, tx, connectionID, category)
		if err != nil {
			return err
		}
		if record == nil {
			record = newCategoryMappingRecord(mapping, now)
			record.ConnectionID = connectionID
			record.Category = category
			if strings.TrimSpace(record.ID) == "" {
				record.ID = uuid.NewString()
			}
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				if !isUniqueViolation(insertErr) {
					return insertErr
				}
				record, err = findCategoryMappingTx(ctx, tx, connectionID, category)
				if err != nil {
					return err
				}
				if record == nil {
					return insertErr
				}
			} else {
				out = record.toDomain()
				return nil
			}
		}

		record.AccountID = strings.TrimSpace(mapping.AccountID)
		record.AccountName = strings.TrimSpace(mapping.AccountName)
		record.AccountType = strings.TrimSpace(mapping.AccountType)
		record.Source = string(mapping.Source)
		record.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().Model(record).Where("id = ?", record.ID).Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.CategoryMapping{}, err
	}
	return out, nil
}

func (s *CategoryMappingStore) GetByCategory(ctx context.Context, connectionID string, category core.ExpenseCategory) (core.CategoryMapping, error) {
	if s == nil || s.db == nil {
		return core.CategoryMapping{}, fmt.Errorf("sqlstore: category mapping store is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return core.CategoryMapping{}, fmt.Errorf("sqlstore: connection id is required")
	}

	record := &categoryMappingRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.connection_id = ?", connectionID).
		Where("?TableAlias.category = ?", string(category)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.CategoryMapping{}, fmt.Errorf("sqlstore: mapping not found for category %s", category)
		}
		return core.CategoryMapping{}, err
	}
	return record.toDomain(), nil
}

func (s *CategoryMappingStore) ListByConnection(ctx context.Context, connectionID string) ([]core.CategoryMapping, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: category mapping store is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return nil, fmt.Errorf("sqlstore: connection id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("connection_id", "=", connectionID),
		repository.OrderBy("category ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.CategoryMapping, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *CategoryMappingStore) Delete(ctx context.Context, connectionID string, category core.ExpenseCategory) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: category mapping store is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	_, err := s.db.NewDelete().
		Model((*categoryMappingRecord)(nil)).
		Where("connection_id = ?", connectionID).
		Where("category = ?", string(category)).
		Exec(ctx)
	return err
}

func findCategoryMappingTx(ctx context.Context, tx bun.Tx, connectionID, category string) (*categoryMappingRecord, error) {
	record := &categoryMappingRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.connection_id = ?", connectionID).
		Where("?TableAlias.category = ?", category).
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
