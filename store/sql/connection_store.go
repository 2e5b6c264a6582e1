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

type ConnectionStore struct {
	db   *bun.DB
	repo repository.Repository[*connectionRecord]
}

func NewConnectionStore(db *bun.DB) (*ConnectionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*connectionRecord](db, connectionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid connection repository wiring: %w", err)
		}
	}
	return &ConnectionStore{db: db, repo: repo}, nil
}

// Upsert writes the single row per owner. A concurrent insert racing on
// the owner_id unique constraint resolves by re-reading and updating.
func (s *ConnectionStore) Upsert(ctx context.Context, connection core.Connection) (core.Connection, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	ownerID := strings.TrimSpace(connection.OwnerID)
	if ownerID == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: owner id is required")
	}
	connection.OwnerID = ownerID
	now := time.Now().UTC()

	var out core.Connection
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findConnectionByOwnerTx(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if record == nil {
			record = newConnectionRecord(connection, now)
			if strings.TrimSpace(record.ID) == "" {
				record.ID = uuid.NewString()
			}
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				if !isUniqueViolation(insertErr) {
					return insertErr
				}
				record, err = findConnectionByOwnerTx(ctx, tx, ownerID)
				if err != nil {
					return err
				}
				if record == nil {
					return insertErr
				}
				record.applyDomain(connection, now)
				if _, updateErr := tx.NewUpdate().Model(record).Where("id = ?", record.ID).Exec(ctx); updateErr != nil {
					return updateErr
				}
			}
			out = record.toDomain()
			return nil
		}

		record.applyDomain(connection, now)
		if _, updateErr := tx.NewUpdate().Model(record).Where("id = ?", record.ID).Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Connection{}, err
	}
	return out, nil
}

func (s *ConnectionStore) Get(ctx context.Context, id string) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.Connection{}, err
	}
	return record.toDomain(), nil
}

func (s *ConnectionStore) GetByOwner(ctx context.Context, ownerID string) (core.Connection, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: owner id is required")
	}

	record := &connectionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.owner_id = ?", ownerID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Connection{}, fmt.Errorf("sqlstore: connection not found for owner %s", ownerID)
		}
		return core.Connection{}, err
	}
	return record.toDomain(), nil
}

func (s *ConnectionStore) Update(ctx context.Context, connection core.Connection) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(connection.ID)
	if trimmedID == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: connection id is required")
	}
	current, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		return core.Connection{}, err
	}
	current.applyDomain(connection, time.Now().UTC())

	updated, err := s.repo.Update(ctx, current, repository.UpdateByID(trimmedID))
	if err != nil {
		return core.Connection{}, err
	}
	return updated.toDomain(), nil
}

func (s *ConnectionStore) UpdateStatus(ctx context.Context, id string, status core.ConnectionStatus, reason string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	current, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		return err
	}
	current.Status = string(status)
	current.LastError = strings.TrimSpace(reason)
	if status == core.ConnectionStatusActive {
		current.LastError = ""
	}
	current.UpdatedAt = time.Now().UTC()

	_, err = s.repo.Update(ctx, current, repository.UpdateByID(trimmedID))
	return err
}

func (s *ConnectionStore) StampLastSynced(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	current, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		return err
	}
	stamped := at.UTC()
	current.LastSyncedAt = &stamped
	current.UpdatedAt = time.Now().UTC()

	_, err = s.repo.Update(ctx, current, repository.UpdateByID(trimmedID))
	return err
}

// UpdatePaymentAccount writes only the cached payment account columns so a
// caller holding a pre-refresh connection snapshot cannot clobber rotated
// tokens.
func (s *ConnectionStore) UpdatePaymentAccount(ctx context.Context, id string, class core.PaymentClass, accountID, accountName string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("sqlstore: payment account id is required")
	}
	current, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		return err
	}
	switch class {
	case core.PaymentClassCreditCard:
		current.CreditCardAccountID = accountID
		current.CreditCardAccountName = accountName
	default:
		current.BankAccountID = accountID
		current.BankAccountName = accountName
	}
	current.UpdatedAt = time.Now().UTC()

	_, err = s.repo.Update(ctx, current, repository.UpdateByID(trimmedID))
	return err
}

func (s *ConnectionStore) ListAutoSync(ctx context.Context) ([]core.Connection, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("status", "=", string(core.ConnectionStatusActive)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.auto_sync_expenses = TRUE OR ?TableAlias.auto_sync_invoices = TRUE")
		}),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Connection, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// Delete removes the connection together with its mappings, sync records
// and history rows, so a later reconnect starts clean.
func (s *ConnectionStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*categoryMappingRecord)(nil)).
			Where("connection_id = ?", trimmedID).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*syncRecordRecord)(nil)).
			Where("connection_id = ?", trimmedID).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*syncHistoryRecord)(nil)).
			Where("connection_id = ?", trimmedID).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().
			Model((*connectionRecord)(nil)).
			Where("id = ?", trimmedID).
			Exec(ctx)
		return err
	})
}

func findConnectionByOwnerTx(ctx context.Context, tx bun.Tx, ownerID string) (*connectionRecord, error) {
	record := &connectionRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.owner_id = ?", ownerID).
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

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
