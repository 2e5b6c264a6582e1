package query

import (
	"context"

	"github.com/goliatone/go-booksync/core"
)

// ConnectionStatusReader exposes the connection read surface.
type ConnectionStatusReader interface {
	ConnectionStatus(ctx context.Context, ownerID string) (core.ConnectionStatusReport, error)
	VerifyConnection(ctx context.Context, ownerID string) (core.ConnectionStatusReport, error)
}

// MappingStatusReader exposes the mapping read surface.
type MappingStatusReader interface {
	MappingStatus(ctx context.Context, ownerID string) (core.MappingStatusReport, error)
}

// ExpenseAccountsReader exposes the provider's expense chart of accounts.
type ExpenseAccountsReader interface {
	ExpenseAccounts(ctx context.Context, ownerID string) ([]core.Account, error)
}

// SyncHistoryReader exposes the run audit trail.
type SyncHistoryReader interface {
	SyncHistoryList(ctx context.Context, ownerID string, limit int) ([]core.SyncHistory, error)
}

// SyncStatusReader exposes the per-connection delivery ledger.
type SyncStatusReader interface {
	SyncStatus(ctx context.Context, ownerID string, entityType core.EntityType) (core.SyncStatusReport, error)
}

type ConnectionStatusQuery struct {
	reader ConnectionStatusReader
}

func NewConnectionStatusQuery(reader ConnectionStatusReader) *ConnectionStatusQuery {
	return &ConnectionStatusQuery{reader: reader}
}

func (q *ConnectionStatusQuery) Query(ctx context.Context, msg ConnectionStatusMessage) (core.ConnectionStatusReport, error) {
	if q == nil || q.reader == nil {
		return core.ConnectionStatusReport{}, queryDependencyError("query: connection reader is required")
	}
	return q.reader.ConnectionStatus(ctx, msg.OwnerID)
}

type VerifyConnectionQuery struct {
	reader ConnectionStatusReader
}

func NewVerifyConnectionQuery(reader ConnectionStatusReader) *VerifyConnectionQuery {
	return &VerifyConnectionQuery{reader: reader}
}

func (q *VerifyConnectionQuery) Query(ctx context.Context, msg VerifyConnectionMessage) (core.ConnectionStatusReport, error) {
	if q == nil || q.reader == nil {
		return core.ConnectionStatusReport{}, queryDependencyError("query: connection reader is required")
	}
	return q.reader.VerifyConnection(ctx, msg.OwnerID)
}

type MappingStatusQuery struct {
	reader MappingStatusReader
}

func NewMappingStatusQuery(reader MappingStatusReader) *MappingStatusQuery {
	return &MappingStatusQuery{reader: reader}
}

func (q *MappingStatusQuery) Query(ctx context.Context, msg MappingStatusMessage) (core.MappingStatusReport, error) {
	if q == nil || q.reader == nil {
		return core.MappingStatusReport{}, queryDependencyError("query: mapping reader is required")
	}
	return q.reader.MappingStatus(ctx, msg.OwnerID)
}

type ExpenseAccountsQuery struct {
	reader ExpenseAccountsReader
}

func NewExpenseAccountsQuery(reader ExpenseAccountsReader) *ExpenseAccountsQuery {
	return &ExpenseAccountsQuery{reader: reader}
}

func (q *ExpenseAccountsQuery) Query(ctx context.Context, msg ExpenseAccountsMessage) ([]core.Account, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: expense accounts reader is required")
	}
	return q.reader.ExpenseAccounts(ctx, msg.OwnerID)
}

type SyncStatusQuery struct {
	reader SyncStatusReader
}

func NewSyncStatusQuery(reader SyncStatusReader) *SyncStatusQuery {
	return &SyncStatusQuery{reader: reader}
}

func (q *SyncStatusQuery) Query(ctx context.Context, msg SyncStatusMessage) (core.SyncStatusReport, error) {
	if q == nil || q.reader == nil {
		return core.SyncStatusReport{}, queryDependencyError("query: sync status reader is required")
	}
	entityType, err := core.ParseEntityType(msg.EntityType)
	if err != nil {
		return core.SyncStatusReport{}, queryValidationError("entity_type", "entity type must be expense or invoice")
	}
	return q.reader.SyncStatus(ctx, msg.OwnerID, entityType)
}

type SyncHistoryQuery struct {
	reader SyncHistoryReader
}

func NewSyncHistoryQuery(reader SyncHistoryReader) *SyncHistoryQuery {
	return &SyncHistoryQuery{reader: reader}
}

func (q *SyncHistoryQuery) Query(ctx context.Context, msg SyncHistoryMessage) ([]core.SyncHistory, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: sync history reader is required")
	}
	return q.reader.SyncHistoryList(ctx, msg.OwnerID, msg.Limit)
}
