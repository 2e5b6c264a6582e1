package query

import (
	"strings"

	"github.com/goliatone/go-booksync/core"
)

const (
	TypeConnectionStatus = "booksync.query.connection.status"
	TypeVerifyConnection = "booksync.query.connection.verify"
	TypeMappingStatus    = "booksync.query.mappings.status"
	TypeExpenseAccounts  = "booksync.query.accounts.expense"
	TypeSyncHistory      = "booksync.query.sync.history"
	TypeSyncStatus       = "booksync.query.sync.status"
)

type ConnectionStatusMessage struct {
	OwnerID string
}

func (ConnectionStatusMessage) Type() string { return TypeConnectionStatus }

func (m ConnectionStatusMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return queryValidationError("owner_id", "owner id is required")
	}
	return nil
}

type VerifyConnectionMessage struct {
	OwnerID string
}

func (VerifyConnectionMessage) Type() string { return TypeVerifyConnection }

func (m VerifyConnectionMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return queryValidationError("owner_id", "owner id is required")
	}
	return nil
}

type MappingStatusMessage struct {
	OwnerID string
}

func (MappingStatusMessage) Type() string { return TypeMappingStatus }

func (m MappingStatusMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return queryValidationError("owner_id", "owner id is required")
	}
	return nil
}

type ExpenseAccountsMessage struct {
	OwnerID string
}

func (ExpenseAccountsMessage) Type() string { return TypeExpenseAccounts }

func (m ExpenseAccountsMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return queryValidationError("owner_id", "owner id is required")
	}
	return nil
}

type SyncStatusMessage struct {
	OwnerID    string
	EntityType string
}

func (SyncStatusMessage) Type() string { return TypeSyncStatus }

func (m SyncStatusMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return queryValidationError("owner_id", "owner id is required")
	}
	if _, err := core.ParseEntityType(m.EntityType); err != nil {
		return queryValidationError("entity_type", "entity type must be expense or invoice")
	}
	return nil
}

type SyncHistoryMessage struct {
	OwnerID string
	Limit   int
}

func (SyncHistoryMessage) Type() string { return TypeSyncHistory }

func (m SyncHistoryMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return queryValidationError("owner_id", "owner id is required")
	}
	if m.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	return nil
}
