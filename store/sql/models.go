package sqlstore

import (
	"time"

	"github.com/goliatone/go-booksync/core"
	"github.com/uptrace/bun"
)

type connectionRecord struct {
	bun.BaseModel `bun:"table:booksync_connections,alias:bc"`

	ID          string `bun:"id,pk"`
	OwnerID     string `bun:"owner_id,notnull,unique"`
	RealmID     string `bun:"realm_id,notnull"`
	CompanyName string `bun:"company_name"`
	Status      string `bun:"status,notnull"`
	LastError   string `bun:"last_error"`

	AccessToken    string     `bun:"access_token"`
	RefreshToken   string     `bun:"refresh_token"`
	TokenExpiresAt *time.Time `bun:"token_expires_at,nullzero"`

	BankAccountID         string `bun:"bank_account_id"`
	BankAccountName       string `bun:"bank_account_name"`
	CreditCardAccountID   string `bun:"credit_card_account_id"`
	CreditCardAccountName string `bun:"credit_card_account_name"`

	LastSyncedAt     *time.Time `bun:"last_synced_at,nullzero"`
	AutoSyncExpenses bool       `bun:"auto_sync_expenses,notnull,default:false"`
	AutoSyncInvoices bool       `bun:"auto_sync_invoices,notnull,default:false"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newConnectionRecord(connection core.Connection, now time.Time) *connectionRecord {
	record := &connectionRecord{
		ID:                    connection.ID,
		OwnerID:               connection.OwnerID,
		RealmID:               connection.RealmID,
		CompanyName:           connection.CompanyName,
		Status:                string(connection.Status),
		LastError:             connection.LastError,
		AccessToken:           connection.AccessToken,
		RefreshToken:          connection.RefreshToken,
		BankAccountID:         connection.BankAccountID,
		BankAccountName:       connection.BankAccountName,
		CreditCardAccountID:   connection.CreditCardAccountID,
		CreditCardAccountName: connection.CreditCardAccountName,
		AutoSyncExpenses:      connection.AutoSyncExpenses,
		AutoSyncInvoices:      connection.AutoSyncInvoices,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	record.TokenExpiresAt = cloneTime(connection.TokenExpiresAt)
	record.LastSyncedAt = cloneTime(connection.LastSyncedAt)
	return record
}

func (r *connectionRecord) applyDomain(connection core.Connection, now time.Time) {
	r.RealmID = connection.RealmID
	r.CompanyName = connection.CompanyName
	r.Status = string(connection.Status)
	r.LastError = connection.LastError
	r.AccessToken = connection.AccessToken
	r.RefreshToken = connection.RefreshToken
	r.TokenExpiresAt = cloneTime(connection.TokenExpiresAt)
	r.BankAccountID = connection.BankAccountID
	r.BankAccountName = connection.BankAccountName
	r.CreditCardAccountID = connection.CreditCardAccountID
	r.CreditCardAccountName = connection.CreditCardAccountName
	r.LastSyncedAt = cloneTime(connection.LastSyncedAt)
	r.AutoSyncExpenses = connection.AutoSyncExpenses
	r.AutoSyncInvoices = connection.AutoSyncInvoices
	r.UpdatedAt = now
}

func (r *connectionRecord) toDomain() core.Connection {
	if r == nil {
		return core.Connection{}
	}
	return core.Connection{
		ID:                    r.ID,
		OwnerID:               r.OwnerID,
		RealmID:               r.RealmID,
		CompanyName:           r.CompanyName,
		Status:                core.ConnectionStatus(r.Status),
		LastError:             r.LastError,
		AccessToken:           r.AccessToken,
		RefreshToken:          r.RefreshToken,
		TokenExpiresAt:        cloneTime(r.TokenExpiresAt),
		BankAccountID:         r.BankAccountID,
		BankAccountName:       r.BankAccountName,
		CreditCardAccountID:   r.CreditCardAccountID,
		CreditCardAccountName: r.CreditCardAccountName,
		LastSyncedAt:          cloneTime(r.LastSyncedAt),
		AutoSyncExpenses:      r.AutoSyncExpenses,
		AutoSyncInvoices:      r.AutoSyncInvoices,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

type categoryMappingRecord struct {
	bun.BaseModel `bun:"table:booksync_category_mappings,alias:bcm"`

	ID           string    `bun:"id,pk"`
	ConnectionID string    `bun:"connection_id,notnull"`
	Category     string    `bun:"category,notnull"`
	AccountID    string    `bun:"account_id,notnull"`
	AccountName  string    `bun:"account_name"`
	AccountType  string    `bun:"account_type"`
	Source       string    `bun:"source,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newCategoryMappingRecord(mapping core.CategoryMapping, now time.Time) *categoryMappingRecord {
	return &categoryMappingRecord{
		ID:           mapping.ID,
		ConnectionID: mapping.ConnectionID,
		Category:     string(mapping.Category),
		AccountID:    mapping.AccountID,
		AccountName:  mapping.AccountName,
		AccountType:  mapping.AccountType,
		Source:       string(mapping.Source),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (r *categoryMappingRecord) toDomain() core.CategoryMapping {
	if r == nil {
		return core.CategoryMapping{}
	}
	return core.CategoryMapping{
		ID:           r.ID,
		ConnectionID: r.ConnectionID,
		Category:     core.ExpenseCategory(r.Category),
		AccountID:    r.AccountID,
		AccountName:  r.AccountName,
		AccountType:  r.AccountType,
		Source:       core.MappingSource(r.Source),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type syncRecordRecord struct {
	bun.BaseModel `bun:"table:booksync_sync_records,alias:bsr"`

	ID                 string    `bun:"id,pk"`
	ConnectionID       string    `bun:"connection_id,notnull"`
	EntityType         string    `bun:"entity_type,notnull"`
	EntityID           string    `bun:"entity_id,notnull"`
	ExternalEntityID   string    `bun:"external_entity_id"`
	ExternalEntityType string    `bun:"external_entity_type"`
	Status             string    `bun:"status,notnull"`
	Error              string    `bun:"error"`
	LastAttemptAt      time.Time `bun:"last_attempt_at,nullzero"`
	CreatedAt          time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newSyncRecordRecord(record core.SyncRecord, now time.Time) *syncRecordRecord {
	return &syncRecordRecord{
		ID:                 record.ID,
		ConnectionID:       record.ConnectionID,
		EntityType:         string(record.EntityType),
		EntityID:           record.EntityID,
		ExternalEntityID:   record.ExternalEntityID,
		ExternalEntityType: record.ExternalEntityType,
		Status:             string(record.Status),
		Error:              record.Error,
		LastAttemptAt:      record.LastAttemptAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func (r *syncRecordRecord) toDomain() core.SyncRecord {
	if r == nil {
		return core.SyncRecord{}
	}
	return core.SyncRecord{
		ID:                 r.ID,
		ConnectionID:       r.ConnectionID,
		EntityType:         core.EntityType(r.EntityType),
		EntityID:           r.EntityID,
		ExternalEntityID:   r.ExternalEntityID,
		ExternalEntityType: r.ExternalEntityType,
		Status:             core.SyncRecordStatus(r.Status),
		Error:              r.Error,
		LastAttemptAt:      r.LastAttemptAt,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

type syncHistoryRecord struct {
	bun.BaseModel `bun:"table:booksync_sync_history,alias:bsh"`

	ID           string             `bun:"id,pk"`
	ConnectionID string             `bun:"connection_id,notnull"`
	RunType      string             `bun:"run_type,notnull"`
	EntityTypes  []string           `bun:"entity_types,type:jsonb,notnull"`
	Status       string             `bun:"status,notnull"`
	SyncedCount  int                `bun:"synced_count,notnull,default:0"`
	FailedCount  int                `bun:"failed_count,notnull,default:0"`
	Failures     []core.SyncFailure `bun:"failures,type:jsonb"`
	StartedAt    time.Time          `bun:"started_at,nullzero,notnull"`
	FinishedAt   *time.Time         `bun:"finished_at,nullzero"`
}

func newSyncHistoryRecord(history core.SyncHistory) *syncHistoryRecord {
	record := &syncHistoryRecord{
		ID:           history.ID,
		ConnectionID: history.ConnectionID,
		RunType:      string(history.RunType),
		Status:       string(history.Status),
		SyncedCount:  history.SyncedCount,
		FailedCount:  history.FailedCount,
		Failures:     append([]core.SyncFailure(nil), history.Failures...),
		StartedAt:    history.StartedAt,
		FinishedAt:   cloneTime(history.FinishedAt),
	}
	for _, entityType := range history.EntityTypes {
		record.EntityTypes = append(record.EntityTypes, string(entityType))
	}
	return record
}

func (r *syncHistoryRecord) toDomain() core.SyncHistory {
	if r == nil {
		return core.SyncHistory{}
	}
	history := core.SyncHistory{
		ID:           r.ID,
		ConnectionID: r.ConnectionID,
		RunType:      core.SyncRunType(r.RunType),
		Status:       core.SyncRunStatus(r.Status),
		SyncedCount:  r.SyncedCount,
		FailedCount:  r.FailedCount,
		Failures:     append([]core.SyncFailure(nil), r.Failures...),
		StartedAt:    r.StartedAt,
		FinishedAt:   cloneTime(r.FinishedAt),
	}
	for _, entityType := range r.EntityTypes {
		history.EntityTypes = append(history.EntityTypes, core.EntityType(entityType))
	}
	return history
}

func cloneTime(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
