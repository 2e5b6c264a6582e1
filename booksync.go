package booksync

import "github.com/goliatone/go-booksync/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type Connection = core.Connection
type CategoryMapping = core.CategoryMapping
type SyncRecord = core.SyncRecord
type SyncHistory = core.SyncHistory
type Expense = core.Expense
type Invoice = core.Invoice

type ConnectionStore = core.ConnectionStore
type CategoryMappingStore = core.CategoryMappingStore
type SyncRecordStore = core.SyncRecordStore
type SyncHistoryStore = core.SyncHistoryStore
type ExpenseSource = core.ExpenseSource
type InvoiceSource = core.InvoiceSource
type ProviderClient = core.ProviderClient
type ConnectionLocker = core.ConnectionLocker

type ConnectRequest = core.ConnectRequest
type CompleteCallbackRequest = core.CompleteCallbackRequest
type BeginAuthResponse = core.BeginAuthResponse
type ConnectionStatusReport = core.ConnectionStatusReport
type MappingStatusReport = core.MappingStatusReport
type AutoMapResult = core.AutoMapResult
type SyncOutcome = core.SyncOutcome
type EntityFilters = core.EntityFilters

var (
	WithLogger               = core.WithLogger
	WithLoggerProvider       = core.WithLoggerProvider
	WithMetricsRecorder      = core.WithMetricsRecorder
	WithErrorFactory         = core.WithErrorFactory
	WithErrorMapper          = core.WithErrorMapper
	WithPersistenceClient    = core.WithPersistenceClient
	WithRepositoryFactory    = core.WithRepositoryFactory
	WithConfigProvider       = core.WithConfigProvider
	WithOptionsResolver      = core.WithOptionsResolver
	WithConnectionLocker     = core.WithConnectionLocker
	WithProviderClient       = core.WithProviderClient
	WithConnectionStore      = core.WithConnectionStore
	WithCategoryMappingStore = core.WithCategoryMappingStore
	WithSyncRecordStore      = core.WithSyncRecordStore
	WithSyncHistoryStore     = core.WithSyncHistoryStore
	WithExpenseSource        = core.WithExpenseSource
	WithInvoiceSource        = core.WithInvoiceSource
	WithJobEnqueuer          = core.WithJobEnqueuer
	WithClock                = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
