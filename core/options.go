package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	connectionLocker  ConnectionLocker
	stateStore        OAuthStateStore
	client            ProviderClient
	persistenceClient any
	repositoryFactory any
	connectionStore   ConnectionStore
	mappingStore      CategoryMappingStore
	syncRecordStore   SyncRecordStore
	syncHistoryStore  SyncHistoryStore
	expenseSource     ExpenseSource
	invoiceSource     InvoiceSource
	jobEnqueuer       JobEnqueuer
	now               func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithConnectionLocker(locker ConnectionLocker) Option {
	return func(b *serviceBuilder) {
		b.connectionLocker = locker
	}
}

// WithOAuthStateStore replaces the in-memory single-use state guard,
// typically with a shared store when running more than one instance.
func WithOAuthStateStore(store OAuthStateStore) Option {
	return func(b *serviceBuilder) {
		b.stateStore = store
	}
}

func WithProviderClient(client ProviderClient) Option {
	return func(b *serviceBuilder) {
		b.client = client
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConnectionStore(store ConnectionStore) Option {
	return func(b *serviceBuilder) {
		b.connectionStore = store
	}
}

func WithCategoryMappingStore(store CategoryMappingStore) Option {
	return func(b *serviceBuilder) {
		b.mappingStore = store
	}
}

func WithSyncRecordStore(store SyncRecordStore) Option {
	return func(b *serviceBuilder) {
		b.syncRecordStore = store
	}
}

func WithSyncHistoryStore(store SyncHistoryStore) Option {
	return func(b *serviceBuilder) {
		b.syncHistoryStore = store
	}
}

func WithExpenseSource(source ExpenseSource) Option {
	return func(b *serviceBuilder) {
		b.expenseSource = source
	}
}

func WithInvoiceSource(source InvoiceSource) Option {
	return func(b *serviceBuilder) {
		b.invoiceSource = source
	}
}

func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.jobEnqueuer = enqueuer
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("booksync", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || strings.TrimSpace(cfg.StateSecret) != "" {
		layer["state_secret"] = cfg.StateSecret
	}

	provider := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Provider.ClientID) != "" {
		provider["client_id"] = cfg.Provider.ClientID
	}
	if includeZero || strings.TrimSpace(cfg.Provider.ClientSecret) != "" {
		provider["client_secret"] = cfg.Provider.ClientSecret
	}
	if includeZero || strings.TrimSpace(cfg.Provider.AuthURL) != "" {
		provider["auth_url"] = cfg.Provider.AuthURL
	}
	if includeZero || strings.TrimSpace(cfg.Provider.TokenURL) != "" {
		provider["token_url"] = cfg.Provider.TokenURL
	}
	if includeZero || strings.TrimSpace(cfg.Provider.RevokeURL) != "" {
		provider["revoke_url"] = cfg.Provider.RevokeURL
	}
	if includeZero || strings.TrimSpace(cfg.Provider.APIBaseURL) != "" {
		provider["api_base_url"] = cfg.Provider.APIBaseURL
	}
	if includeZero || len(cfg.Provider.Scopes) > 0 {
		provider["scopes"] = append([]string(nil), cfg.Provider.Scopes...)
	}
	if len(provider) > 0 {
		layer["provider"] = provider
	}

	sync := map[string]any{}
	if includeZero || cfg.Sync.RefreshLeadMinutes > 0 {
		sync["refresh_lead_minutes"] = cfg.Sync.RefreshLeadMinutes
	}
	if includeZero || cfg.Sync.StateTTLMinutes > 0 {
		sync["state_ttl_minutes"] = cfg.Sync.StateTTLMinutes
	}
	if includeZero || cfg.Sync.PacingDelayMillis > 0 {
		sync["pacing_delay_millis"] = cfg.Sync.PacingDelayMillis
	}
	if includeZero || cfg.Sync.HistoryPageSize > 0 {
		sync["history_page_size"] = cfg.Sync.HistoryPageSize
	}
	if len(sync) > 0 {
		layer["sync"] = sync
	}

	return layer
}
