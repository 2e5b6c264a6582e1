package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/singleflight"
)

// StoreProvider exposes the persisted stores backing the engine.
type StoreProvider interface {
	ConnectionStore() ConnectionStore
	CategoryMappingStore() CategoryMappingStore
	SyncRecordStore() SyncRecordStore
	SyncHistoryStore() SyncHistoryStore
}

// RepositoryStoreFactory builds stores from a persistence client, matching
// the go-persistence-bun wiring used by the sqlstore factory.
type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	stateCodec        *StateCodec
	stateStore        OAuthStateStore
	connectionLocker  ConnectionLocker
	client            ProviderClient
	connectionStore   ConnectionStore
	mappingStore      CategoryMappingStore
	syncRecordStore   SyncRecordStore
	syncHistoryStore  SyncHistoryStore
	expenseSource     ExpenseSource
	invoiceSource     InvoiceSource
	jobEnqueuer       JobEnqueuer
	refreshGroup      singleflight.Group
	now               func() time.Time
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("booksync", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("booksync"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.connectionLocker == nil {
		builder.connectionLocker = NewMemoryConnectionLocker()
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}
	if builder.stateStore == nil {
		memoryStateStore := NewMemoryOAuthStateStore()
		memoryStateStore.Now = builder.now
		builder.stateStore = memoryStateStore
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	var stateCodec *StateCodec
	if strings.TrimSpace(finalConfig.StateSecret) != "" {
		stateCodec, err = NewStateCodec(finalConfig.StateSecret, finalConfig.StateTTL())
		if err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
		stateCodec.Now = builder.now
	}

	if needsStoreWiring(builder) && builder.repositoryFactory != nil {
		switch factory := builder.repositoryFactory.(type) {
		case RepositoryStoreFactory:
			storeProvider, buildErr := factory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			fillStoresFromProvider(&builder, storeProvider)
		case StoreProvider:
			fillStoresFromProvider(&builder, factory)
		}
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		stateCodec:        stateCodec,
		stateStore:        builder.stateStore,
		connectionLocker:  builder.connectionLocker,
		client:            builder.client,
		connectionStore:   builder.connectionStore,
		mappingStore:      builder.mappingStore,
		syncRecordStore:   builder.syncRecordStore,
		syncHistoryStore:  builder.syncHistoryStore,
		expenseSource:     builder.expenseSource,
		invoiceSource:     builder.invoiceSource,
		jobEnqueuer:       builder.jobEnqueuer,
		now:               builder.now,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func needsStoreWiring(builder serviceBuilder) bool {
	return builder.connectionStore == nil ||
		builder.mappingStore == nil ||
		builder.syncRecordStore == nil ||
		builder.syncHistoryStore == nil
}

func fillStoresFromProvider(builder *serviceBuilder, provider StoreProvider) {
	if builder == nil || provider == nil {
		return
	}
	if builder.connectionStore == nil {
		builder.connectionStore = provider.ConnectionStore()
	}
	if builder.mappingStore == nil {
		builder.mappingStore = provider.CategoryMappingStore()
	}
	if builder.syncRecordStore == nil {
		builder.syncRecordStore = provider.SyncRecordStore()
	}
	if builder.syncHistoryStore == nil {
		builder.syncHistoryStore = provider.SyncHistoryStore()
	}
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) clock() time.Time {
	if s != nil && s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

type ConnectRequest struct {
	OwnerID     string
	RedirectURI string
	Reconnect   bool
}

type BeginAuthResponse struct {
	URL   string
	State string
}

// Connect builds the provider authorize URL carrying a signed state blob
// for the owner.
func (s *Service) Connect(ctx context.Context, req ConnectRequest) (response BeginAuthResponse, err error) {
	startedAt := s.clock()
	fields := map[string]any{
		"owner_id": req.OwnerID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "connect", err, fields)
	}()

	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		err = s.mapError(fmt.Errorf("core: owner id is required"))
		return BeginAuthResponse{}, err
	}
	if s.client == nil {
		err = s.mapError(fmt.Errorf("core: provider client is not configured"))
		return BeginAuthResponse{}, err
	}
	if s.stateCodec == nil {
		err = s.mapError(fmt.Errorf("core: state secret is not configured"))
		return BeginAuthResponse{}, err
	}

	state, err := s.stateCodec.Encode(StatePayload{
		OwnerID:   ownerID,
		Reconnect: req.Reconnect,
		IssuedAt:  s.clock(),
	})
	if err != nil {
		err = s.mapError(err)
		return BeginAuthResponse{}, err
	}

	response = BeginAuthResponse{
		URL:   s.client.AuthorizeURL(strings.TrimSpace(req.RedirectURI), state),
		State: state,
	}
	return response, nil
}

type CompleteCallbackRequest struct {
	Code        string
	State       string
	RealmID     string
	RedirectURI string
}

// CompleteCallback verifies the signed state, exchanges the code and
// upserts the owner's single connection row. Reconnecting a disconnected
// or deleted owner reuses the same path.
func (s *Service) CompleteCallback(ctx context.Context, req CompleteCallbackRequest) (connection Connection, err error) {
	startedAt := s.clock()
	fields := map[string]any{
		"realm_id": req.RealmID,
	}
	defer func() {
		if connection.ID != "" {
			fields["connection_id"] = connection.ID
			fields["owner_id"] = connection.OwnerID
		}
		s.observeOperation(ctx, startedAt, "complete_callback", err, fields)
	}()

	if s.client == nil || s.connectionStore == nil {
		err = s.mapError(fmt.Errorf("core: provider client and connection store are required"))
		return Connection{}, err
	}
	if s.stateCodec == nil {
		err = s.mapError(fmt.Errorf("core: state secret is not configured"))
		return Connection{}, err
	}
	if strings.TrimSpace(req.Code) == "" {
		err = s.mapError(fmt.Errorf("core: authorization code is required"))
		return Connection{}, err
	}
	if strings.TrimSpace(req.RealmID) == "" {
		err = s.mapError(fmt.Errorf("core: realm id is required"))
		return Connection{}, err
	}

	payload, err := s.stateCodec.Decode(req.State)
	if err != nil {
		err = s.mapError(err)
		return Connection{}, err
	}
	if s.stateStore != nil {
		if consumeErr := s.stateStore.Consume(ctx, payload.Nonce, payload.IssuedAt.Add(s.stateCodec.TTL)); consumeErr != nil {
			err = s.mapError(consumeErr)
			return Connection{}, err
		}
	}

	pair, err := s.client.ExchangeCode(ctx, strings.TrimSpace(req.Code), strings.TrimSpace(req.RedirectURI))
	if err != nil {
		err = s.mapError(err)
		return Connection{}, err
	}

	// Display name lookup is cosmetic; a failure here never fails the
	// connect flow.
	companyName := ""
	info, infoErr := s.client.GetCompanyInfo(ctx, ProviderAuth{
		RealmID:     strings.TrimSpace(req.RealmID),
		AccessToken: pair.AccessToken,
	})
	if infoErr != nil {
		s.logError(ctx, "company info lookup failed after token exchange", map[string]any{
			"owner_id": payload.OwnerID,
			"realm_id": req.RealmID,
			"error":    infoErr.Error(),
		})
	} else {
		companyName = info.Name
	}

	now := s.clock()
	connection = Connection{
		OwnerID:        payload.OwnerID,
		RealmID:        strings.TrimSpace(req.RealmID),
		CompanyName:    companyName,
		Status:         ConnectionStatusActive,
		AccessToken:    pair.AccessToken,
		RefreshToken:   pair.RefreshToken,
		TokenExpiresAt: pair.ExpiresAt,
		UpdatedAt:      now,
	}

	connection, err = s.connectionStore.Upsert(ctx, connection)
	if err != nil {
		err = s.mapError(err)
		return Connection{}, err
	}
	return connection, nil
}

// Disconnect revokes at the provider best-effort, clears tokens and marks
// the connection disconnected. The row survives for reconnect.
func (s *Service) Disconnect(ctx context.Context, ownerID string) (err error) {
	startedAt := s.clock()
	fields := map[string]any{
		"owner_id": ownerID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "disconnect", err, fields)
	}()

	connection, err := s.requireConnection(ctx, ownerID)
	if err != nil {
		return err
	}
	fields["connection_id"] = connection.ID

	if s.client != nil && strings.TrimSpace(connection.RefreshToken) != "" {
		if revokeErr := s.client.RevokeToken(ctx, connection.RefreshToken); revokeErr != nil {
			s.logError(ctx, "provider token revocation failed during disconnect", map[string]any{
				"connection_id": connection.ID,
				"error":         revokeErr.Error(),
			})
		}
	}

	now := s.clock()
	connection.AccessToken = ""
	connection.RefreshToken = ""
	connection.TokenExpiresAt = nil
	if transitionErr := connection.TransitionTo(ConnectionStatusDisconnected, "", now); transitionErr != nil {
		err = s.mapError(transitionErr)
		return err
	}
	if _, updateErr := s.connectionStore.Update(ctx, connection); updateErr != nil {
		err = s.mapError(updateErr)
		return err
	}
	return nil
}

// DeleteConnection disconnects then hard-deletes the row; mappings and
// sync records cascade with it.
func (s *Service) DeleteConnection(ctx context.Context, ownerID string) (err error) {
	startedAt := s.clock()
	fields := map[string]any{
		"owner_id": ownerID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "delete_connection", err, fields)
	}()

	connection, err := s.requireConnection(ctx, ownerID)
	if err != nil {
		return err
	}
	fields["connection_id"] = connection.ID

	if disconnectErr := s.Disconnect(ctx, ownerID); disconnectErr != nil {
		err = disconnectErr
		return err
	}
	if deleteErr := s.connectionStore.Delete(ctx, connection.ID); deleteErr != nil {
		err = s.mapError(deleteErr)
		return err
	}
	return nil
}

// ConnectionStatusReport combines stored status with the live token state.
type ConnectionStatusReport struct {
	Connected    bool
	Status       ConnectionStatus
	CompanyName  string
	RealmID      string
	LastError    string
	LastSyncedAt *time.Time
	TokenState   TokenState
}

// ConnectionStatus reports the stored status, refreshing expired tokens
// opportunistically.
func (s *Service) ConnectionStatus(ctx context.Context, ownerID string) (ConnectionStatusReport, error) {
	return s.connectionReport(ctx, ownerID, false)
}

// VerifyConnection additionally performs one cheap read-only provider call
// to catch tokens revoked out-of-band.
func (s *Service) VerifyConnection(ctx context.Context, ownerID string) (ConnectionStatusReport, error) {
	return s.connectionReport(ctx, ownerID, true)
}

func (s *Service) connectionReport(ctx context.Context, ownerID string, verify bool) (report ConnectionStatusReport, err error) {
	startedAt := s.clock()
	operation := "connection_status"
	if verify {
		operation = "verify_connection"
	}
	fields := map[string]any{
		"owner_id": ownerID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, operation, err, fields)
	}()

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		err = s.mapError(fmt.Errorf("core: owner id is required"))
		return ConnectionStatusReport{}, err
	}
	if s.connectionStore == nil {
		err = s.mapError(fmt.Errorf("core: connection store is not configured"))
		return ConnectionStatusReport{}, err
	}

	connection, findErr := s.connectionStore.GetByOwner(ctx, ownerID)
	if findErr != nil {
		if isNotFound(findErr) {
			return ConnectionStatusReport{Status: ConnectionStatusNotConnected}, nil
		}
		err = s.mapError(findErr)
		return ConnectionStatusReport{}, err
	}
	fields["connection_id"] = connection.ID

	if connection.Status == ConnectionStatusActive || connection.Status == ConnectionStatusErrored {
		state := ResolveTokenState(s.clock(), connection, s.config.RefreshLeadWindow())
		if ShouldRefreshTokens(s.clock(), state) {
			refreshed, refreshErr := s.RefreshTokens(ctx, connection.ID)
			if refreshErr == nil {
				connection = refreshed
			} else {
				// Refresh failures already transitioned the row; reload
				// so the report reflects the stored outcome.
				if reloaded, reloadErr := s.connectionStore.Get(ctx, connection.ID); reloadErr == nil {
					connection = reloaded
				}
			}
		}
	}

	if verify && connection.Status == ConnectionStatusActive && s.client != nil {
		probeErr := s.callWithAuthRetry(ctx, connection, func(auth ProviderAuth) error {
			_, callErr := s.client.GetCompanyInfo(ctx, auth)
			return callErr
		})
		if probeErr != nil {
			status := ConnectionStatusErrored
			if IsAuthError(probeErr) {
				status = ConnectionStatusTokenExpired
			}
			_ = s.connectionStore.UpdateStatus(ctx, connection.ID, status, probeErr.Error())
			connection.Status = status
			connection.LastError = probeErr.Error()
		}
	}

	report = ConnectionStatusReport{
		Connected:    connection.Status == ConnectionStatusActive,
		Status:       connection.Status,
		CompanyName:  connection.CompanyName,
		RealmID:      connection.RealmID,
		LastError:    connection.LastError,
		LastSyncedAt: connection.LastSyncedAt,
		TokenState:   ResolveTokenState(s.clock(), connection, s.config.RefreshLeadWindow()),
	}
	return report, nil
}

func (s *Service) requireConnection(ctx context.Context, ownerID string) (Connection, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Connection{}, s.mapError(fmt.Errorf("core: owner id is required"))
	}
	if s.connectionStore == nil {
		return Connection{}, s.mapError(fmt.Errorf("core: connection store is not configured"))
	}
	connection, err := s.connectionStore.GetByOwner(ctx, ownerID)
	if err != nil {
		return Connection{}, s.mapError(err)
	}
	return connection, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no rows")
}
