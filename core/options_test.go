package core

import (
	"context"
	"testing"
	"time"
)

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

type fixedOptionsResolver struct {
	cfg Config
}

func (r *fixedOptionsResolver) Resolve(Config, Config, Config) (Config, error) {
	return r.cfg, nil
}

type staticStoreProvider struct {
	connections *memConnectionStore
	mappings    *memMappingStore
	records     *memSyncRecordStore
	history     *memHistoryStore
}

func (p staticStoreProvider) ConnectionStore() ConnectionStore { return p.connections }

func (p staticStoreProvider) CategoryMappingStore() CategoryMappingStore { return p.mappings }

func (p staticStoreProvider) SyncRecordStore() SyncRecordStore { return p.records }

func (p staticStoreProvider) SyncHistoryStore() SyncHistoryStore { return p.history }

func TestNewService_Defaults(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	cfg := svc.Config()
	if cfg.ServiceName != "booksync" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
	if cfg.Sync.RefreshLeadMinutes != 10 || cfg.Sync.HistoryPageSize != 50 {
		t.Fatalf("unexpected default sync config %+v", cfg.Sync)
	}
	if svc.stateCodec != nil {
		t.Fatalf("expected no state codec without a secret")
	}
	if svc.connectionLocker == nil {
		t.Fatalf("expected default in-memory locker")
	}
	if svc.errorMapper == nil || svc.metricsRecorder == nil {
		t.Fatalf("expected default error mapper and metrics recorder")
	}
}

func TestNewService_RuntimeLayerOverridesConfigLayer(t *testing.T) {
	provider := NewCfgxConfigProvider(staticRawConfigLoader{Values: map[string]any{
		"service_name": "from-config",
		"sync": map[string]any{
			"pacing_delay_millis": 250,
		},
	}})

	svc, err := NewService(Config{ServiceName: "from-runtime"}, WithConfigProvider(provider))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	cfg := svc.Config()
	if cfg.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime layer to win, got %q", cfg.ServiceName)
	}
	if cfg.Sync.PacingDelayMillis != 250 {
		t.Fatalf("expected config layer pacing delay, got %d", cfg.Sync.PacingDelayMillis)
	}
	if cfg.Sync.RefreshLeadMinutes != 10 {
		t.Fatalf("expected default refresh lead retained, got %d", cfg.Sync.RefreshLeadMinutes)
	}
}

func TestNewService_BuildsStateCodecFromSecret(t *testing.T) {
	svc, err := NewService(Config{
		StateSecret: "oauth-state-secret",
		Sync:        SyncConfig{StateTTLMinutes: 5},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.stateCodec == nil {
		t.Fatalf("expected state codec built from secret")
	}
	if svc.stateCodec.TTL != 5*time.Minute {
		t.Fatalf("expected 5m ttl, got %s", svc.stateCodec.TTL)
	}
}

func TestNewService_OverridesApply(t *testing.T) {
	configProvider := &fixedConfigProvider{cfg: Config{ServiceName: "from-provider"}}
	optionsResolver := &fixedOptionsResolver{cfg: Config{ServiceName: "resolved"}}
	locker := NewMemoryConnectionLocker()
	client := &fakeProviderClient{}
	clock := func() time.Time { return testEpoch }

	svc, err := NewService(Config{ServiceName: "runtime"},
		WithConfigProvider(configProvider),
		WithOptionsResolver(optionsResolver),
		WithConnectionLocker(locker),
		WithProviderClient(client),
		WithClock(clock),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.Config().ServiceName != "resolved" {
		t.Fatalf("expected resolver output, got %q", svc.Config().ServiceName)
	}
	if svc.connectionLocker != ConnectionLocker(locker) {
		t.Fatalf("expected locker override")
	}
	if svc.client != ProviderClient(client) {
		t.Fatalf("expected provider client override")
	}
	if !svc.clock().Equal(testEpoch) {
		t.Fatalf("expected injected clock, got %s", svc.clock())
	}
}

func TestNewService_WiresStoresFromRepositoryFactory(t *testing.T) {
	provider := staticStoreProvider{
		connections: newMemConnectionStore(),
		mappings:    newMemMappingStore(),
		records:     newMemSyncRecordStore(),
		history:     newMemHistoryStore(),
	}

	svc, err := NewService(Config{}, WithRepositoryFactory(provider))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.connectionStore != ConnectionStore(provider.connections) {
		t.Fatalf("expected connection store wired from factory")
	}
	if svc.mappingStore != CategoryMappingStore(provider.mappings) {
		t.Fatalf("expected mapping store wired from factory")
	}
	if svc.syncRecordStore != SyncRecordStore(provider.records) {
		t.Fatalf("expected sync record store wired from factory")
	}
	if svc.syncHistoryStore != SyncHistoryStore(provider.history) {
		t.Fatalf("expected sync history store wired from factory")
	}
}

func TestNewService_ExplicitStoreBeatsFactory(t *testing.T) {
	explicit := newMemConnectionStore()
	provider := staticStoreProvider{
		connections: newMemConnectionStore(),
		mappings:    newMemMappingStore(),
		records:     newMemSyncRecordStore(),
		history:     newMemHistoryStore(),
	}

	svc, err := NewService(Config{},
		WithConnectionStore(explicit),
		WithRepositoryFactory(provider),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.connectionStore != ConnectionStore(explicit) {
		t.Fatalf("expected explicit store to win over factory")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	cfg.ServiceName = " "
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected blank service name rejection")
	}
	cfg = DefaultConfig()
	cfg.Sync.PacingDelayMillis = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected negative pacing delay rejection")
	}
}

func TestConfigDurations(t *testing.T) {
	cfg := Config{Sync: SyncConfig{RefreshLeadMinutes: 15, StateTTLMinutes: 20, PacingDelayMillis: 750}}
	if cfg.RefreshLeadWindow() != 15*time.Minute {
		t.Fatalf("unexpected refresh lead %s", cfg.RefreshLeadWindow())
	}
	if cfg.StateTTL() != 20*time.Minute {
		t.Fatalf("unexpected state ttl %s", cfg.StateTTL())
	}
	if cfg.PacingDelay() != 750*time.Millisecond {
		t.Fatalf("unexpected pacing delay %s", cfg.PacingDelay())
	}

	var zero Config
	if zero.RefreshLeadWindow() != defaultRefreshLeadWindow {
		t.Fatalf("expected default lead window fallback")
	}
	if zero.PacingDelay() != 0 {
		t.Fatalf("expected zero pacing delay when unset")
	}
}
