package core

import (
	"fmt"
	"strings"
	"time"
)

type ProviderConfig struct {
	ClientID     string   `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret string   `koanf:"client_secret" mapstructure:"client_secret"`
	AuthURL      string   `koanf:"auth_url" mapstructure:"auth_url"`
	TokenURL     string   `koanf:"token_url" mapstructure:"token_url"`
	RevokeURL    string   `koanf:"revoke_url" mapstructure:"revoke_url"`
	APIBaseURL   string   `koanf:"api_base_url" mapstructure:"api_base_url"`
	Scopes       []string `koanf:"scopes" mapstructure:"scopes"`
}

type SyncConfig struct {
	RefreshLeadMinutes int `koanf:"refresh_lead_minutes" mapstructure:"refresh_lead_minutes"`
	StateTTLMinutes    int `koanf:"state_ttl_minutes" mapstructure:"state_ttl_minutes"`
	PacingDelayMillis  int `koanf:"pacing_delay_millis" mapstructure:"pacing_delay_millis"`
	HistoryPageSize    int `koanf:"history_page_size" mapstructure:"history_page_size"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	StateSecret string         `koanf:"state_secret" mapstructure:"state_secret"`
	Provider    ProviderConfig `koanf:"provider" mapstructure:"provider"`
	Sync        SyncConfig     `koanf:"sync" mapstructure:"sync"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "booksync",
		Sync: SyncConfig{
			RefreshLeadMinutes: 10,
			StateTTLMinutes:    10,
			PacingDelayMillis:  500,
			HistoryPageSize:    50,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Sync.RefreshLeadMinutes < 0 {
		return fmt.Errorf("core: sync.refresh_lead_minutes must not be negative")
	}
	if c.Sync.StateTTLMinutes < 0 {
		return fmt.Errorf("core: sync.state_ttl_minutes must not be negative")
	}
	if c.Sync.PacingDelayMillis < 0 {
		return fmt.Errorf("core: sync.pacing_delay_millis must not be negative")
	}
	return nil
}

func (c Config) RefreshLeadWindow() time.Duration {
	if c.Sync.RefreshLeadMinutes <= 0 {
		return defaultRefreshLeadWindow
	}
	return time.Duration(c.Sync.RefreshLeadMinutes) * time.Minute
}

func (c Config) StateTTL() time.Duration {
	if c.Sync.StateTTLMinutes <= 0 {
		return defaultStateTTL
	}
	return time.Duration(c.Sync.StateTTLMinutes) * time.Minute
}

func (c Config) PacingDelay() time.Duration {
	if c.Sync.PacingDelayMillis <= 0 {
		return 0
	}
	return time.Duration(c.Sync.PacingDelayMillis) * time.Millisecond
}
