package core

import (
	"strings"
	"time"
)

// TokenState captures access/refresh lifecycle state derived from a
// connection's stored tokens.
type TokenState struct {
	ExpiresAt       *time.Time
	HasAccessToken  bool
	HasRefreshToken bool
	IsExpired       bool
	IsExpiringSoon  bool
}

// ResolveTokenState evaluates expiry flags against the refresh-ahead lead
// window.
func ResolveTokenState(now time.Time, connection Connection, leadWindow time.Duration) TokenState {
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	if leadWindow <= 0 {
		leadWindow = defaultRefreshLeadWindow
	}

	state := TokenState{
		HasAccessToken:  strings.TrimSpace(connection.AccessToken) != "",
		HasRefreshToken: strings.TrimSpace(connection.RefreshToken) != "",
	}
	if connection.TokenExpiresAt == nil {
		return state
	}
	expiresAt := connection.TokenExpiresAt.UTC()
	state.ExpiresAt = &expiresAt
	if !expiresAt.After(now) {
		state.IsExpired = true
		return state
	}
	state.IsExpiringSoon = !expiresAt.After(now.Add(leadWindow))
	return state
}

// ShouldRefreshTokens returns true when a proactive refresh must happen
// before issuing a provider call.
func ShouldRefreshTokens(now time.Time, state TokenState) bool {
	if !state.HasRefreshToken {
		return false
	}
	if !state.HasAccessToken {
		return true
	}
	return state.IsExpired || state.IsExpiringSoon
}
