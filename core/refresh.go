package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultRefreshLockTTL = 30 * time.Second

// RefreshTokens exchanges the connection's refresh token for a new pair and
// persists it. Concurrent callers for the same connection coalesce onto a
// single in-flight exchange: refresh tokens rotate on use, so two parallel
// exchanges would invalidate each other.
func (s *Service) RefreshTokens(ctx context.Context, connectionID string) (Connection, error) {
	return s.refreshTokens(ctx, connectionID, false)
}

// refreshTokens with force set skips the freshness short-circuit, for the
// retry path where the provider rejected a token that still looked valid.
func (s *Service) refreshTokens(ctx context.Context, connectionID string, force bool) (Connection, error) {
	if s == nil {
		return Connection{}, fmt.Errorf("core: service is nil")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return Connection{}, s.mapError(fmt.Errorf("core: connection id is required"))
	}

	value, err, _ := s.refreshGroup.Do(connectionID, func() (any, error) {
		return s.refreshLocked(ctx, connectionID, force)
	})
	if err != nil {
		return Connection{}, err
	}
	connection, ok := value.(Connection)
	if !ok {
		return Connection{}, s.mapError(fmt.Errorf("core: unexpected refresh result type"))
	}
	return connection, nil
}

func (s *Service) refreshLocked(ctx context.Context, connectionID string, force bool) (Connection, error) {
	unlock := func() {}
	if s.connectionLocker != nil {
		handle, lockErr := s.connectionLocker.Acquire(ctx, connectionID, defaultRefreshLockTTL)
		if lockErr != nil {
			return Connection{}, s.mapError(lockErr)
		}
		unlock = func() {
			_ = handle.Unlock(ctx)
		}
	}
	defer unlock()

	connection, err := s.connectionStore.Get(ctx, connectionID)
	if err != nil {
		return Connection{}, s.mapError(err)
	}

	// A caller that queued behind an in-flight refresh sees the already
	// renewed tokens here and skips the exchange.
	now := s.clock()
	state := ResolveTokenState(now, connection, s.config.RefreshLeadWindow())
	if !force && state.HasAccessToken && !state.IsExpired && !state.IsExpiringSoon {
		return connection, nil
	}
	if !state.HasRefreshToken {
		failure := fmt.Errorf("core: reauthorization required: connection has no refresh token")
		_ = s.connectionStore.UpdateStatus(ctx, connectionID, ConnectionStatusTokenExpired, failure.Error())
		return Connection{}, s.mapError(failure)
	}

	pair, err := s.client.RefreshTokens(ctx, connection.RefreshToken)
	if err != nil {
		if isUnrecoverableRefreshError(err) {
			reason := fmt.Sprintf("refresh token rejected: %s", err.Error())
			_ = s.connectionStore.UpdateStatus(ctx, connectionID, ConnectionStatusTokenExpired, reason)
			s.logError(ctx, "token refresh rejected, connection requires re-authorization", map[string]any{
				"connection_id": connectionID,
				"error":         err.Error(),
			})
		}
		return Connection{}, s.mapError(err)
	}

	connection.AccessToken = pair.AccessToken
	if strings.TrimSpace(pair.RefreshToken) != "" {
		connection.RefreshToken = pair.RefreshToken
	}
	connection.TokenExpiresAt = pair.ExpiresAt
	if transitionErr := connection.TransitionTo(ConnectionStatusActive, "", now); transitionErr != nil {
		return Connection{}, s.mapError(transitionErr)
	}

	updated, err := s.connectionStore.Update(ctx, connection)
	if err != nil {
		return Connection{}, s.mapError(err)
	}
	return updated, nil
}

// ensureFreshTokens applies the refresh-ahead contract: any provider-issuing
// call goes through here first.
func (s *Service) ensureFreshTokens(ctx context.Context, connection Connection) (Connection, error) {
	state := ResolveTokenState(s.clock(), connection, s.config.RefreshLeadWindow())
	if !ShouldRefreshTokens(s.clock(), state) {
		return connection, nil
	}
	return s.RefreshTokens(ctx, connection.ID)
}

// callWithAuthRetry runs one provider call; a 401 despite the proactive
// check triggers exactly one synchronous refresh and one retry.
func (s *Service) callWithAuthRetry(ctx context.Context, connection Connection, call func(auth ProviderAuth) error) error {
	fresh, err := s.ensureFreshTokens(ctx, connection)
	if err != nil {
		return err
	}

	auth := ProviderAuth{RealmID: fresh.RealmID, AccessToken: fresh.AccessToken}
	err = call(auth)
	if err == nil || !IsAuthError(err) {
		return err
	}

	refreshed, refreshErr := s.refreshTokens(ctx, fresh.ID, true)
	if refreshErr != nil {
		return refreshErr
	}
	return call(ProviderAuth{RealmID: refreshed.RealmID, AccessToken: refreshed.AccessToken})
}

// MemoryConnectionLocker is the in-process ConnectionLocker used when no
// distributed lock is wired in.
type MemoryConnectionLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	nowFn func() time.Time
}

func NewMemoryConnectionLocker() *MemoryConnectionLocker {
	return &MemoryConnectionLocker{
		locks: make(map[string]time.Time),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryConnectionLocker) Acquire(_ context.Context, connectionID string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: connection locker is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return nil, fmt.Errorf("core: connection id is required for lock acquisition")
	}
	if ttl <= 0 {
		ttl = defaultRefreshLockTTL
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.locks[connectionID]; ok && now.Before(until) {
		return nil, fmt.Errorf("core: refresh lock already held for connection %q", connectionID)
	}
	l.locks[connectionID] = now.Add(ttl)
	return &memoryLockHandle{locker: l, connectionID: connectionID}, nil
}

type memoryLockHandle struct {
	locker       *MemoryConnectionLocker
	connectionID string
	once         sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		delete(h.locker.locks, h.connectionID)
		h.locker.mu.Unlock()
	})
	return nil
}
