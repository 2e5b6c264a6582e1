package core

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultStateTTL          = 10 * time.Minute
	defaultRefreshLeadWindow = 10 * time.Minute
)

// StatePayload is the opaque blob round-tripped through the provider's
// authorize redirect. Signed, not just encoded: a forged or replayed state
// for a different owner fails verification.
type StatePayload struct {
	OwnerID   string    `json:"owner_id"`
	Reconnect bool      `json:"reconnect"`
	Nonce     string    `json:"nonce"`
	IssuedAt  time.Time `json:"issued_at"`
}

// StateCodec signs and verifies OAuth state blobs with HMAC-SHA256.
type StateCodec struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewStateCodec(secret string, ttl time.Duration) (*StateCodec, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, fmt.Errorf("core: state secret is required")
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &StateCodec{
		Secret: []byte(trimmed),
		TTL:    ttl,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (c *StateCodec) Encode(payload StatePayload) (string, error) {
	if c == nil || len(c.Secret) == 0 {
		return "", fmt.Errorf("core: state codec is not configured")
	}
	if strings.TrimSpace(payload.OwnerID) == "" {
		return "", fmt.Errorf("core: owner id is required for oauth state")
	}
	if payload.IssuedAt.IsZero() {
		payload.IssuedAt = c.now()
	}
	if strings.TrimSpace(payload.Nonce) == "" {
		nonce, err := generateStateNonce()
		if err != nil {
			return "", err
		}
		payload.Nonce = nonce
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("core: encode oauth state: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(body)
	return encoded + "." + c.sign(encoded), nil
}

func (c *StateCodec) Decode(state string) (StatePayload, error) {
	if c == nil || len(c.Secret) == 0 {
		return StatePayload{}, fmt.Errorf("core: state codec is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return StatePayload{}, fmt.Errorf("core: oauth state is required")
	}

	encoded, signature, found := strings.Cut(state, ".")
	if !found {
		return StatePayload{}, fmt.Errorf("core: oauth state is malformed")
	}
	if !hmac.Equal([]byte(c.sign(encoded)), []byte(signature)) {
		return StatePayload{}, fmt.Errorf("core: oauth state signature mismatch")
	}

	body, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return StatePayload{}, fmt.Errorf("core: decode oauth state: %w", err)
	}
	var payload StatePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return StatePayload{}, fmt.Errorf("core: decode oauth state: %w", err)
	}
	if strings.TrimSpace(payload.OwnerID) == "" {
		return StatePayload{}, fmt.Errorf("core: oauth state owner is missing")
	}

	ttl := c.TTL
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	if c.now().After(payload.IssuedAt.Add(ttl)) {
		return StatePayload{}, fmt.Errorf("core: oauth state expired")
	}
	return payload, nil
}

func (c *StateCodec) sign(encoded string) string {
	mac := hmac.New(sha256.New, c.Secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (c *StateCodec) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func generateStateNonce() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate oauth state nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// OAuthStateStore makes state tokens single-use: the signature and TTL
// prove authenticity and freshness, the store rejects a second redemption
// of the same nonce inside the TTL window.
type OAuthStateStore interface {
	Consume(ctx context.Context, nonce string, expiresAt time.Time) error
}

// MemoryOAuthStateStore is the in-process OAuthStateStore used when no
// shared store is configured. Suitable for single-instance deployments.
type MemoryOAuthStateStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	Now  func() time.Time
}

func NewMemoryOAuthStateStore() *MemoryOAuthStateStore {
	return &MemoryOAuthStateStore{
		seen: map[string]time.Time{},
	}
}

func (s *MemoryOAuthStateStore) Consume(_ context.Context, nonce string, expiresAt time.Time) error {
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return fmt.Errorf("core: oauth state nonce is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	for key, expiry := range s.seen {
		if now.After(expiry) {
			delete(s.seen, key)
		}
	}

	if s.seen == nil {
		s.seen = map[string]time.Time{}
	}
	if _, used := s.seen[nonce]; used {
		return fmt.Errorf("core: oauth state already redeemed")
	}
	s.seen[nonce] = expiresAt.UTC()
	return nil
}
