package ratelimit

import (
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-booksync/core"
)

func TestThrottledError_ToSyncErrorCarriesRetryHint(t *testing.T) {
	err := ThrottledError{RealmID: "realm-1", Bucket: "query", RetryAfter: 30 * time.Second}.ToSyncError()

	if err.Category != goerrors.CategoryRateLimit {
		t.Fatalf("expected rate limit category, got %q", err.Category)
	}
	if err.TextCode != core.SyncErrorRateLimited {
		t.Fatalf("expected %q text code, got %q", core.SyncErrorRateLimited, err.TextCode)
	}
	if err.Metadata["retry_after_ms"] != int64(30000) {
		t.Fatalf("expected retry hint metadata, got %#v", err.Metadata["retry_after_ms"])
	}
	if err.Metadata["realm_id"] != "realm-1" {
		t.Fatalf("expected realm metadata, got %#v", err.Metadata["realm_id"])
	}
}
