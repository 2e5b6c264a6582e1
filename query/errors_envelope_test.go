package query

import (
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-booksync/core"
)

func TestQueryMessages_ValidateReturnsRichError(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"connection status", (ConnectionStatusMessage{}).Validate()},
		{"verify connection", (VerifyConnectionMessage{}).Validate()},
		{"mapping status", (MappingStatusMessage{}).Validate()},
		{"sync history", (SyncHistoryMessage{}).Validate()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err == nil {
				t.Fatalf("expected validation error")
			}
			var rich *goerrors.Error
			if !goerrors.As(tc.err, &rich) {
				t.Fatalf("expected go-errors envelope, got %T", tc.err)
			}
			if rich.Category != goerrors.CategoryValidation {
				t.Fatalf("expected validation category, got %q", rich.Category)
			}
			if rich.TextCode != core.SyncErrorBadInput {
				t.Fatalf("expected %q text code, got %q", core.SyncErrorBadInput, rich.TextCode)
			}
		})
	}
}

func TestSyncHistoryMessage_RejectsNegativeLimit(t *testing.T) {
	err := (SyncHistoryMessage{OwnerID: "owner-1", Limit: -1}).Validate()
	if err == nil {
		t.Fatalf("expected limit validation error")
	}
}
