package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	SyncErrorBadInput       = "BOOKSYNC_BAD_INPUT"
	SyncErrorNotConnected   = "BOOKSYNC_NOT_CONNECTED"
	SyncErrorStateInvalid   = "BOOKSYNC_OAUTH_STATE_INVALID"
	SyncErrorAuthRequired   = "BOOKSYNC_AUTH_REQUIRED"
	SyncErrorMappingMissing = "BOOKSYNC_MAPPING_MISSING"
	SyncErrorRateLimited    = "BOOKSYNC_RATE_LIMITED"
	SyncErrorProvider       = "BOOKSYNC_PROVIDER_ERROR"
	SyncErrorPersistence    = "BOOKSYNC_PERSISTENCE"
	SyncErrorRunInProgress  = "BOOKSYNC_SYNC_IN_PROGRESS"
	SyncErrorInternal       = "BOOKSYNC_INTERNAL_ERROR"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

func defaultErrorMapper(err error) *goerrors.Error {
	return syncErrorMapper(err)
}

func syncErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureSyncErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "connection not found"), strings.Contains(msg, "not connected"):
		return newSyncError(err.Error(), goerrors.CategoryNotFound, SyncErrorNotConnected)
	case strings.Contains(msg, "oauth state"), strings.Contains(msg, "callback state"):
		return newSyncError(err.Error(), goerrors.CategoryAuth, SyncErrorStateInvalid)
	case strings.Contains(msg, "token_expired"), strings.Contains(msg, "invalid_grant"),
		strings.Contains(msg, "reauthorization required"):
		return newSyncError(err.Error(), goerrors.CategoryAuth, SyncErrorAuthRequired)
	case strings.Contains(msg, "category") && strings.Contains(msg, "not mapped"):
		return newSyncError(err.Error(), goerrors.CategoryOperation, SyncErrorMappingMissing)
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "throttl"):
		return newSyncError(err.Error(), goerrors.CategoryRateLimit, SyncErrorRateLimited)
	case strings.Contains(msg, "lock already held"), strings.Contains(msg, "sync already running"):
		return newSyncError(err.Error(), goerrors.CategoryConflict, SyncErrorRunInProgress)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newSyncError(err.Error(), goerrors.CategoryBadInput, SyncErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureSyncErrorEnvelope(mapped)
}

func newSyncError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureSyncErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureSyncErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = syncHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultSyncTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultSyncTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return SyncErrorBadInput
	case goerrors.CategoryNotFound:
		return SyncErrorNotConnected
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return SyncErrorAuthRequired
	case goerrors.CategoryConflict:
		return SyncErrorRunInProgress
	case goerrors.CategoryRateLimit:
		return SyncErrorRateLimited
	case goerrors.CategoryOperation:
		return SyncErrorProvider
	case goerrors.CategoryExternal:
		return SyncErrorProvider
	default:
		return SyncErrorInternal
	}
}

func syncHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsAuthError reports whether the failure requires a token refresh or a
// full re-authorization.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if richErr.Category == goerrors.CategoryAuth || richErr.Category == goerrors.CategoryAuthz {
			return true
		}
		switch strings.TrimSpace(strings.ToUpper(richErr.TextCode)) {
		case SyncErrorAuthRequired, "TOKEN_EXPIRED", "UNAUTHORIZED":
			return true
		}
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "token expired")
}

// IsRateLimitError reports provider throttling; the orchestrator owns the
// backoff, single-entity paths surface it untouched.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryRateLimit {
		return true
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "429")
}

// IsMappingError reports a per-entity mapping gap.
func IsMappingError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return strings.TrimSpace(strings.ToUpper(richErr.TextCode)) == SyncErrorMappingMissing
	}
	return false
}

func isUnrecoverableRefreshError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz, goerrors.CategoryValidation:
			return true
		}
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "invalid refresh token") ||
		strings.Contains(msg, "reauthorization required")
}
