package mailerr

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
)

// SendCode identifies the class of a send failure in results returned to
// callers across the job boundary.
type SendCode string

const (
	CodeAuthFailed       SendCode = "AUTH_FAILED"
	CodeScopeMissing     SendCode = "SCOPE_MISSING"
	CodeRateLimited      SendCode = "RATE_LIMITED"
	CodeQuotaExceeded    SendCode = "QUOTA_EXCEEDED"
	CodeInvalidRecipient SendCode = "INVALID_RECIPIENT"
	CodeNetworkError     SendCode = "NETWORK_ERROR"
	CodeUnknown          SendCode = "UNKNOWN_ERROR"
)

// AuthError means the provider rejected our credentials. Terminal auth
// errors (revoked refresh token, missing scope) require the user to
// re-authenticate; non-terminal ones can be fixed by a token refresh.
type AuthError struct {
	Terminal bool
	Reason   string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError carries the provider-suggested wait before retrying.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// APIError is a generic provider failure with a status code and a
// retryable flag derived from it.
type APIError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider error (status %d): %v", e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// SyncError wraps a lower-level failure with the sync stage it occurred in
// and how many items completed before it.
type SyncError struct {
	Stage     string
	Completed int
	Err       error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync failed at %s after %d items: %v", e.Stage, e.Completed, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// FromProvider classifies a raw provider error into the taxonomy. Errors
// that are already classified pass through unchanged.
func FromProvider(err error) error {
	if err == nil {
		return nil
	}

	var ae *AuthError
	var rle *RateLimitError
	var ape *APIError
	if errors.As(err, &ae) || errors.As(err, &rle) || errors.As(err, &ape) {
		return err
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		msg := strings.ToLower(gerr.Message)
		switch {
		case gerr.Code == 401:
			return &AuthError{Terminal: false, Reason: "unauthorized", Err: err}
		case gerr.Code == 403 && (strings.Contains(msg, "rate limit") || strings.Contains(msg, "ratelimitexceeded")):
			return &RateLimitError{RetryAfter: retryAfterHeader(gerr), Err: err}
		case gerr.Code == 403 && (strings.Contains(msg, "scope") || strings.Contains(msg, "permission") || strings.Contains(msg, "insufficient")):
			return &AuthError{Terminal: true, Reason: "insufficient scope", Err: err}
		case gerr.Code == 403 && strings.Contains(msg, "quota"):
			return &APIError{StatusCode: gerr.Code, Retryable: false, Err: err}
		case gerr.Code == 429:
			return &RateLimitError{RetryAfter: retryAfterHeader(gerr), Err: err}
		case gerr.Code >= 500:
			return &APIError{StatusCode: gerr.Code, Retryable: true, Err: err}
		default:
			return &APIError{StatusCode: gerr.Code, Retryable: false, Err: err}
		}
	}

	var uerr *url.Error
	var nerr net.Error
	if errors.As(err, &uerr) || errors.As(err, &nerr) {
		return &APIError{StatusCode: 0, Retryable: true, Err: err}
	}

	return &APIError{StatusCode: 0, Retryable: false, Err: err}
}

// SendCodeFor maps a (possibly classified) error to the send failure code
// reported in delivery results.
func SendCodeFor(err error) SendCode {
	if err == nil {
		return ""
	}

	classified := FromProvider(err)
	msg := strings.ToLower(err.Error())

	var ae *AuthError
	if errors.As(classified, &ae) {
		if ae.Terminal || strings.Contains(msg, "scope") || strings.Contains(msg, "permission") {
			return CodeScopeMissing
		}
		return CodeAuthFailed
	}

	var rle *RateLimitError
	if errors.As(classified, &rle) {
		return CodeRateLimited
	}

	var ape *APIError
	if errors.As(classified, &ape) {
		switch {
		case strings.Contains(msg, "quota"):
			return CodeQuotaExceeded
		case ape.StatusCode == 400 && (strings.Contains(msg, "recipient") || strings.Contains(msg, "invalid to")):
			return CodeInvalidRecipient
		case ape.StatusCode == 0 && ape.Retryable:
			return CodeNetworkError
		}
	}

	return CodeUnknown
}

// IsRetryable reports whether an error is worth retrying with backoff.
// Auth errors are never retryable here; the caller must refresh the token
// and retry at a higher level.
func IsRetryable(err error) bool {
	classified := FromProvider(err)

	var ape *APIError
	if errors.As(classified, &ape) {
		return ape.Retryable
	}
	var rle *RateLimitError
	return errors.As(classified, &rle)
}

// RetryAfter extracts the provider-specified wait from a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rle *RateLimitError
	if errors.As(FromProvider(err), &rle) {
		return rle.RetryAfter, true
	}
	return 0, false
}

// IsAuth reports whether the error is an authentication failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(FromProvider(err), &ae)
}

func retryAfterHeader(gerr *googleapi.Error) time.Duration {
	if gerr.Header != nil {
		if v := gerr.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return 0
}
