package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a provider failure for retry and reporting.
type Kind string

const (
	KindInvalidCredential Kind = "invalid_credential"
	KindQuota             Kind = "quota"
	KindNotFound          Kind = "not_found"
	KindTransient         Kind = "transient"
	// KindRejected covers any other client error the provider answers with.
	KindRejected Kind = "rejected"
)

// Error is a classified provider API failure.
type Error struct {
	Kind     Kind
	Provider string
	Op       string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: %s (status %d): %v", e.Provider, e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or "" when err is not a provider error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err is a provider error of kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// kindForStatus maps an HTTP status and response body to a Kind.
func kindForStatus(status int, body string) Kind {
	lower := strings.ToLower(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if strings.Contains(lower, "quota") || strings.Contains(lower, "limit") {
			return KindQuota
		}
		return KindInvalidCredential
	case status == http.StatusPaymentRequired:
		return KindQuota
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return KindTransient
	case strings.Contains(lower, "quota"), strings.Contains(lower, "limit exceeded"), strings.Contains(lower, "insufficient funds"):
		return KindQuota
	}
	return KindRejected
}
