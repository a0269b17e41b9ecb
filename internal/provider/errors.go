package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// Terminal failures. Retrying them only burns the run's time budget.
	ErrUnauthorized      = errors.New("provider rejected credentials")
	ErrInvalidReference  = errors.New("invalid profile reference")
	ErrAccountSuspended  = errors.New("provider account suspended")
	ErrTransient         = errors.New("transient provider failure")
	ErrPollTimeout       = errors.New("profile snapshot not ready in time")
	ErrMalformedResponse = errors.New("malformed provider response")
)

// Error is a classified provider failure.
type Error struct {
	Kind       error
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Message)
	switch {
	case e.StatusCode != 0 && msg != "":
		return fmt.Sprintf("%s: status %d: %s", e.Kind, e.StatusCode, msg)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Kind, e.StatusCode)
	case msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Unwrap() error { return e.Kind }

// IsTerminal reports whether err must not be retried.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrAccountSuspended)
}

func classifyStatus(code int, body string) error {
	if code >= 200 && code < 300 {
		return nil
	}

	msg := strings.TrimSpace(body)
	if mentionsSuspension(msg) {
		return &Error{Kind: ErrAccountSuspended, StatusCode: code, Message: msg}
	}

	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Kind: ErrUnauthorized, StatusCode: code, Message: msg}
	case http.StatusPaymentRequired:
		return &Error{Kind: ErrAccountSuspended, StatusCode: code, Message: msg}
	case http.StatusBadRequest, http.StatusNotFound, http.StatusGone, http.StatusUnprocessableEntity:
		return &Error{Kind: ErrInvalidReference, StatusCode: code, Message: msg}
	default:
		return &Error{Kind: ErrTransient, StatusCode: code, Message: msg}
	}
}

// classifyMessage maps the free-form error text the provider puts into failed
// snapshots or per-record error fields.
func classifyMessage(code, message string) error {
	text := strings.ToLower(strings.TrimSpace(code + " " + message))
	switch {
	case mentionsSuspension(text):
		return &Error{Kind: ErrAccountSuspended, Message: message}
	case strings.Contains(text, "unauthorized"), strings.Contains(text, "invalid token"), strings.Contains(text, "forbidden"):
		return &Error{Kind: ErrUnauthorized, Message: message}
	case strings.Contains(text, "dead_page"), strings.Contains(text, "not found"), strings.Contains(text, "not_found"),
		strings.Contains(text, "invalid url"), strings.Contains(text, "invalid_input"), strings.Contains(text, "private profile"):
		return &Error{Kind: ErrInvalidReference, Message: message}
	default:
		return &Error{Kind: ErrTransient, Message: message}
	}
}

func mentionsSuspension(text string) bool {
	text = strings.ToLower(text)
	return strings.Contains(text, "suspended") || strings.Contains(text, "account_suspended")
}
