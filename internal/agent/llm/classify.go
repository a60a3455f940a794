package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// Class is the failure category that drives the invoker's next step.
type Class int

const (
	ClassUnknown Class = iota
	ClassMalformed
	ClassQuota
	ClassTransient
)

func (c Class) String() string {
	switch c {
	case ClassMalformed:
		return "malformed"
	case ClassQuota:
		return "quota"
	case ClassTransient:
		return "transient"
	default:
		return "unknown"
	}
}

var (
	// ErrMalformedRequest marks a request that can never succeed as sent.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrQuotaExhausted marks a rate or budget limit on the active credential.
	ErrQuotaExhausted = errors.New("quota exhausted")
	// ErrTransient marks a provider-side hiccup worth retrying as is.
	ErrTransient = errors.New("transient provider failure")
)

// FatalError is the only invoker failure that reaches callers.
type FatalError struct {
	Profile string
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal %s model call: %v", e.Profile, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Classify maps an error from the model endpoint onto a Class. Sentinels are
// checked first, then Gemini API status codes, then network timeouts, then
// the status text embedded in wrapped error strings.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	switch {
	case errors.Is(err, ErrMalformedRequest):
		return ClassMalformed
	case errors.Is(err, ErrQuotaExhausted):
		return ClassQuota
	case errors.Is(err, ErrTransient):
		return ClassTransient
	}

	if code, ok := apiStatus(err); ok {
		if c := classifyStatus(code); c != ClassUnknown {
			return c
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	return classifyText(err.Error())
}

func apiStatus(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	return 0, false
}

// classifyStatus treats 401/403 as credential-scoped: a revoked or restricted
// key is rotated away from instead of failing the cycle.
func classifyStatus(code int) Class {
	switch code {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusMethodNotAllowed,
		http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return ClassMalformed
	case http.StatusTooManyRequests, http.StatusUnauthorized, http.StatusForbidden:
		return ClassQuota
	case http.StatusRequestTimeout, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ClassTransient
	default:
		return ClassUnknown
	}
}

var textRules = []struct {
	class   Class
	needles []string
}{
	{ClassMalformed, []string{"invalid_argument", "invalid argument", "not_found", "is not found for api version", "unsupported"}},
	{ClassQuota, []string{"resource_exhausted", "resource exhausted", "quota", "rate limit", "permission_denied", "api key not valid"}},
	{ClassTransient, []string{"unavailable", "internal error", "deadline exceeded", "deadline_exceeded", "timeout", "timed out", "connection reset", "eof"}},
}

func classifyText(msg string) Class {
	msg = strings.ToLower(msg)
	for _, rule := range textRules {
		for _, needle := range rule.needles {
			if strings.Contains(msg, needle) {
				return rule.class
			}
		}
	}
	return ClassUnknown
}
