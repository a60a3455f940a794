package errx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
)

const (
	// SystemErrorMessage is the fallback message for internal failures.
	SystemErrorMessage = "internal error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage is used when a key does not exist.
	RedisNotFoundMessage = "redis key not found"
	// MalformedRequestMessage describes a model request that can never succeed.
	MalformedRequestMessage = "malformed model request"
	// ConfigErrorMessage describes unusable configuration.
	ConfigErrorMessage = "invalid configuration"
)

// AppError wraps an underlying error with a status and a safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// WrapRedis maps Redis errors to AppError with a consistent status.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return New(err, http.StatusNotFound, RedisNotFoundMessage)
	}
	return New(err, http.StatusBadGateway, RedisErrorMessage)
}

// StatusOf returns the status carried by the first AppError in err's chain,
// or 500 when there is none.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
