package errx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
	// InvalidRequestMessage is returned for malformed caller input.
	InvalidRequestMessage = "invalid request"
	// UpstreamServiceMessage describes completion API failures.
	UpstreamServiceMessage = "upstream service error"
)

// Kinds usable with errors.Is against any AppError built by the helpers below.
var (
	ErrInvalidRequest  = errors.New(InvalidRequestMessage)
	ErrUpstreamService = errors.New(UpstreamServiceMessage)
	ErrRedis           = errors.New(RedisErrorMessage)
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
	// Kind is one of the Err* sentinels, or nil.
	Kind error
}

// Error implements the error interface.
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

// InvalidRequest marks err as caller input that must be rejected before any work starts.
func InvalidRequest(err error) *AppError {
	e := New(err, http.StatusBadRequest, InvalidRequestMessage)
	e.Kind = ErrInvalidRequest
	return e
}

// InvalidRequestf is InvalidRequest with a formatted cause.
func InvalidRequestf(format string, args ...any) *AppError {
	return InvalidRequest(fmt.Errorf(format, args...))
}

// Upstream marks err as a failure of the completion API (unreachable, non-2xx or malformed).
func Upstream(err error) error {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) && ae.Kind == ErrUpstreamService {
		return err
	}
	e := New(err, http.StatusBadGateway, UpstreamServiceMessage)
	e.Kind = ErrUpstreamService
	return e
}

// WrapRedis maps Redis errors to AppError with appropriate status codes.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return &AppError{Err: err, Status: http.StatusNotFound, Message: RedisNotFoundMessage, Kind: ErrRedis}
	}
	return &AppError{Err: err, Status: http.StatusBadGateway, Message: RedisErrorMessage, Kind: ErrRedis}
}

// StatusOf returns the status of the first AppError in err's chain, or 500.
func StatusOf(err error) int {
	var ae *AppError
	if errors.As(err, &ae) && ae.Status != 0 {
		return ae.Status
	}
	return http.StatusInternalServerError
}

// Is reports whether the target matches the error kind or the underlying error.
func (e *AppError) Is(target error) bool {
	if e.Kind != nil && target == e.Kind {
		return true
	}
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return errors.As(e.Err, target)
}
