package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("already exists")
	ErrInvalidPath       = errors.New("invalid path")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrTimeout           = errors.New("timeout")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrMirrorUnavailable = errors.New("mirror unavailable")
	ErrPartialFailure    = errors.New("store and mirror diverged")
	ErrRetrievalFailed   = errors.New("retrieval failed")
)

// ErrAlreadyExists is the store-side name for ErrConflict.
var ErrAlreadyExists = ErrConflict

var kinds = []error{
	ErrPartialFailure,
	ErrNotFound,
	ErrConflict,
	ErrInvalidPath,
	ErrInvalidQuery,
	ErrTimeout,
	ErrRetrievalFailed,
	ErrStoreUnavailable,
	ErrMirrorUnavailable,
}

// Error attaches the failing operation and path to one of the sentinel kinds.
// errors.Is matches both the kind and the underlying cause.
type Error struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil && !errors.Is(e.Err, e.Kind) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// E builds an *Error. A nil kind is derived from err, falling back to
// context classification.
func E(op, path string, kind error, err error) error {
	if kind == nil {
		kind = KindOf(err)
		if kind == nil {
			kind = FromContext(err)
		}
	}
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

// KindOf returns the sentinel kind carried by err, or nil. The outermost
// *Error wins over kinds buried in its cause.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// FromContext classifies deadline and cancellation errors as ErrTimeout.
// Anything else is reported as ErrStoreUnavailable by default; callers on the
// mirror side pass their own kind explicitly.
func FromContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout
	}
	return ErrStoreUnavailable
}

// Retryable reports whether a caller may retry err with backoff.
func Retryable(err error) bool {
	switch KindOf(err) {
	case ErrTimeout, ErrStoreUnavailable, ErrMirrorUnavailable:
		return true
	}
	return false
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrInvalidPath, ErrInvalidQuery:
		return http.StatusBadRequest
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrStoreUnavailable, ErrMirrorUnavailable:
		return http.StatusServiceUnavailable
	case ErrRetrievalFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message is the user-facing text for err: the kind for expected outcomes,
// a generic line for anything unclassified.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.Path != "" {
			return fmt.Sprintf("%s: %s", appErr.Kind.Error(), appErr.Path)
		}
		return appErr.Kind.Error()
	}
	if kind := KindOf(err); kind != nil {
		return kind.Error()
	}
	return "internal error"
}
