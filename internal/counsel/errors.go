package counsel

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a RemoteError.
type ErrorKind string

const (
	KindHTTP      ErrorKind = "http"
	KindTimeout   ErrorKind = "timeout"
	KindTransport ErrorKind = "transport"
)

var (
	// ErrTimeout is the cause recorded when a guard's deadline expires.
	ErrTimeout = errors.New("counsel: request timed out")
	// ErrCancelled is reported when the caller aborts a request. It is never shown to users.
	ErrCancelled = errors.New("counsel: request cancelled")
	// ErrGuardReused is returned when a guard is started a second time.
	ErrGuardReused = errors.New("counsel: guard already started")
)

// RemoteError is a failed exchange with a remote endpoint: a non-2xx status,
// a deadline, or a broken transport.
type RemoteError struct {
	Kind   ErrorKind
	Status int
	Body   string
	Err    error
}

func (e *RemoteError) Error() string {
	switch e.Kind {
	case KindHTTP:
		if e.Body != "" {
			return fmt.Sprintf("remote returned status %d: %s", e.Status, e.Body)
		}
		return fmt.Sprintf("remote returned status %d", e.Status)
	case KindTimeout:
		return "remote request timed out"
	default:
		if e.Err != nil {
			return "remote transport failed: " + e.Err.Error()
		}
		return "remote transport failed"
	}
}

func (e *RemoteError) Unwrap() error { return e.Err }

// DecodeError reports an invalid UTF-8 sequence in the response stream.
type DecodeError struct {
	// Offset is the byte offset into the stream where the bad sequence starts.
	Offset int64
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid utf-8 in response stream at byte %d", e.Offset)
}

// IsCancelled reports whether err is a caller cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsTimeout reports whether err is a guard-enforced timeout.
func IsTimeout(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == KindTimeout
}

// ErrorKindOf returns a short label for err, used in logs, metrics and the turn log.
func ErrorKindOf(err error) string {
	var (
		re *RemoteError
		de *DecodeError
	)
	switch {
	case err == nil:
		return ""
	case IsCancelled(err):
		return "cancelled"
	case errors.As(err, &re):
		return string(re.Kind)
	case errors.As(err, &de):
		return "decode"
	default:
		return "stream"
	}
}
