package orchestrator

import (
	"context"
	"errors"
	"net"
	"regexp"
)

// ErrorCategory is the reason a request failed.
type ErrorCategory string

const (
	ErrDeadlineExceeded     ErrorCategory = "deadline_exceeded"
	ErrMaxIterations        ErrorCategory = "max_iterations_reached"
	ErrTooManyTransient     ErrorCategory = "too_many_transient_errors"
	ErrMandatoryLayerFailed ErrorCategory = "mandatory_layer_failed"
	ErrInternal             ErrorCategory = "internal"
)

// ErrInvalidOptions is returned by Process for options that fail
// validation. Nothing runs and no worker slot is taken.
var ErrInvalidOptions = errors.New("invalid request options")

// ErrorKind splits stage failures into retryable and fatal.
type ErrorKind string

const (
	Transient ErrorKind = "transient"
	Permanent ErrorKind = "permanent"
)

// TransientError marks an error as retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// MarkTransient wraps err so Classify reports it as transient.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

var transientText = regexp.MustCompile(`(?i)timeout|timed out|connection reset|connection refused|rate limit|too many requests|\b429\b|\b5\d\d\b|temporar(?:y|ily unavailable)`)

// Classify reports whether a stage error is worth retrying.
func Classify(err error) ErrorKind {
	if err == nil {
		return Permanent
	}

	var te *TransientError
	if errors.As(err, &te) {
		return Transient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	if transientText.MatchString(err.Error()) {
		return Transient
	}
	return Permanent
}
