package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: Permanent},
		{name: "marked", err: MarkTransient(errors.New("flaky")), want: Transient},
		{name: "wrapped marker", err: fmt.Errorf("stage: %w", MarkTransient(errors.New("x"))), want: Transient},
		{name: "net timeout", err: fmt.Errorf("dial: %w", timeoutErr{}), want: Transient},
		{name: "stage deadline", err: fmt.Errorf("execute: %w", context.DeadlineExceeded), want: Transient},
		{name: "connection reset", err: errors.New("read tcp: connection reset by peer"), want: Transient},
		{name: "connection refused", err: errors.New("dial tcp 127.0.0.1:1: connection refused"), want: Transient},
		{name: "rate limited", err: errors.New("provider said: Too Many Requests"), want: Transient},
		{name: "429", err: errors.New("status 429"), want: Transient},
		{name: "503", err: errors.New("upstream returned 503"), want: Transient},
		{name: "temporarily unavailable", err: errors.New("service temporarily unavailable"), want: Transient},
		{name: "bad request", err: errors.New("status 400: malformed"), want: Permanent},
		{name: "cancelled", err: context.Canceled, want: Permanent},
		{name: "plain", err: errors.New("model refused the task"), want: Permanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
	assert.NoError(t, MarkTransient(nil))
}
