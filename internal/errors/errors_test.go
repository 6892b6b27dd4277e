package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	err := New(ErrPolicy, "Command blocked by policy", "Remove the command from the blocked list if this is intentional")

	out := err.Error()
	assert.Contains(t, out, "✗ Command blocked by policy")
	assert.Contains(t, out, "Remove the command from the blocked list")
}

func TestError_Unwrap(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	err := WrapWithCode(cause, ErrConnection, "Can't reach host", "Check the host")

	assert.True(t, stderrors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsCode(t *testing.T) {
	err := New(ErrRateLimit, "Too many attempts", "Wait for the window to elapse")

	assert.True(t, IsCode(err, ErrRateLimit))
	assert.False(t, IsCode(err, ErrConnection))
	assert.False(t, IsCode(nil, ErrRateLimit))
	assert.False(t, IsCode(stderrors.New("plain"), ErrRateLimit))

	// Wrapped structured errors are still detected.
	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsCode(wrapped, ErrRateLimit))
}

func TestRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"connection error", New(ErrConnection, "refused", ""), true},
		{"timeout error", New(ErrTimeout, "timed out", ""), true},
		{"auth error", New(ErrAuth, "bad credentials", ""), false},
		{"policy error", New(ErrPolicy, "blocked", ""), false},
		{"protocol error", New(ErrProtocol, "bad packet", ""), false},
		{"rate limit", New(ErrRateLimit, "slow down", ""), false},
		{"plain error", stderrors.New("whatever"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Recoverable(tt.err))
		})
	}
}

func TestNewCommand_CarriesExitCode(t *testing.T) {
	err := NewCommand("command exited with status 2", 2)

	var skErr *Error
	assert.True(t, stderrors.As(err, &skErr))
	assert.Equal(t, ErrCommand, skErr.Code)
	assert.Equal(t, 2, skErr.ExitCode)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"refused", stderrors.New("dial tcp 10.0.0.1:22: connect: connection refused"), ErrConnection},
		{"no route", stderrors.New("dial tcp: connect: no route to host"), ErrConnection},
		{"unreachable", stderrors.New("dial tcp: network is unreachable"), ErrConnection},
		{"io timeout", stderrors.New("dial tcp 10.0.0.1:22: i/o timeout"), ErrTimeout},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"auth", stderrors.New("ssh: unable to authenticate, attempted methods [none publickey]"), ErrAuth},
		{"hostkey", stderrors.New("ssh: handshake failed: knownhosts: key mismatch"), ErrHostKeyMismatch},
		{"protocol", stderrors.New("ssh: unexpected packet in response to channel open"), ErrProtocol},
		{"unknown", stderrors.New("something odd"), ErrConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, "web-01")
			assert.Equal(t, tt.wantCode, got.Code)
			assert.NotEmpty(t, got.Suggestion, "every classified error should carry a suggestion")
		})
	}
}

func TestClassify_PassesThroughStructured(t *testing.T) {
	orig := New(ErrAuth, "nope", "fix your keys")
	got := Classify(orig, "web-01")
	assert.Same(t, orig, got)
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil, "web-01"))
}
