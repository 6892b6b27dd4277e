package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmckenzie51/sshkit/internal/errors"
	"github.com/tmckenzie51/sshkit/pkg/sshutil"
)

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty means default", input: "", want: 0},
		{name: "seconds", input: "30s", want: 30 * time.Second},
		{name: "minutes", input: "5m", want: 5 * time.Minute},
		{name: "not a duration", input: "soon", wantErr: true},
		{name: "bare number", input: "30", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTimeout(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCode(err, errors.ErrConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEnv(t *testing.T) {
	env, err := parseEnv([]string{"DEPLOY_ENV=staging", "PATH=/usr/bin:/bin", "EMPTY="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"DEPLOY_ENV": "staging",
		"PATH":       "/usr/bin:/bin",
		"EMPTY":      "",
	}, env)
}

func TestParseEnvRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"NOEQUALS", "=value"} {
		t.Run(bad, func(t *testing.T) {
			_, err := parseEnv([]string{bad})
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrConfig))
		})
	}
}

func TestParseEnvEmpty(t *testing.T) {
	env, err := parseEnv(nil)
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestFailureExitCode(t *testing.T) {
	tests := []struct {
		name   string
		result sshutil.Result
		want   int
	}{
		{name: "non-zero exit passes through", result: sshutil.Result{ExitCode: 2}, want: 2},
		{name: "signal with zero exit", result: sshutil.Result{Signal: "TERM"}, want: 1},
		{name: "negative exit", result: sshutil.Result{ExitCode: -1, Signal: "KILL"}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, failureExitCode(&tt.result))
		})
	}
}

func TestJoinCommand(t *testing.T) {
	assert.Equal(t, "uptime", joinCommand([]string{"uptime"}))
	assert.Equal(t, "df -h /var", joinCommand([]string{"df", "-h", "/var"}))
	assert.Equal(t, "", joinCommand(nil))
}
