package sshutil_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmckenzie51/sshkit/internal/errors"
	"github.com/tmckenzie51/sshkit/pkg/sshutil"
	"github.com/tmckenzie51/sshkit/pkg/sshutil/sshtest"
)

func TestCreateShellEchoesData(t *testing.T) {
	engine := sshtest.NewEngine()
	client := readyClient(t, engine)

	shell, err := client.CreateShell(sshutil.TermConfig{
		Term: "xterm-256color",
		Rows: 40,
		Cols: 120,
		Env:  map[string]string{"LANG": "en_US.UTF-8"},
	})
	require.NoError(t, err)
	defer shell.Close()

	var mu sync.Mutex
	var received strings.Builder
	shell.OnData(func(data []byte) {
		mu.Lock()
		received.Write(data)
		mu.Unlock()
	})

	_, err = shell.Write([]byte("uptime\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received.String() == "uptime\n"
	}, time.Second, 5*time.Millisecond)

	sessions := engine.Conn().Sessions()
	require.Len(t, sessions, 1)
	term, rows, cols := sessions[0].PTY()
	assert.Equal(t, "xterm-256color", term)
	assert.Equal(t, 40, rows)
	assert.Equal(t, 120, cols)
	assert.Equal(t, "en_US.UTF-8", sessions[0].Env()["LANG"])
}

func TestShellResize(t *testing.T) {
	engine := sshtest.NewEngine()
	client := readyClient(t, engine)

	shell, err := client.CreateShell(sshutil.TermConfig{Rows: 24, Cols: 80})
	require.NoError(t, err)
	defer shell.Close()

	require.NoError(t, shell.Resize(132, 50))

	sessions := engine.Conn().Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, [][2]int{{50, 132}}, sessions[0].Resizes())
}

func TestShellCloseFiresOnCloseOnce(t *testing.T) {
	engine := sshtest.NewEngine()
	client := readyClient(t, engine)

	shell, err := client.CreateShell(sshutil.TermConfig{})
	require.NoError(t, err)

	closed := make(chan struct{})
	var closes int
	shell.OnClose(func(error) {
		closes++
		close(closed)
	})

	require.NoError(t, shell.Close())

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close callback never fired")
	}

	assert.NoError(t, shell.Close(), "second close is a no-op")
	assert.Equal(t, 1, closes)
}

func TestShellRejectsUseAfterClose(t *testing.T) {
	engine := sshtest.NewEngine()
	client := readyClient(t, engine)

	shell, err := client.CreateShell(sshutil.TermConfig{})
	require.NoError(t, err)
	require.NoError(t, shell.Close())

	_, err = shell.Write([]byte("ls\n"))
	assert.True(t, errors.IsCode(err, errors.ErrConnection))

	err = shell.Resize(80, 24)
	assert.True(t, errors.IsCode(err, errors.ErrConnection))
}

func TestCreateShellRequiresReadyClient(t *testing.T) {
	engine := sshtest.NewEngine()
	client := newTestClient(t, testConfig(), engine)

	_, err := client.CreateShell(sshutil.TermConfig{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConnection))
}

func TestClientSupportsMultipleShells(t *testing.T) {
	engine := sshtest.NewEngine()
	client := readyClient(t, engine)

	first, err := client.CreateShell(sshutil.TermConfig{})
	require.NoError(t, err)
	defer first.Close()

	second, err := client.CreateShell(sshutil.TermConfig{})
	require.NoError(t, err)
	defer second.Close()

	assert.Len(t, engine.Conn().Sessions(), 2)
}
