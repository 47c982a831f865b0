package cmd

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerLock_Path(t *testing.T) {
	dir := testEnv(t)

	assert.Equal(t, filepath.Join(dir, "isq-serve.pid"), serverLock().Path)
}

func TestServeStatusRun_NotRunning(t *testing.T) {
	testEnv(t)
	out, _ := captureUI(t)

	require.NoError(t, serveStatusRun())
	assert.Contains(t, out.String(), "not running")
}

func TestServeStatusRun_Running(t *testing.T) {
	testEnv(t)
	out, _ := captureUI(t)

	require.NoError(t, serverLock().Acquire(os.Getpid()))
	t.Cleanup(func() { _ = serverLock().Release(os.Getpid()) })

	require.NoError(t, serveStatusRun())
	assert.Contains(t, out.String(), "is running")
}

func TestServeStopRun_NotRunning(t *testing.T) {
	testEnv(t)

	err := serveStopRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestServeRun_AlreadyRunning(t *testing.T) {
	testEnv(t)

	require.NoError(t, serverLock().Acquire(os.Getpid()))
	t.Cleanup(func() { _ = serverLock().Release(os.Getpid()) })

	err := serveRun(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestServeUntilDone_GracefulShutdown(t *testing.T) {
	testEnv(t)
	captureUI(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveUntilDone(ctx, srv, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
