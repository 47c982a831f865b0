package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/isq/internal/api"
	"github.com/joescharf/isq/internal/daemon"
)

// shutdownTimeout bounds how long in-flight requests may run after a stop signal.
const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the issue search HTTP API",
	Long: `Start an HTTP server exposing GET /api/issues/search and the web service
metadata endpoints. By default it listens on port 9000. Use --port to change it.

The caller login is read from the X-Forwarded-User header set by a trusted
proxy. Requests without it search as an anonymous caller.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 9000, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

// serverLock returns the PID lock of the background server.
func serverLock() *daemon.Lock {
	return daemon.NewLock(filepath.Join(viper.GetString("state_dir"), "isq-serve.pid"))
}

func serveRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	lock := serverLock()
	pid := os.Getpid()
	if err := lock.Acquire(pid); err != nil {
		return err
	}
	defer func() { _ = lock.Release(pid) }()

	if err := setupTelemetry(ctx); err != nil {
		return err
	}

	e, err := getEngine(ctx)
	if err != nil {
		return err
	}
	r, err := getReader(ctx)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", viper.GetInt("port")))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	srv := &http.Server{
		Handler:           api.NewServer(e, r).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ui.Success("Serving issue search at http://localhost:%d/api/issues/search", ln.Addr().(*net.TCPAddr).Port)
	return serveUntilDone(ctx, srv, ln)
}

// serveUntilDone runs srv on ln until ctx is cancelled, then drains in-flight requests.
func serveUntilDone(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	ui.Info("Server stopped")
	return nil
}

func serveStopRun() error {
	pid, err := serverLock().Stop()
	if err != nil {
		return err
	}
	ui.Success("Sent stop signal to server (pid %d)", pid)
	return nil
}

func serveStatusRun() error {
	pid, running := serverLock().Owner()
	if !running {
		ui.Info("Server is not running")
		return nil
	}
	ui.Success("Server is running (pid %d)", pid)
	return nil
}
