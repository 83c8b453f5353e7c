package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/photo-annotator/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the Photo Annotator API server.
The server exposes the catalog, tags, identities and natural-language search
over JSON, runs annotation jobs in the background and streams their progress
over server-sent events.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (env WEB_PORT, default 8085)")
	serveCmd.Flags().String("host", "", "Host to bind to (env WEB_HOST)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if port := mustGetInt(cmd, "port"); port > 0 {
		a.cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		a.cfg.Web.Host = host
	}

	server := web.NewServer(a.cfg, web.Dependencies{
		Items:      a.items,
		Tags:       a.tags,
		Identities: a.identities,
		Merger:     a.resolver,
		Search:     a.index,
		Annotator:  a.service,
		Checks:     a.checks(),
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", fmt.Sprintf("%s:%d", a.cfg.Web.Host, a.cfg.Web.Port))
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("starting server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
