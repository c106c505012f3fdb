package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/openlegis/lexarc/internal/api"
)

// newServeCmd creates the 'serve' subcommand, which runs the read-only HTTP
// API until interrupted.
func newServeCmd() *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the read-only query API",
		Long: `Starts an HTTP server exposing the archived records, corpus
statistics, and Prometheus metrics. The server never mutates state; all
writes go through the pipeline commands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			addr := listenAddr
			if addr == "" {
				addr = viper.GetString("server.listen_addr")
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewServer(appInstance.GetRecords(), appInstance.GetWatermarks()).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				appInstance.GetLogger().Info("API server listening", zap.String("addr", addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("serve: %w", err)
			case <-ctx.Done():
			}

			appInstance.GetLogger().Info("Shutting down API server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listenAddr, "addr", "", "listen address (default from server.listen_addr)")
	return cmd
}
