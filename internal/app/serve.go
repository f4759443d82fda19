package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"registry-service/internal/config"
	"registry-service/internal/platform/logger"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API serving company lookups.

Settings come from, in increasing order of precedence, built-in defaults,
the --config file, REGISTRY_* environment variables and command flags.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, log, nil)
		},
	}

	cmd.Flags().String("address", "", "Address to listen on (default :8080)")
	cmd.Flags().String("store", "", "Store driver: postgres, redis or memory")
	if err := v.BindPFlag("server.address", cmd.Flags().Lookup("address")); err != nil {
		panic(err)
	}
	if err := v.BindPFlag("store.driver", cmd.Flags().Lookup("store")); err != nil {
		panic(err)
	}

	return cmd
}

// serve runs the HTTP server and the tombstone sweeper until ctx is done,
// then shuts the server down gracefully. A nil listener listens on the
// configured address.
func serve(ctx context.Context, cfg *config.Config, log *zap.Logger, ln net.Listener) error {
	c, err := buildComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Error("failed to release resources", zap.Error(err))
		}
	}()

	if ln == nil {
		ln, err = net.Listen("tcp", cfg.Server.Address)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Address, err)
		}
	}

	srv := &http.Server{
		Handler:      c.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorLog:     zap.NewStdLog(log),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening",
			zap.String("address", ln.Addr().String()),
			zap.String("store", cfg.Store.Driver),
			zap.Duration("ttl", cfg.Cache.TTL()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return c.sweeper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		log.Info("server shutdown complete")
		return nil
	})

	return g.Wait()
}
