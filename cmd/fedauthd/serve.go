package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	fa "github.com/panyam/fedauth"
	"github.com/panyam/fedauth/config"
	"github.com/panyam/fedauth/oauth2"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sign-in server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger := cfg.NewLogger()
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	users, usersCloser, err := openUserStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer usersCloser.Close()

	sessionStore, sessionCloser, err := openSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer sessionCloser.Close()

	providerConfigs, err := cfg.Providers()
	if err != nil {
		return err
	}
	registry := fa.NewProviderRegistry(fa.NewStateSigner([]byte(cfg.StateSecret)))
	registry.Logger = logger
	if err := oauth2.RegisterAll(ctx, registry, providerConfigs); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	auth := &fa.FedAuth{
		Users:         users,
		Sessions:      fa.NewSessionManager(sessionStore, users, cfg.SessionConfig()),
		Providers:     registry,
		Metrics:       fa.NewMetrics(reg),
		Logger:        logger,
		SecureCookies: cfg.SecureCookies,
		Verifier:      &fa.CredentialVerifier{Users: users, Cost: cfg.BcryptCost},
	}
	auth.EnsureDefaults()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/", auth.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "providers", registry.Names(), "user_store", cfg.UserStore)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
