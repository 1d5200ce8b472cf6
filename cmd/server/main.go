package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/bubble-merge-backend/internal/config"
	"github.com/DoyleJ11/bubble-merge-backend/internal/httpapi"
	"github.com/DoyleJ11/bubble-merge-backend/internal/hub"
	"github.com/DoyleJ11/bubble-merge-backend/internal/ledger"
	"github.com/DoyleJ11/bubble-merge-backend/internal/lobby"
	"github.com/DoyleJ11/bubble-merge-backend/internal/puzzle"
	"github.com/DoyleJ11/bubble-merge-backend/internal/ws"
)

const (
	releaseVersion  = "0.1.0"
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cobra.CheckErr(config.NewCommand(releaseVersion, serve).Execute())
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openStore(cfg *config.Config, log *zap.Logger) (ledger.Store, error) {
	if cfg.DatabaseDSN == "" {
		log.Info("results ledger is in memory")
		return ledger.NewMemoryStore(), nil
	}
	return ledger.OpenGormStore(cfg.DatabaseDSN)
}

func serve(cmd *cobra.Command, cfg *config.Config) (err error) {
	log, err := newLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	recorder := ledger.NewRecorder(store, log.Named("ledger"))

	h := hub.NewHub(context.Background(),
		hub.WithLobbyOptions(lobby.WithRules(cfg.Rules), lobby.WithLogger(log.Named("lobby"))),
		hub.OnCreate(func(s *hub.Session) {
			attachCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := recorder.Attach(attachCtx, s.Code, s.Lobby); err != nil {
				log.Warn("ledger not attached", zap.String("session", s.Code), zap.Error(err))
			}
		}),
	)

	var gen puzzle.Generator
	if cfg.AIEnabled() {
		gen = puzzle.NewOpenAIGenerator(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel)
	} else {
		log.Info("puzzle generation disabled (no --ai-base-url/--ai-model)")
	}

	handler := httpapi.SetupRoutes(httpapi.Deps{
		Hub:       h,
		Store:     store,
		Rules:     cfg.Rules,
		PublicURL: cfg.PublicURL,
		WS: ws.Deps{
			Generator:      gen,
			Policy:         cfg.ElectionPolicy(),
			Tick:           cfg.Tick,
			OriginPatterns: cfg.OriginPatterns,
			Log:            log.Named("ws"),
		},
		Log: log.Named("http"),
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("election_policy", cfg.Policy))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			h.Shutdown()
			return multierr.Combine(err, recorder.Close(), store.Close())
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	h.Shutdown()
	return multierr.Combine(err, recorder.Close(), store.Close())
}
