package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonathan/levelup/internal/config"
	"github.com/jonathan/levelup/internal/fetch"
	"github.com/jonathan/levelup/internal/llm"
	"github.com/jonathan/levelup/internal/review"
	"github.com/jonathan/levelup/internal/server"
	"github.com/jonathan/levelup/internal/server/middleware"
	"github.com/jonathan/levelup/internal/server/ratelimit"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(a *app) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		Long:  `Start an HTTP server that exposes the curriculum, user progress and repository review endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port == 0 {
				port = a.cfg.Port
			}
			return a.runServe(cmd, port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (default from PORT or 8080)")
	return cmd
}

func (a *app) runServe(cmd *cobra.Command, port int) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, closeStore, err := a.openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	apiKey, err := a.cfg.LLMAPIKey()
	if err != nil {
		return err
	}
	client, err := llm.NewClient(ctx, llm.ConfigFor(a.cfg.Provider()), apiKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	defer client.Close() //nolint:errcheck

	reviewer := review.NewLLMReviewer(
		llm.WithRetry(client, llm.DefaultRetryConfig(), a.logger),
		review.WithLogger(a.logger),
	)
	fetcher := fetch.NewCachedFetcher(
		fetch.NewGitHub(fetch.GitHubConfig{Token: a.cfg.GitHubToken, Logger: a.logger}),
		fetch.CachedFetcherConfig{},
	)

	auth, err := a.tokenValidator()
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Port:       port,
		AdminEmail: a.cfg.AdminEmail,
		RateLimit:  ratelimit.LoadConfig(),
		Logger:     a.logger,
	}, server.Deps{
		Engine:   engine,
		Fetcher:  fetcher,
		Reviewer: reviewer,
		Auth:     auth,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	a.logger.Info("levelup ready",
		zap.Int("port", port),
		zap.String("store", a.cfg.Store),
		zap.String("llm_provider", string(a.cfg.Provider())),
		zap.String("auth_mode", a.cfg.AuthMode),
	)
	return srv.Start(ctx)
}

// tokenValidator picks the bearer token scheme for the configured auth mode.
func (a *app) tokenValidator() (middleware.TokenValidator, error) {
	switch a.cfg.AuthMode {
	case config.AuthJWT:
		jwtCfg, err := config.NewJWTConfig()
		if err != nil {
			return nil, err
		}
		return server.NewJWTService(jwtCfg), nil
	default:
		if a.cfg.FirebaseAPIKey == "" {
			return nil, fmt.Errorf("FIREBASE_API_KEY is required for firebase auth")
		}
		return server.NewFirebaseVerifier(a.cfg.FirebaseAPIKey, "", nil), nil
	}
}
