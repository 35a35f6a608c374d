package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/caucode/backend/internal/auth"
	"github.com/caucode/backend/internal/config"
	"github.com/caucode/backend/internal/database"
	"github.com/caucode/backend/internal/logging"
	"github.com/caucode/backend/internal/ranking"
	"github.com/caucode/backend/internal/server"
	"github.com/caucode/backend/internal/sessions"
	"github.com/caucode/backend/internal/solvedac"
	"github.com/caucode/backend/internal/users"
	"github.com/caucode/backend/internal/verification"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "caucode-api",
		Short: "CAU Code backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("solvedac-base-url", defaults.GetString("solvedac.base_url"), "solved.ac API base URL")
	cmd.PersistentFlags().Int("code-ttl-minutes", defaults.GetInt("verification.code_ttl_minutes"), "Verification code TTL in minutes")
	cmd.PersistentFlags().Int("max-attempts", defaults.GetInt("verification.max_attempts"), "Verification attempts per window")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "solvedac.base_url", "solvedac-base-url")
	bindFlag(cmd, "verification.code_ttl_minutes", "code-ttl-minutes")
	bindFlag(cmd, "verification.max_attempts", "max-attempts")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret:   []byte(appConfig.SigningSecret),
		Issuer:          "caucode-auth",
		Audience:        "caucode-api",
		AccessTokenTTL:  appConfig.AccessTokenTTL,
		RefreshTokenTTL: appConfig.RefreshTokenTTL,
	})

	googleVerifier, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
		Audience: appConfig.GoogleClientID,
		JWKSURL:  appConfig.GoogleJWKSURL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	solvedClient := solvedac.NewClient(solvedac.ClientConfig{
		BaseURL: appConfig.SolvedACBaseURL,
		Timeout: appConfig.SolvedACTimeout,
		Logger:  logger,
	})
	profileLookup := solvedac.NewProfileCache(solvedClient, time.Minute, time.Now)

	usersService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Lookup:   profileLookup,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	// The verifier polls for bio edits, so it must bypass the cache; stale
	// reads would delay verification by up to the cache TTL.
	verificationService, err := verification.NewService(verification.ServiceConfig{
		Database:        db,
		Lookup:          solvedClient,
		Logger:          logger,
		CodeTTL:         appConfig.VerificationCodeTTL,
		MaxAttempts:     appConfig.MaxAttempts,
		AttemptWindow:   appConfig.AttemptWindow,
		ChecksPerMinute: appConfig.ChecksPerMinute,
	})
	if err != nil {
		return err
	}

	rankingService, err := ranking.NewService(ranking.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	sessionStore, err := sessions.NewStore(sessions.StoreConfig{
		Database: db,
		TTL:      appConfig.RefreshTokenTTL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		GoogleVerifier:      googleVerifier,
		TokenIssuer:         tokenIssuer,
		UsersService:        usersService,
		VerificationService: verificationService,
		RankingService:      rankingService,
		SessionStore:        sessionStore,
		Logger:              logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go verificationService.Sweep(signalCtx, appConfig.SweepInterval)
	go sessionStore.Sweep(signalCtx, appConfig.SweepInterval)
	go syncProfiles(signalCtx, usersService, appConfig.ProfileSyncStaleness, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// syncProfiles periodically refreshes the solved.ac snapshot of verified
// users so the leaderboard tracks current ratings.
func syncProfiles(ctx context.Context, usersService *users.Service, staleness time.Duration, logger *zap.Logger) {
	interval := staleness / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			synced, err := usersService.SyncStaleProfiles(ctx, staleness)
			if err != nil {
				logger.Error("profile sync failed", zap.Error(err))
				continue
			}
			if synced > 0 {
				logger.Info("profiles synced", zap.Int("count", synced))
			}
		}
	}
}
