package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/ember/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/ember/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/ember/backend/internal/config"
	"github.com/MarcoPoloResearchLab/ember/backend/internal/database"
	"github.com/MarcoPoloResearchLab/ember/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/ember/backend/internal/presence"
	"github.com/MarcoPoloResearchLab/ember/backend/internal/relationship"
	"github.com/MarcoPoloResearchLab/ember/backend/internal/server"
	"github.com/MarcoPoloResearchLab/ember/backend/internal/users"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "ember-api",
		Short: "Ember dating backend service",
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
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
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

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "ember-auth",
		Audience:      "ember-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	directory, err := users.NewService(users.ServiceConfig{
		Store:      users.NewGormStore(db),
		IDProvider: users.NewUUIDProvider(),
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if err := directory.Load(); err != nil {
		return err
	}

	graph, err := relationship.NewGraph(relationship.GraphConfig{
		Directory: directory,
		Store:     relationship.NewGormStore(db),
		Clock:     time.Now,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := graph.Load(); err != nil {
		return err
	}

	chats, err := chat.NewStore(chat.StoreConfig{
		Matcher:     graph,
		Persistence: chat.NewGormPersistence(db),
		Clock:       time.Now,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if err := chats.Load(); err != nil {
		return err
	}

	hub := presence.NewHub(presence.HubConfig{Logger: logger})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Users:        directory,
		Graph:        graph,
		Chats:        chats,
		Hub:          hub,
		Logger:       logger,
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
