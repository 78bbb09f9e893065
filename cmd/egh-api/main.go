package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/egh-labs/egh-backend/internal/accounts"
	"github.com/egh-labs/egh-backend/internal/comments"
	"github.com/egh-labs/egh-backend/internal/config"
	"github.com/egh-labs/egh-backend/internal/database"
	"github.com/egh-labs/egh-backend/internal/devices"
	"github.com/egh-labs/egh-backend/internal/journal"
	"github.com/egh-labs/egh-backend/internal/logging"
	"github.com/egh-labs/egh-backend/internal/push"
	"github.com/egh-labs/egh-backend/internal/reflections"
	"github.com/egh-labs/egh-backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "egh-api",
		Short: "EGH journaling backend service",
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
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("apns-host", defaults.GetString("apns.host"), "APNs gateway base URL")
	cmd.PersistentFlags().String("apns-topic", "", "APNs topic (application bundle id)")
	cmd.PersistentFlags().String("apns-key-id", "", "APNs signing key identifier")
	cmd.PersistentFlags().String("apns-team-id", "", "APNs team identifier")
	cmd.PersistentFlags().String("apns-key-path", "", "Path to the APNs signing key (.p8)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "apns.host", "apns-host")
	bindFlag(cmd, "apns.topic", "apns-topic")
	bindFlag(cmd, "apns.key_id", "apns-key-id")
	bindFlag(cmd, "apns.team_id", "apns-team-id")
	bindFlag(cmd, "apns.key_path", "apns-key-path")
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

	accountsService, err := accounts.NewService(accounts.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	journalService, err := journal.NewService(journal.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	reflectionsService, err := reflections.NewService(reflections.ServiceConfig{
		Database:  db,
		Logger:    logger,
		Followees: accountsService,
	})
	if err != nil {
		return err
	}

	commentsService, err := comments.NewService(comments.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	deviceRegistry, err := devices.NewRegistry(devices.RegistryConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	var notifier *push.Notifier
	if appConfig.PushConfigured() {
		tokenSource, err := push.NewTokenSource(push.TokenSourceConfig{
			KeyPEM:    appConfig.APNSKeyPEM,
			KeyBase64: appConfig.APNSKeyBase64,
			KeyPath:   appConfig.APNSKeyPath,
			KeyID:     appConfig.APNSKeyID,
			TeamID:    appConfig.APNSTeamID,
		})
		if err != nil {
			return err
		}
		pushClient, err := push.NewClient(push.ClientConfig{
			Host:    appConfig.APNSHost,
			Topic:   appConfig.APNSTopic,
			Tokens:  tokenSource,
			Timeout: appConfig.APNSPushTimeout,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		notifier, err = push.NewNotifier(push.NotifierConfig{
			Sender:   pushClient,
			Registry: deviceRegistry,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
	} else {
		logger.Warn("push delivery disabled: no APNs key configured")
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Accounts:    accountsService,
		Journal:     journalService,
		Reflections: reflectionsService,
		Comments:    commentsService,
		Devices:     deviceRegistry,
		Notifier:    notifier,
		Logger:      logger,
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
