// File: cmd/maskauth/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tribal-authentica/maskauth/internal/catalog"
	"github.com/tribal-authentica/maskauth/internal/config"
	"github.com/tribal-authentica/maskauth/internal/connection"
	"github.com/tribal-authentica/maskauth/internal/contract"
	"github.com/tribal-authentica/maskauth/internal/dashboard"
	"github.com/tribal-authentica/maskauth/internal/indexer"
	"github.com/tribal-authentica/maskauth/internal/metrics"
	"github.com/tribal-authentica/maskauth/internal/server"
	"github.com/tribal-authentica/maskauth/internal/storage"
	"github.com/tribal-authentica/maskauth/internal/voting"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application wires the components together
type Application struct {
	config     *config.Config
	logger     *logrus.Logger
	metrics    *metrics.Manager
	connection *connection.ConnectionManager
	contract   *contract.MaskAuthentication
	storage    storage.Storage
	indexer    *indexer.Indexer
	service    *dashboard.Service
	server     *server.HTTPServer
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		app.Stop()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Debug("Logger initialized")

	for _, warning := range app.config.Warnings() {
		app.logger.Warn(warning)
	}

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Debug("Initializing application components")

	app.metrics = metrics.NewManager()

	if err := app.initializeConnection(); err != nil {
		return fmt.Errorf("failed to initialize connection: %w", err)
	}

	if err := app.initializeContract(); err != nil {
		return fmt.Errorf("failed to initialize contract: %w", err)
	}

	if app.config.UsesIndex() {
		if err := app.initializeStorage(); err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		app.initializeIndexer()
	}

	if err := app.initializeService(); err != nil {
		return fmt.Errorf("failed to initialize dashboard: %w", err)
	}

	app.logger.Debug("All components initialized successfully")
	return nil
}

// initializeConnection dials the configured node
func (app *Application) initializeConnection() error {
	app.connection = connection.NewConnectionManager(&app.config.Chain, app.metrics.GetPrometheusMetrics())

	ctx, cancel := context.WithTimeout(app.ctx, app.config.Chain.RequestTimeout)
	defer cancel()

	if _, err := app.connection.GetClientWithContext(ctx); err != nil {
		return err
	}
	return nil
}

// initializeContract binds the contract and loads the validator key
func (app *Application) initializeContract() error {
	var signer *contract.Signer
	if app.config.Wallet.PrivateKey != "" {
		var err error
		signer, err = contract.NewSigner(app.config.Wallet.PrivateKey, app.config.Chain.ChainID)
		if err != nil {
			return err
		}
		app.logger.WithField("address", signer.Address().Hex()).Info("Validator wallet loaded")
	} else {
		app.logger.Warn("No validator key configured, running read-only")
	}

	client := connection.NewClient(app.connection, app.metrics.GetPrometheusMetrics())

	var err error
	app.contract, err = contract.New(client, app.config.ContractAddress(), app.config.Contract.DeployBlock, signer)
	return err
}

// initializeStorage opens the event index
func (app *Application) initializeStorage() error {
	store, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		return err
	}

	if err := store.Connect(); err != nil {
		return err
	}
	app.storage = storage.NewStorageWithMetrics(store, app.metrics.GetPrometheusMetrics())

	if err := app.storage.Migrate(); err != nil {
		return err
	}
	return nil
}

func (app *Application) initializeIndexer() {
	app.indexer = indexer.New(app.contract, app.storage, &indexer.Config{
		PollInterval:       app.config.Indexer.PollInterval,
		BatchSize:          app.config.Indexer.BatchSize,
		ConfirmationBlocks: app.config.Indexer.ConfirmationBlocks,
		StartBlock:         app.config.Contract.DeployBlock,
	}, app.metrics.GetPrometheusMetrics())
}

// initializeService builds the dashboard service over the chosen event source
func (app *Application) initializeService() error {
	var events dashboard.EventSource = app.contract
	if strings.EqualFold(app.config.Dashboard.EventSource, "index") {
		events = app.storage
	}

	locker, err := voting.NewLocker(app.config.Voting)
	if err != nil {
		return err
	}

	app.service, err = dashboard.NewService(app.contract, events, app.contract, locker, dashboard.Options{
		DeployBlock:        app.config.Contract.DeployBlock,
		MaxConcurrentReads: app.config.Dashboard.MaxConcurrentReads,
		CacheSize:          app.config.Dashboard.CacheSize,
		ExplorerURL:        app.config.Chain.ExplorerURL,
		MaxSubmissions:     uint64(app.config.Dashboard.MaxSubmissions),
	}, app.metrics.GetPrometheusMetrics())
	return err
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	serverCfg := &server.ServerConfig{
		Port:           app.config.Server.Port,
		Host:           app.config.Server.Host,
		ReadTimeout:    app.config.Server.ReadTimeout,
		WriteTimeout:   app.config.Server.WriteTimeout,
		RequestTimeout: app.config.Chain.RequestTimeout,
		EnableMetrics:  app.config.Server.EnableMetrics,
		EnableHealth:   app.config.Server.EnableHealth,
		AllowedOrigins: app.config.Server.AllowedOrigins,
		Version:        AppVersion,
	}

	deps := server.Dependencies{
		Submissions: app.service,
		Catalog:     catalog.NewMarketplace(),
		Analyzer:    catalog.NewAnalyzer(app.config.Analysis.Delay, nil),
		Chain:       app.connection,
	}
	if app.indexer != nil {
		deps.Indexer = app.indexer
	}
	if app.storage != nil {
		deps.Storage = app.storage
	}

	var err error
	app.server, err = server.NewHTTPServer(serverCfg, deps, app.metrics)
	return err
}

// Start starts the HTTP server and, when enabled, the indexer
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting maskauth")

	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	if err := app.server.Start(); err != nil {
		return err
	}

	if app.indexer != nil && app.config.Indexer.Enabled {
		if err := app.indexer.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start indexer: %w", err)
		}
	}

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"node_url":       app.config.Chain.NodeURL,
		"contract":       app.contract.Address().Hex(),
		"event_source":   app.config.Dashboard.EventSource,
	}).Info("maskauth started successfully")

	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.cancel()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.indexer != nil {
		if err := app.indexer.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop indexer")
		}
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	if app.connection != nil {
		if err := app.connection.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close connection")
		}
	}

	return nil
}

// loadConfig loads and validates configuration, applying the --log-level flag
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = viper.GetString("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupApplication loads configuration and builds the application
func setupApplication(cmd *cobra.Command) (*Application, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return NewApplication(cfg)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "maskauth",
	Short:         "Tribal mask authentication dashboard",
	Long:          `Reads, reconciles and votes on MaskAuthentication submissions and serves them over HTTP.`,
	Version:       AppVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// serveCmd runs the HTTP API until interrupted
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setupApplication(cmd)
		if err != nil {
			return err
		}

		signalChan := make(chan os.Signal, 1)
		signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

		if err := app.Start(); err != nil {
			app.Stop()
			return fmt.Errorf("failed to start application: %w", err)
		}

		<-signalChan
		app.logger.Info("Received shutdown signal, stopping application")

		return app.Stop()
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newSubmissionsCmd())
	rootCmd.AddCommand(newSubmitCmd())
	rootCmd.AddCommand(newVoteCmd())
	rootCmd.AddCommand(newIndexCmd())
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(utils.DisplayMessage(err))
	}
}
