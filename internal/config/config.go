// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Contract  ContractConfig  `mapstructure:"contract"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Voting    VotingConfig    `mapstructure:"voting"`
	Indexer   IndexerConfig   `mapstructure:"indexer"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ChainConfig contains EVM node connection configuration
type ChainConfig struct {
	NodeURL        string        `mapstructure:"node_url"`
	ChainID        int64         `mapstructure:"chain_id"`
	BackupNodes    []string      `mapstructure:"backup_nodes"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	ExplorerURL    string        `mapstructure:"explorer_url"`
}

// ContractConfig locates the MaskAuthentication contract
type ContractConfig struct {
	Address     string `mapstructure:"address"`
	DeployBlock uint64 `mapstructure:"deploy_block"`
}

// WalletConfig holds the validator signing key. An empty key means read-only.
type WalletConfig struct {
	PrivateKey string `mapstructure:"private_key"`
}

// DashboardConfig tunes submission fetching
type DashboardConfig struct {
	EventSource        string `mapstructure:"event_source"` // chain, index
	MaxConcurrentReads int    `mapstructure:"max_concurrent_reads"`
	CacheSize          int    `mapstructure:"cache_size"`
	MaxSubmissions     int    `mapstructure:"max_submissions"`
}

// VotingConfig selects the in-flight vote lock backend
type VotingConfig struct {
	LockBackend string        `mapstructure:"lock_backend"` // memory, redis
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	RedisURL    string        `mapstructure:"redis_url"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

// IndexerConfig contains MaskSubmitted log mirroring configuration
type IndexerConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	BatchSize          int           `mapstructure:"batch_size"`
	ConfirmationBlocks int           `mapstructure:"confirmation_blocks"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// AnalysisConfig configures the mock AI analysis
type AnalysisConfig struct {
	Delay time.Duration `mapstructure:"delay"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Host           string        `mapstructure:"host"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	EnableMetrics  bool          `mapstructure:"enable_metrics"`
	EnableHealth   bool          `mapstructure:"enable_health"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Set environment variable prefix
	v.SetEnvPrefix("MASKAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := applyEnvOverrides(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// applyEnvOverrides reads the unprefixed variables used by deployments
func applyEnvOverrides(config *Config) error {
	if nodeURL := os.Getenv("CHAIN_RPC_URL"); nodeURL != "" {
		config.Chain.NodeURL = nodeURL
	}
	if key := os.Getenv("VALIDATOR_PRIVATE_KEY"); key != "" {
		config.Wallet.PrivateKey = key
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.Voting.RedisURL = redisURL
	}
	if block := strings.TrimSpace(os.Getenv("DEPLOY_BLOCK")); block != "" {
		n, err := strconv.ParseUint(block, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid DEPLOY_BLOCK %q: %w", block, err)
		}
		config.Contract.DeployBlock = n
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "maskauth")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Chain defaults (Sepolia)
	v.SetDefault("chain.node_url", "https://eth-sepolia.public.blastapi.io")
	v.SetDefault("chain.chain_id", 11155111)
	v.SetDefault("chain.request_timeout", "30s")
	v.SetDefault("chain.retry_attempts", 3)
	v.SetDefault("chain.retry_delay", "5s")
	v.SetDefault("chain.explorer_url", "https://sepolia.etherscan.io")

	v.SetDefault("contract.address", "0xbcdd5cc1cd0fa804ae1ea14e05922a6222a5bc9f")
	v.SetDefault("contract.deploy_block", 0)

	v.SetDefault("wallet.private_key", "")

	v.SetDefault("dashboard.event_source", "chain")
	v.SetDefault("dashboard.max_concurrent_reads", 8)
	v.SetDefault("dashboard.cache_size", 256)
	v.SetDefault("dashboard.max_submissions", 10000)

	v.SetDefault("voting.lock_backend", "memory")
	v.SetDefault("voting.lock_ttl", "2m")
	v.SetDefault("voting.redis_url", "redis://localhost:6379/0")
	v.SetDefault("voting.key_prefix", "maskauth:vote:")

	// Indexer defaults (Sepolia block time is ~12 seconds)
	v.SetDefault("indexer.enabled", false)
	v.SetDefault("indexer.poll_interval", "15s")
	v.SetDefault("indexer.batch_size", 500)
	v.SetDefault("indexer.confirmation_blocks", 6)

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/maskauth.db")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_time", "15m")

	v.SetDefault("analysis.delay", "1500ms")

	// Server defaults
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// ContractAddress returns the configured contract address
func (c *Config) ContractAddress() common.Address {
	return common.HexToAddress(c.Contract.Address)
}

// UsesIndex reports whether storage is needed by this configuration
func (c *Config) UsesIndex() bool {
	return c.Indexer.Enabled || strings.EqualFold(c.Dashboard.EventSource, "index")
}

// Warnings lists settings that are valid but probably not what the operator meant
func (c *Config) Warnings() []string {
	var warnings []string
	if strings.EqualFold(c.Dashboard.EventSource, "index") && !c.Indexer.Enabled {
		warnings = append(warnings,
			"dashboard reads events from the index but the indexer is disabled; run `maskauth index` to keep it current")
	}
	return warnings
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Chain.NodeURL == "" {
		return fmt.Errorf("chain node URL is required")
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("chain id must be positive")
	}
	if !utils.IsValidAddress(c.Contract.Address) {
		return fmt.Errorf("contract address %q is not a valid address", c.Contract.Address)
	}
	if c.Chain.RequestTimeout <= 0 {
		return fmt.Errorf("chain request timeout must be positive")
	}
	if c.Chain.RetryAttempts <= 0 {
		return fmt.Errorf("chain retry attempts must be positive")
	}
	switch strings.ToLower(c.Dashboard.EventSource) {
	case "chain", "index":
	default:
		return fmt.Errorf("unsupported dashboard event source %q", c.Dashboard.EventSource)
	}
	if c.Dashboard.MaxConcurrentReads <= 0 {
		return fmt.Errorf("dashboard max concurrent reads must be positive")
	}
	if c.Dashboard.CacheSize < 0 {
		return fmt.Errorf("dashboard cache size must not be negative")
	}
	if c.Dashboard.MaxSubmissions <= 0 {
		return fmt.Errorf("dashboard max submissions must be positive")
	}
	switch strings.ToLower(c.Voting.LockBackend) {
	case "memory":
	case "redis":
		if c.Voting.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("unsupported vote lock backend %q", c.Voting.LockBackend)
	}
	if c.UsesIndex() {
		if c.Storage.ConnectionString == "" {
			return fmt.Errorf("storage connection string is required")
		}
		if c.Indexer.PollInterval <= 0 {
			return fmt.Errorf("indexer poll interval must be positive")
		}
		if c.Indexer.BatchSize <= 0 {
			return fmt.Errorf("indexer batch size must be positive")
		}
	}
	return nil
}
