package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Signature timeout bounds. Delegated signatures stay valid for the
// configured window after their timestamp; the window must sit inside
// [30 minutes, 1 week].
const (
	MinSignatureTimeout = 1800 * time.Second
	MaxSignatureTimeout = 604800 * time.Second
)

// Config represents the custody server configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Custody    CustodyConfig    `mapstructure:"custody"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// CustodyConfig contains custody core settings
type CustodyConfig struct {
	// SignatureTimeout is the validity window for delegated signatures,
	// bounded to [MinSignatureTimeout, MaxSignatureTimeout].
	SignatureTimeout time.Duration `mapstructure:"signature_timeout"`
	// CustodyAddress is this service's own address on the token ledger.
	// Withdrawals to it are rejected.
	CustodyAddress string `mapstructure:"custody_address"`
	// TokenContract is the external fungible-token ledger contract address.
	// May be left empty and set once at runtime by the owner.
	TokenContract string `mapstructure:"token_contract"`
	// Owner is the administrator address allowed to change configuration.
	Owner string `mapstructure:"owner"`
	// StoreBackend selects the ledger store implementation: "memory" or "postgres".
	StoreBackend string `mapstructure:"store_backend"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.idle_timeout", "60s")
	viper.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.database", "custody")

	// Custody defaults
	viper.SetDefault("custody.signature_timeout", "1h")
	viper.SetDefault("custody.store_backend", "memory")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_port", 9090)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")
}

func validate(config *Config) error {
	if config.Custody.SignatureTimeout < MinSignatureTimeout ||
		config.Custody.SignatureTimeout > MaxSignatureTimeout {
		return fmt.Errorf("custody.signature_timeout must be within [%s, %s]",
			MinSignatureTimeout, MaxSignatureTimeout)
	}
	if config.Custody.CustodyAddress == "" {
		return fmt.Errorf("custody.custody_address is required")
	}
	if config.Custody.Owner == "" {
		return fmt.Errorf("custody.owner is required")
	}
	switch config.Custody.StoreBackend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("custody.store_backend must be \"memory\" or \"postgres\"")
	}
	if config.Custody.StoreBackend == "postgres" && config.Database.Host == "" {
		return fmt.Errorf("database.host is required for the postgres backend")
	}
	return nil
}

// GetConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
