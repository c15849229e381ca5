package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	GCP      GCPConfig      `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type ExchangeConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	WebsocketURL  string `mapstructure:"websocket_url"`
	AuthScheme    string `mapstructure:"auth_scheme"` // "hmac" or "jwt"
	QuoteMaxAgeMs int    `mapstructure:"quote_max_age_ms"`
}

type TradingConfig struct {
	CycleIntervalMs int          `mapstructure:"cycle_interval_ms"`
	BuyPriceOffset  string       `mapstructure:"buy_price_offset"`
	PricePrecision  int          `mapstructure:"price_precision"`
	Pairs           []PairConfig `mapstructure:"pairs"`
}

// PairConfig names one (user, currency) pair the scheduler drives. Keys may
// be left empty when GCP secrets are enabled; they are then resolved from
// Secret Manager by user id.
type PairConfig struct {
	UserID    string `mapstructure:"user_id"`
	Currency  string `mapstructure:"currency"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // "postgres" or "memory"
	DSN    string `mapstructure:"dsn"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type GCPConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	UseSecrets      bool   `mapstructure:"use_secrets"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/spotcycle")
	}

	v.SetEnvPrefix("SPOTCYCLE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)

	v.SetDefault("exchange.base_url", "https://api.exchange.example.com")
	v.SetDefault("exchange.websocket_url", "")
	v.SetDefault("exchange.auth_scheme", "hmac")
	v.SetDefault("exchange.quote_max_age_ms", 2000)

	v.SetDefault("trading.cycle_interval_ms", 10000)
	v.SetDefault("trading.buy_price_offset", "0.001")
	v.SetDefault("trading.price_precision", 2)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")
}

func overrideFromEnv(config *Config) {
	if baseURL := os.Getenv("EXCHANGE_BASE_URL"); baseURL != "" {
		config.Exchange.BaseURL = baseURL
	}
	if wsURL := os.Getenv("EXCHANGE_WEBSOCKET_URL"); wsURL != "" {
		config.Exchange.WebsocketURL = wsURL
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}
