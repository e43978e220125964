// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest):
//  1. Environment variables
//  2. Config file (~/.recall/config.yaml or ./config.yaml)
//  3. Defaults
//
// Validation is fail-fast: Load returns an error before any component
// sees an out-of-range threshold. Sentinel errors support errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidThreshold indicates a similarity threshold outside (0, 1].
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrThresholdOrder indicates merge_high <= ambiguous_low.
	ErrThresholdOrder = errors.New("merge_high must be greater than ambiguous_low")

	// ErrInvalidWindow indicates a non-positive merge time window.
	ErrInvalidWindow = errors.New("invalid merge window")

	// ErrInvalidDimension indicates an embedding dimension out of range.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrMissingAPIKey indicates GEMINI_API_KEY is not set.
	ErrMissingAPIKey = errors.New("missing API key")
)

// DefaultEmbedderModel truncates gemini-embedding-001's native 3072
// dimensions down to the schema's 768 via OutputDimensionality.
const DefaultEmbedderModel = "gemini-embedding-001"

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON.
type Config struct {
	// Model configuration
	ModelName     string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbeddingDim  int    `mapstructure:"embedding_dim" json:"embedding_dim"`

	// Consolidation thresholds and windows
	MergeHigh           float64 `mapstructure:"merge_high" json:"merge_high"`
	AmbiguousLow        float64 `mapstructure:"ambiguous_low" json:"ambiguous_low"`
	GroupThreshold      float64 `mapstructure:"group_threshold" json:"group_threshold"`
	SameChatWindowSec   int64   `mapstructure:"same_chat_window_sec" json:"same_chat_window_sec"`
	DiffChatWindowSec   int64   `mapstructure:"diff_chat_window_sec" json:"diff_chat_window_sec"`
	KSemantic           int     `mapstructure:"k_semantic" json:"k_semantic"`
	KEpisodic           int     `mapstructure:"k_episodic" json:"k_episodic"`
	TopN                int     `mapstructure:"top_n" json:"top_n"`
	ScanLimit           int     `mapstructure:"scan_limit" json:"scan_limit"`
	ConsolidateInterval time.Duration `mapstructure:"consolidate_interval" json:"consolidate_interval"`

	// Collaborator rate limits (requests per second, 0 disables)
	LLMRateLimit   float64 `mapstructure:"llm_rate_limit" json:"llm_rate_limit"`
	EmbedRateLimit float64 `mapstructure:"embed_rate_limit" json:"embed_rate_limit"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP server
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`

	// Tracing (OTLP over HTTP; empty endpoint disables)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
	Environment  string `mapstructure:"environment" json:"environment"`
}

// Load reads configuration with env > file > defaults priority and
// validates it.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".recall")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("config file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedding_dim", 768)

	viper.SetDefault("merge_high", 0.85)
	viper.SetDefault("ambiguous_low", 0.65)
	viper.SetDefault("group_threshold", 0.8)
	viper.SetDefault("same_chat_window_sec", 1800)
	viper.SetDefault("diff_chat_window_sec", 604800)
	viper.SetDefault("k_semantic", 5)
	viper.SetDefault("k_episodic", 5)
	viper.SetDefault("top_n", 10)
	viper.SetDefault("scan_limit", 1000)
	viper.SetDefault("consolidate_interval", "6h")

	viper.SetDefault("llm_rate_limit", 2.0)
	viper.SetDefault("embed_rate_limit", 5.0)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "recall")
	viper.SetDefault("postgres_password", "recall_dev_password")
	viper.SetDefault("postgres_db_name", "recall")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("listen_addr", "127.0.0.1:8080")

	viper.SetDefault("otlp_endpoint", "")
	viper.SetDefault("service_name", "recall")
	viper.SetDefault("environment", "dev")
}

// bindEnvVariables binds runtime overrides. GEMINI_API_KEY is read
// directly by genkit, not via viper; Validate only checks its presence.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: binding %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("model_name", "RECALL_MODEL_NAME")
	mustBind("embedder_model", "RECALL_EMBEDDER_MODEL")
	mustBind("listen_addr", "RECALL_LISTEN_ADDR")
	mustBind("otlp_endpoint", "RECALL_OTLP_ENDPOINT")
	mustBind("environment", "RECALL_ENVIRONMENT")
}

// parseDatabaseURL applies DATABASE_URL on top of the per-field postgres
// settings when set.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if port := u.Port(); port != "" {
		if _, err := fmt.Sscanf(port, "%d", &c.PostgresPort); err != nil {
			return fmt.Errorf("parsing port %q: %w", port, err)
		}
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if name := u.Path; len(name) > 1 {
		c.PostgresDBName = name[1:]
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// Validate checks ranges and required values; fail-fast at startup.
func (c *Config) Validate() error {
	for _, t := range []struct {
		name  string
		value float64
	}{
		{"merge_high", c.MergeHigh},
		{"ambiguous_low", c.AmbiguousLow},
		{"group_threshold", c.GroupThreshold},
	} {
		if t.value <= 0 || t.value > 1 {
			return fmt.Errorf("%w: %s = %v, want (0, 1]", ErrInvalidThreshold, t.name, t.value)
		}
	}
	if c.MergeHigh <= c.AmbiguousLow {
		return fmt.Errorf("%w: %v <= %v", ErrThresholdOrder, c.MergeHigh, c.AmbiguousLow)
	}
	if c.SameChatWindowSec <= 0 || c.DiffChatWindowSec <= 0 {
		return fmt.Errorf("%w: same=%d diff=%d", ErrInvalidWindow, c.SameChatWindowSec, c.DiffChatWindowSec)
	}
	if c.EmbeddingDim < 1 || c.EmbeddingDim > 4096 {
		return fmt.Errorf("%w: %d", ErrInvalidDimension, c.EmbeddingDim)
	}
	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingAPIKey)
	}
	return nil
}

// DatabaseURL renders the postgres connection URL.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   "/" + c.PostgresDBName,
	}
	q := u.Query()
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// maskedValue avoids substring matching of real secrets in logs.
const maskedValue = "████████"

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON masks sensitive fields.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
