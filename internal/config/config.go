package config

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`

	GithubToken  string `mapstructure:"GITHUB_TOKEN"`
	GithubAPIURL string `mapstructure:"GITHUB_API_URL"`

	DataDir string `mapstructure:"DATA_DIR"`

	PageSize       int           `mapstructure:"PAGE_SIZE"`
	MaxRetries     int           `mapstructure:"MAX_RETRIES"`
	InitialBackoff time.Duration `mapstructure:"INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `mapstructure:"MAX_BACKOFF"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`

	ESHost     string `mapstructure:"ES_HOST"`
	ESUsername string `mapstructure:"ES_USERNAME"`
	ESPassword string `mapstructure:"ES_PASSWORD"`
	ESAPIKey   string `mapstructure:"ES_API_KEY"`
	ESIndex    string `mapstructure:"ES_INDEX"`

	GroqAPIKey string `mapstructure:"GROQ_API_KEY"`
	GroqModel  string `mapstructure:"GROQ_MODEL"`

	HTTPAddr string `mapstructure:"HTTP_ADDR"`
}

// ProjectsDir is where raw project pages are persisted.
func (c *Config) ProjectsDir() string {
	return filepath.Join(c.DataDir, "raw", "projects")
}

// CommitsDir is where raw commit pages are persisted, one subdirectory per
// repository.
func (c *Config) CommitsDir() string {
	return filepath.Join(c.DataDir, "raw", "commits")
}

// ProcessedDir is where normalized output is written.
func (c *Config) ProcessedDir() string {
	return filepath.Join(c.DataDir, "processed")
}

// LoadConfig reads configuration from a .env file and/or environment
// variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("GITHUB_API_URL", "https://api.github.com")
	viper.SetDefault("DATA_DIR", "data")
	viper.SetDefault("PAGE_SIZE", 100)
	viper.SetDefault("MAX_RETRIES", 5)
	viper.SetDefault("INITIAL_BACKOFF", "1s")
	viper.SetDefault("MAX_BACKOFF", "60s")
	viper.SetDefault("REQUEST_TIMEOUT", "30s")
	viper.SetDefault("RATE_LIMIT_RPS", 0.0)
	viper.SetDefault("ES_HOST", "http://localhost:9200")
	viper.SetDefault("ES_INDEX", "github_projects")
	viper.SetDefault("GROQ_MODEL", "llama-3.3-70b-versatile")
	viper.SetDefault("HTTP_ADDR", ":8080")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// AutomaticEnv does not feed Unmarshal for keys viper has never seen,
	// so keys without defaults need an explicit binding.
	for _, key := range []string{"GITHUB_TOKEN", "GROQ_API_KEY", "ES_USERNAME", "ES_PASSWORD", "ES_API_KEY"} {
		_ = viper.BindEnv(key)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate tuning bounds
	if cfg.PageSize < 1 || cfg.PageSize > 100 {
		return nil, errors.New("PAGE_SIZE must be between 1 and 100")
	}
	if cfg.MaxRetries < 0 {
		return nil, errors.New("MAX_RETRIES must not be negative")
	}
	if cfg.RateLimitRPS < 0 {
		return nil, errors.New("RATE_LIMIT_RPS must not be negative")
	}

	return &cfg, nil
}

// RequireGithubToken validates the GitHub credential, needed only by the
// ingestion pipeline.
func (c *Config) RequireGithubToken() error {
	if c.GithubToken == "" {
		return errors.New("GITHUB_TOKEN is required to run the ingestion pipeline")
	}
	return nil
}

// RequireGroqAPIKey validates the LLM credential, needed only by the
// question-answering service.
func (c *Config) RequireGroqAPIKey() error {
	if c.GroqAPIKey == "" {
		return errors.New("GROQ_API_KEY is required to run the question-answering service")
	}
	return nil
}
