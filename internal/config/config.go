// Package config loads pharmguard settings from file, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/inodb/pharmguard/internal/explain"
)

// EnvPrefix prefixes environment overrides, e.g. PHARMGUARD_SERVER_ADDR.
const EnvPrefix = "PHARMGUARD"

// FileName is the config file base name looked up in the home directory.
const FileName = ".pharmguard"

// MemoryStore selects an in-memory report store.
const MemoryStore = ":memory:"

// DefaultDrugs is the request whitelist.
var DefaultDrugs = []string{"CODEINE", "WARFARIN", "CLOPIDOGREL", "SIMVASTATIN", "AZATHIOPRINE", "FLUOROURACIL"}

// Config is the typed view of all settings.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Tables   TablesConfig   `mapstructure:"tables"`
	Explain  ExplainConfig  `mapstructure:"explain"`
	Store    StoreConfig    `mapstructure:"store"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// LimitsConfig holds the upload cap and per-client rate limits.
type LimitsConfig struct {
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
	AnalyzePerHour int   `mapstructure:"analyze_per_hour"`
	GlobalPerHour  int   `mapstructure:"global_per_hour"`
	GlobalPerDay   int   `mapstructure:"global_per_day"`
}

// AnalysisConfig holds the drug whitelist and worker count.
type AnalysisConfig struct {
	Drugs   []string `mapstructure:"drugs"`
	Workers int      `mapstructure:"workers"`
}

// TablesConfig points at optional table files. Empty paths use the embedded tables.
type TablesConfig struct {
	PhenotypePath string `mapstructure:"phenotype_path"`
	RulesPath     string `mapstructure:"rules_path"`
}

// ExplainConfig selects and tunes the explanation backend.
type ExplainConfig struct {
	Mode      string       `mapstructure:"mode"`
	Audience  string       `mapstructure:"audience"`
	CacheSize int          `mapstructure:"cache_size"`
	OpenAI    OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig configures the chat-completions client.
type OpenAIConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// StoreConfig locates the report archive. An empty path disables it.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// CORSConfig lists the origins allowed by the HTTP API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LogConfig selects the log level and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers a default for every key. Keys without a default
// are invisible to environment overrides during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 60*time.Second)

	v.SetDefault("limits.max_upload_bytes", 5*1024*1024)
	v.SetDefault("limits.analyze_per_hour", 20)
	v.SetDefault("limits.global_per_hour", 50)
	v.SetDefault("limits.global_per_day", 200)

	v.SetDefault("analysis.drugs", DefaultDrugs)
	v.SetDefault("analysis.workers", 0)

	v.SetDefault("tables.phenotype_path", "")
	v.SetDefault("tables.rules_path", "")

	v.SetDefault("explain.mode", explain.ModeTemplate)
	v.SetDefault("explain.audience", string(explain.Clinician))
	v.SetDefault("explain.cache_size", 256)
	v.SetDefault("explain.openai.api_key", "")
	v.SetDefault("explain.openai.base_url", explain.DefaultOpenAIBaseURL)
	v.SetDefault("explain.openai.model", explain.DefaultOpenAIModel)
	v.SetDefault("explain.openai.temperature", 0.2)
	v.SetDefault("explain.openai.max_tokens", 300)
	v.SetDefault("explain.openai.timeout", 20*time.Second)
	v.SetDefault("explain.openai.requests_per_minute", 60)

	v.SetDefault("store.path", "")
	v.SetDefault("cors.allowed_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Init prepares v: defaults, environment overrides and the config file.
// cfgFile overrides the ~/.pharmguard.yaml lookup. A missing default
// config file is not an error; a missing explicit one is.
func Init(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// DefaultFile returns the path `config set` writes when no file was loaded.
func DefaultFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, FileName+".yaml"), nil
}

// Load unmarshals v into a normalized, validated Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Explain.OpenAI.APIKey == "" {
		cfg.Explain.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	drugs := make([]string, 0, len(c.Analysis.Drugs))
	for _, d := range c.Analysis.Drugs {
		// env overrides arrive as a single comma-separated value
		for _, part := range strings.Split(d, ",") {
			if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
				drugs = append(drugs, part)
			}
		}
	}
	c.Analysis.Drugs = drugs
	c.Explain.Mode = strings.ToLower(strings.TrimSpace(c.Explain.Mode))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must be set")
	}
	if c.Server.RequestTimeout <= 0 {
		return errors.New("server.request_timeout must be positive")
	}
	if c.Limits.MaxUploadBytes <= 0 {
		return errors.New("limits.max_upload_bytes must be positive")
	}
	if c.Limits.AnalyzePerHour <= 0 || c.Limits.GlobalPerHour <= 0 || c.Limits.GlobalPerDay <= 0 {
		return errors.New("limits: request limits must be positive")
	}
	if len(c.Analysis.Drugs) == 0 {
		return errors.New("analysis.drugs must list at least one drug")
	}
	if c.Analysis.Workers < 0 {
		return errors.New("analysis.workers must not be negative")
	}
	switch c.Explain.Mode {
	case explain.ModeTemplate, explain.ModeOpenAI:
	default:
		return fmt.Errorf("explain.mode: unknown mode %q", c.Explain.Mode)
	}
	if _, err := explain.ParseAudience(c.Explain.Audience); err != nil {
		return fmt.Errorf("explain.audience: %w", err)
	}
	if c.Explain.CacheSize < 0 {
		return errors.New("explain.cache_size must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// ExplainerConfig converts the explain settings for explain.New.
func (c *Config) ExplainerConfig() explain.Config {
	o := c.Explain.OpenAI
	return explain.Config{
		Mode:      c.Explain.Mode,
		CacheSize: c.Explain.CacheSize,
		OpenAI: explain.OpenAIConfig{
			APIKey:            o.APIKey,
			BaseURL:           o.BaseURL,
			Model:             o.Model,
			Temperature:       o.Temperature,
			MaxTokens:         o.MaxTokens,
			Timeout:           o.Timeout,
			RequestsPerMinute: o.RequestsPerMinute,
		},
	}
}

// StorePath maps store.path to a DuckDB path. ok is false when the store is disabled.
func (c *Config) StorePath() (path string, ok bool) {
	switch c.Store.Path {
	case "":
		return "", false
	case MemoryStore:
		return "", true
	default:
		return c.Store.Path, true
	}
}
