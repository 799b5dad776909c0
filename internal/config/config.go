package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env         string          `yaml:"env" validate:"oneof=dev prod test"`
	LogLevel    string          `yaml:"log_level" validate:"oneof=debug info warn error"`
	MetricsAddr string          `yaml:"metrics_addr"`
	LLM         LLMConfig       `yaml:"llm"`
	Cache       CacheConfig     `yaml:"cache"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

type LLMConfig struct {
	Provider string `yaml:"provider" validate:"oneof=openai claude"`
	// APIKey only comes from the environment.
	APIKey         string        `yaml:"-"`
	BaseURL        string        `yaml:"base_url" validate:"required,url"`
	Model          string        `yaml:"model" validate:"required"`
	EmbeddingModel string        `yaml:"embedding_model" validate:"required"`
	Timeout        time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxRetries     int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	RetryWaitMin   time.Duration `yaml:"retry_wait_min" validate:"gt=0"`
	RetryWaitMax   time.Duration `yaml:"retry_wait_max" validate:"gtefield=RetryWaitMin"`
	RateLimit      float64       `yaml:"rate_limit" validate:"gte=0"`
	RateBurst      int           `yaml:"rate_burst" validate:"gte=0"`
	SingleFlight   bool          `yaml:"single_flight"`
}

type CacheConfig struct {
	Backend     string       `yaml:"backend" validate:"oneof=memory lru sqlite file"`
	Dir         string       `yaml:"dir" validate:"required_if=Backend file"`
	DatabaseURL string       `yaml:"database_url" validate:"required_if=Backend sqlite"`
	LRUSize     int          `yaml:"lru_size" validate:"gte=0"`
	SQLite      SQLiteConfig `yaml:"sqlite"`
}

type TelemetryConfig struct {
	Exporter    string `yaml:"exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

const (
	openAIBaseURL = "https://api.openai.com"
	openAIModel   = "gpt-4o-mini"
	claudeBaseURL = "https://api.anthropic.com"
	claudeModel   = "claude-haiku-4-5"
)

func defaults() *Config {
	return &Config{
		Env:      "dev",
		LogLevel: "info",
		LLM: LLMConfig{
			Provider:       "openai",
			BaseURL:        openAIBaseURL,
			Model:          openAIModel,
			EmbeddingModel: "text-embedding-3-small",
			Timeout:        60 * time.Second,
			MaxRetries:     3,
			RetryWaitMin:   500 * time.Millisecond,
			RetryWaitMax:   30 * time.Second,
		},
		Cache: CacheConfig{
			Backend:     "memory",
			Dir:         ".llmcache",
			DatabaseURL: "./llmcache.db",
			LRUSize:     1024,
			SQLite:      defaultSQLite(),
		},
		Telemetry: TelemetryConfig{
			Exporter:    "none",
			ServiceName: "llmcache",
		},
	}
}

// Load reads .env files (the given ones, or ./.env), an optional YAML file
// named by LLMCACHE_CONFIG and then the environment. Later sources win.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("failed to load env files: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := defaults()

	if path := os.Getenv("LLMCACHE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	var p envParser

	c.Env = getEnv("APP_ENV", c.Env)
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)

	c.LLM.Provider = strings.ToLower(getEnv("LLM_PROVIDER", c.LLM.Provider))
	if c.LLM.Provider == "claude" {
		// Settings left at the OpenAI defaults follow the provider.
		if c.LLM.BaseURL == openAIBaseURL {
			c.LLM.BaseURL = claudeBaseURL
		}
		if c.LLM.Model == openAIModel {
			c.LLM.Model = claudeModel
		}
		c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		c.LLM.BaseURL = getEnv("ANTHROPIC_BASE_URL", c.LLM.BaseURL)
	} else {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		c.LLM.BaseURL = getEnv("OPENAI_BASE_URL", c.LLM.BaseURL)
	}
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.EmbeddingModel = getEnv("LLM_EMBEDDING_MODEL", c.LLM.EmbeddingModel)
	c.LLM.Timeout = p.durationOf("LLM_TIMEOUT", c.LLM.Timeout)
	c.LLM.MaxRetries = p.intOf("LLM_MAX_RETRIES", c.LLM.MaxRetries)
	c.LLM.RetryWaitMin = p.durationOf("LLM_RETRY_WAIT_MIN", c.LLM.RetryWaitMin)
	c.LLM.RetryWaitMax = p.durationOf("LLM_RETRY_WAIT_MAX", c.LLM.RetryWaitMax)
	c.LLM.RateLimit = p.floatOf("LLM_RATE_LIMIT", c.LLM.RateLimit)
	c.LLM.RateBurst = p.intOf("LLM_RATE_BURST", c.LLM.RateBurst)
	c.LLM.SingleFlight = p.boolOf("LLM_SINGLE_FLIGHT", c.LLM.SingleFlight)

	c.Cache.Backend = strings.ToLower(getEnv("CACHE_BACKEND", c.Cache.Backend))
	c.Cache.Dir = getEnv("CACHE_DIR", c.Cache.Dir)
	c.Cache.DatabaseURL = getEnv("CACHE_DATABASE_URL", c.Cache.DatabaseURL)
	c.Cache.LRUSize = p.intOf("CACHE_LRU_SIZE", c.Cache.LRUSize)
	c.Cache.SQLite.CacheSizeKB = p.intOf("CACHE_SQLITE_CACHE_KB", c.Cache.SQLite.CacheSizeKB)
	c.Cache.SQLite.WALMode = p.boolOf("CACHE_SQLITE_WAL", c.Cache.SQLite.WALMode)
	c.Cache.SQLite.SyncLevel = strings.ToUpper(getEnv("CACHE_SQLITE_SYNC", c.Cache.SQLite.SyncLevel))
	c.Cache.SQLite.BusyTimeout = p.durationOf("CACHE_SQLITE_BUSY_TIMEOUT", c.Cache.SQLite.BusyTimeout)

	c.Telemetry.Exporter = strings.ToLower(getEnv("OTEL_EXPORTER", c.Telemetry.Exporter))
	c.Telemetry.Endpoint = getEnv("OTEL_ENDPOINT", c.Telemetry.Endpoint)
	c.Telemetry.ServiceName = getEnv("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)

	return p.err()
}

// Validate checks field constraints and the stricter rules for production.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return describeValidation(err)
	}

	if c.Env == "prod" {
		if c.LLM.APIKey == "" {
			return fmt.Errorf("production: %s is required", c.LLM.apiKeyVar())
		}
		if !strings.HasPrefix(c.LLM.BaseURL, "https://") {
			return errors.New("production: the LLM base URL must use https")
		}
	}

	return nil
}

// describeValidation turns validator output into one readable line per
// offending field.
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		msgs = append(msgs, field+" "+ruleMessage(fe))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "url":
		return fmt.Sprintf("must be a URL, got %q", fmt.Sprint(fe.Value()))
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "gtefield":
		return "must not be less than " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// RequireAPIKey is for commands that talk to the service.
func (c *Config) RequireAPIKey() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("%s is not set", c.LLM.apiKeyVar())
	}
	return nil
}

func (c LLMConfig) apiKeyVar() string {
	if c.Provider == "claude" {
		return "ANTHROPIC_API_KEY"
	}
	return "OPENAI_API_KEY"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// envParser collects conversion errors so every bad variable is reported
// at once.
type envParser struct {
	errs []error
}

func (p *envParser) fail(key, value string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (p *envParser) intOf(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return i
}

func (p *envParser) floatOf(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return f
}

func (p *envParser) boolOf(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return b
}

// durationOf accepts Go duration strings or a bare number of seconds.
func (p *envParser) durationOf(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return d
}

func (p *envParser) err() error {
	return errors.Join(p.errs...)
}
