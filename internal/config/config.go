// Package config loads memorytap settings. Defaults come from environment
// variables with the MEMORYTAP_ prefix; an optional YAML file fills in
// anything the environment leaves unset.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/memorytap/internal/llm"
)

// Config holds all configuration settings.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	LLM       LLMConfig       `yaml:"llm"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Insight   InsightConfig   `yaml:"insight"`
	Security  SecurityConfig  `yaml:"security"`
	Backup    BackupConfig    `yaml:"backup"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // default: 7373
	Host string `yaml:"host"` // default: 127.0.0.1

	// RequestsPerSecond and Burst limit each client's API calls. Zero
	// disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	MaxUploadBytes int64 `yaml:"max_upload_bytes"` // default: 25 MiB
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Storage engines.
const (
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
)

// StorageConfig contains database and audio storage configuration.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // sqlite or postgres (default: sqlite)
	DataPath    string `yaml:"data_path"`    // default: ./data
	PostgresDSN string `yaml:"postgres_dsn"` // required for postgres
	AudioDir    string `yaml:"audio_dir"`    // default: <data_path>/audio

	// AudioPublicURL prefixes audio references handed to clients. Required
	// for postgres, which stores audio by URL.
	AudioPublicURL string `yaml:"audio_public_url"`
}

// SQLitePath returns the database file inside DataPath.
func (s StorageConfig) SQLitePath() string {
	return filepath.Join(s.DataPath, "memorytap.db")
}

// LLMConfig contains model provider configuration.
type LLMConfig struct {
	Provider           string        `yaml:"provider"` // groq, openai, anthropic, ollama (default: groq)
	APIKey             string        `yaml:"api_key"`
	BaseURL            string        `yaml:"base_url"`
	Model              string        `yaml:"model"`
	TranscriptionModel string        `yaml:"transcription_model"`
	InsightModel       string        `yaml:"insight_model"` // default: same as Model
	Timeout            time.Duration `yaml:"timeout"`       // default: 60s
	RequestsPerSecond  float64       `yaml:"requests_per_second"`
	Burst              int           `yaml:"burst"`

	// TranscriptionProvider overrides Provider for speech to text, since
	// only OpenAI-compatible providers transcribe.
	TranscriptionProvider string `yaml:"transcription_provider"`
	TranscriptionAPIKey   string `yaml:"transcription_api_key"`
}

// IngestionConfig contains capture pipeline settings.
type IngestionConfig struct {
	MinAudioBytes int `yaml:"min_audio_bytes"` // default: 1000
}

// InsightConfig contains briefing and habit analysis settings.
type InsightConfig struct {
	CacheSize int           `yaml:"cache_size"` // default: 256
	CacheTTL  time.Duration `yaml:"cache_ttl"`  // default: 10m
}

// Security modes.
const (
	SecurityStatic = "static"
	SecurityJWT    = "jwt"
)

// SecurityConfig contains authentication settings.
type SecurityConfig struct {
	Mode      string `yaml:"mode"`       // static or jwt (default: static)
	OwnerID   string `yaml:"owner_id"`   // static mode owner (default: local)
	APIToken  string `yaml:"api_token"`  // static mode bearer token; empty allows any caller
	JWTSecret string `yaml:"jwt_secret"` // jwt mode HS256 secret
	JWTIssuer string `yaml:"jwt_issuer"`
}

// BackupConfig contains SQLite backup configuration.
type BackupConfig struct {
	Enabled          bool          `yaml:"enabled"`  // default: false
	Interval         time.Duration `yaml:"interval"` // default: 24h
	Dir              string        `yaml:"dir"`      // default: ./backups
	Verify           bool          `yaml:"verify"`   // default: true
	RetentionHourly  int           `yaml:"retention_hourly"`
	RetentionDaily   int           `yaml:"retention_daily"`
	RetentionWeekly  int           `yaml:"retention_weekly"`
	RetentionMonthly int           `yaml:"retention_monthly"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // text or json (default: text)
}

// LoadConfig loads configuration from environment variables with defaults.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads the YAML file at path and then applies environment
// variables on top, so an exported variable always wins over the file.
// An empty path behaves like LoadConfig.
func LoadConfigFile(path string) (*Config, error) {
	if path == "" {
		return LoadConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := buildBaseConfig()
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	overlayFile(cfg, &file)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the rest of the program cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if c.Server.RequestsPerSecond < 0 || c.Server.Burst < 0 {
		errs = append(errs, errors.New("server rate limit must not be negative"))
	}

	switch c.Storage.Engine {
	case EngineSQLite:
	case EnginePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres engine requires a DSN"))
		}
		if c.Storage.AudioPublicURL == "" {
			errs = append(errs, errors.New("postgres engine requires an audio public URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage engine %q", c.Storage.Engine))
	}

	switch c.LLM.Provider {
	case llm.ProviderGroq, llm.ProviderOpenAI, llm.ProviderAnthropic, llm.ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("unknown LLM provider %q", c.LLM.Provider))
	}
	switch c.transcriptionProvider() {
	case llm.ProviderGroq, llm.ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("provider %q cannot transcribe audio", c.transcriptionProvider()))
	}
	if c.LLM.RequestsPerSecond < 0 || c.LLM.Burst < 0 {
		errs = append(errs, errors.New("LLM rate limit must not be negative"))
	}

	if c.Ingestion.MinAudioBytes < 0 {
		errs = append(errs, errors.New("min audio bytes must not be negative"))
	}
	if c.Insight.CacheSize < 0 || c.Insight.CacheTTL < 0 {
		errs = append(errs, errors.New("insight cache settings must not be negative"))
	}

	switch c.Security.Mode {
	case SecurityStatic:
		if c.Security.OwnerID == "" {
			errs = append(errs, errors.New("static security mode requires an owner ID"))
		}
	case SecurityJWT:
		if len(c.Security.JWTSecret) < 16 {
			errs = append(errs, errors.New("jwt security mode requires a secret of at least 16 bytes"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown security mode %q", c.Security.Mode))
	}

	if c.Backup.Interval < 0 || c.Backup.RetentionHourly < 0 || c.Backup.RetentionDaily < 0 ||
		c.Backup.RetentionWeekly < 0 || c.Backup.RetentionMonthly < 0 {
		errs = append(errs, errors.New("backup settings must not be negative"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// TextProvider returns the provider settings for memory classification.
func (c *Config) TextProvider() llm.ProviderConfig {
	return llm.ProviderConfig{
		Provider:          c.LLM.Provider,
		APIKey:            c.LLM.APIKey,
		BaseURL:           c.LLM.BaseURL,
		Model:             c.LLM.Model,
		Timeout:           c.LLM.Timeout,
		RequestsPerSecond: c.LLM.RequestsPerSecond,
		Burst:             c.LLM.Burst,
	}
}

// InsightProvider returns the provider settings for briefings and habit
// analysis.
func (c *Config) InsightProvider() llm.ProviderConfig {
	p := c.TextProvider()
	if c.LLM.InsightModel != "" {
		p.Model = c.LLM.InsightModel
	}
	return p
}

// TranscriptionProviderConfig returns the provider settings for speech to
// text.
func (c *Config) TranscriptionProviderConfig() llm.ProviderConfig {
	p := llm.ProviderConfig{
		Provider:           c.transcriptionProvider(),
		APIKey:             c.LLM.APIKey,
		TranscriptionModel: c.LLM.TranscriptionModel,
		Timeout:            c.LLM.Timeout,
		RequestsPerSecond:  c.LLM.RequestsPerSecond,
		Burst:              c.LLM.Burst,
	}
	if c.LLM.TranscriptionProvider == "" {
		p.BaseURL = c.LLM.BaseURL
	}
	if c.LLM.TranscriptionAPIKey != "" {
		p.APIKey = c.LLM.TranscriptionAPIKey
	}
	return p
}

func (c *Config) transcriptionProvider() string {
	if c.LLM.TranscriptionProvider != "" {
		return c.LLM.TranscriptionProvider
	}
	return c.LLM.Provider
}

// buildBaseConfig constructs a Config from environment variables and defaults.
func buildBaseConfig() *Config {
	dataPath := getEnv("MEMORYTAP_DATA_PATH", "./data")
	return &Config{
		Server: ServerConfig{
			Port:              getEnvInt("MEMORYTAP_PORT", 7373),
			Host:              getEnv("MEMORYTAP_HOST", "127.0.0.1"),
			RequestsPerSecond: getEnvFloat("MEMORYTAP_RATE_LIMIT", 10),
			Burst:             getEnvInt("MEMORYTAP_RATE_BURST", 20),
			MaxUploadBytes:    int64(getEnvInt("MEMORYTAP_MAX_UPLOAD_BYTES", 25<<20)),
		},
		Storage: StorageConfig{
			Engine:         getEnv("MEMORYTAP_STORAGE_ENGINE", EngineSQLite),
			DataPath:       dataPath,
			PostgresDSN:    getEnv("MEMORYTAP_POSTGRES_DSN", ""),
			AudioDir:       getEnv("MEMORYTAP_AUDIO_DIR", filepath.Join(dataPath, "audio")),
			AudioPublicURL: getEnv("MEMORYTAP_AUDIO_PUBLIC_URL", ""),
		},
		LLM: LLMConfig{
			Provider:              getEnv("MEMORYTAP_LLM_PROVIDER", llm.ProviderGroq),
			APIKey:                getEnv("MEMORYTAP_LLM_API_KEY", ""),
			BaseURL:               getEnv("MEMORYTAP_LLM_BASE_URL", ""),
			Model:                 getEnv("MEMORYTAP_LLM_MODEL", ""),
			TranscriptionModel:    getEnv("MEMORYTAP_TRANSCRIPTION_MODEL", ""),
			InsightModel:          getEnv("MEMORYTAP_INSIGHT_MODEL", ""),
			Timeout:               getEnvDuration("MEMORYTAP_LLM_TIMEOUT", 60*time.Second),
			RequestsPerSecond:     getEnvFloat("MEMORYTAP_LLM_RATE_LIMIT", 0),
			Burst:                 getEnvInt("MEMORYTAP_LLM_RATE_BURST", 0),
			TranscriptionProvider: getEnv("MEMORYTAP_TRANSCRIPTION_PROVIDER", ""),
			TranscriptionAPIKey:   getEnv("MEMORYTAP_TRANSCRIPTION_API_KEY", ""),
		},
		Ingestion: IngestionConfig{
			MinAudioBytes: getEnvInt("MEMORYTAP_MIN_AUDIO_BYTES", 1000),
		},
		Insight: InsightConfig{
			CacheSize: getEnvInt("MEMORYTAP_INSIGHT_CACHE_SIZE", 256),
			CacheTTL:  getEnvDuration("MEMORYTAP_INSIGHT_CACHE_TTL", 10*time.Minute),
		},
		Security: SecurityConfig{
			Mode:      getEnv("MEMORYTAP_SECURITY_MODE", SecurityStatic),
			OwnerID:   getEnv("MEMORYTAP_OWNER_ID", "local"),
			APIToken:  getEnv("MEMORYTAP_API_TOKEN", ""),
			JWTSecret: getEnv("MEMORYTAP_JWT_SECRET", ""),
			JWTIssuer: getEnv("MEMORYTAP_JWT_ISSUER", "memorytap"),
		},
		Backup: BackupConfig{
			Enabled:          getEnvBool("MEMORYTAP_BACKUP_ENABLED", false),
			Interval:         getEnvDuration("MEMORYTAP_BACKUP_INTERVAL", 24*time.Hour),
			Dir:              getEnv("MEMORYTAP_BACKUP_DIR", "./backups"),
			Verify:           getEnvBool("MEMORYTAP_BACKUP_VERIFY", true),
			RetentionHourly:  getEnvInt("MEMORYTAP_BACKUP_RETENTION_HOURLY", 24),
			RetentionDaily:   getEnvInt("MEMORYTAP_BACKUP_RETENTION_DAILY", 7),
			RetentionWeekly:  getEnvInt("MEMORYTAP_BACKUP_RETENTION_WEEKLY", 4),
			RetentionMonthly: getEnvInt("MEMORYTAP_BACKUP_RETENTION_MONTHLY", 12),
		},
		Log: LogConfig{
			Level:  getEnv("MEMORYTAP_LOG_LEVEL", "info"),
			Format: getEnv("MEMORYTAP_LOG_FORMAT", "text"),
		},
	}
}

// overlayFile copies values from the file into cfg wherever the matching
// environment variable is unset.
func overlayFile(cfg *Config, f *Config) {
	setString := func(env string, dst *string, v string) {
		if v != "" && os.Getenv(env) == "" {
			*dst = v
		}
	}
	setInt := func(env string, dst *int, v int) {
		if v != 0 && os.Getenv(env) == "" {
			*dst = v
		}
	}
	setFloat := func(env string, dst *float64, v float64) {
		if v != 0 && os.Getenv(env) == "" {
			*dst = v
		}
	}
	setDuration := func(env string, dst *time.Duration, v time.Duration) {
		if v != 0 && os.Getenv(env) == "" {
			*dst = v
		}
	}

	setInt("MEMORYTAP_PORT", &cfg.Server.Port, f.Server.Port)
	setString("MEMORYTAP_HOST", &cfg.Server.Host, f.Server.Host)
	setFloat("MEMORYTAP_RATE_LIMIT", &cfg.Server.RequestsPerSecond, f.Server.RequestsPerSecond)
	setInt("MEMORYTAP_RATE_BURST", &cfg.Server.Burst, f.Server.Burst)
	if f.Server.MaxUploadBytes != 0 && os.Getenv("MEMORYTAP_MAX_UPLOAD_BYTES") == "" {
		cfg.Server.MaxUploadBytes = f.Server.MaxUploadBytes
	}

	setString("MEMORYTAP_STORAGE_ENGINE", &cfg.Storage.Engine, f.Storage.Engine)
	if f.Storage.DataPath != "" && os.Getenv("MEMORYTAP_DATA_PATH") == "" {
		cfg.Storage.DataPath = f.Storage.DataPath
		if os.Getenv("MEMORYTAP_AUDIO_DIR") == "" {
			cfg.Storage.AudioDir = filepath.Join(f.Storage.DataPath, "audio")
		}
	}
	setString("MEMORYTAP_POSTGRES_DSN", &cfg.Storage.PostgresDSN, f.Storage.PostgresDSN)
	setString("MEMORYTAP_AUDIO_DIR", &cfg.Storage.AudioDir, f.Storage.AudioDir)
	setString("MEMORYTAP_AUDIO_PUBLIC_URL", &cfg.Storage.AudioPublicURL, f.Storage.AudioPublicURL)

	setString("MEMORYTAP_LLM_PROVIDER", &cfg.LLM.Provider, f.LLM.Provider)
	setString("MEMORYTAP_LLM_API_KEY", &cfg.LLM.APIKey, f.LLM.APIKey)
	setString("MEMORYTAP_LLM_BASE_URL", &cfg.LLM.BaseURL, f.LLM.BaseURL)
	setString("MEMORYTAP_LLM_MODEL", &cfg.LLM.Model, f.LLM.Model)
	setString("MEMORYTAP_TRANSCRIPTION_MODEL", &cfg.LLM.TranscriptionModel, f.LLM.TranscriptionModel)
	setString("MEMORYTAP_INSIGHT_MODEL", &cfg.LLM.InsightModel, f.LLM.InsightModel)
	setDuration("MEMORYTAP_LLM_TIMEOUT", &cfg.LLM.Timeout, f.LLM.Timeout)
	setFloat("MEMORYTAP_LLM_RATE_LIMIT", &cfg.LLM.RequestsPerSecond, f.LLM.RequestsPerSecond)
	setInt("MEMORYTAP_LLM_RATE_BURST", &cfg.LLM.Burst, f.LLM.Burst)
	setString("MEMORYTAP_TRANSCRIPTION_PROVIDER", &cfg.LLM.TranscriptionProvider, f.LLM.TranscriptionProvider)
	setString("MEMORYTAP_TRANSCRIPTION_API_KEY", &cfg.LLM.TranscriptionAPIKey, f.LLM.TranscriptionAPIKey)

	setInt("MEMORYTAP_MIN_AUDIO_BYTES", &cfg.Ingestion.MinAudioBytes, f.Ingestion.MinAudioBytes)
	setInt("MEMORYTAP_INSIGHT_CACHE_SIZE", &cfg.Insight.CacheSize, f.Insight.CacheSize)
	setDuration("MEMORYTAP_INSIGHT_CACHE_TTL", &cfg.Insight.CacheTTL, f.Insight.CacheTTL)

	setString("MEMORYTAP_SECURITY_MODE", &cfg.Security.Mode, f.Security.Mode)
	setString("MEMORYTAP_OWNER_ID", &cfg.Security.OwnerID, f.Security.OwnerID)
	setString("MEMORYTAP_API_TOKEN", &cfg.Security.APIToken, f.Security.APIToken)
	setString("MEMORYTAP_JWT_SECRET", &cfg.Security.JWTSecret, f.Security.JWTSecret)
	setString("MEMORYTAP_JWT_ISSUER", &cfg.Security.JWTIssuer, f.Security.JWTIssuer)

	// Booleans cannot tell "false" from "unset" in YAML, so the file can
	// only switch backups on.
	if f.Backup.Enabled && os.Getenv("MEMORYTAP_BACKUP_ENABLED") == "" {
		cfg.Backup.Enabled = true
	}
	setDuration("MEMORYTAP_BACKUP_INTERVAL", &cfg.Backup.Interval, f.Backup.Interval)
	setString("MEMORYTAP_BACKUP_DIR", &cfg.Backup.Dir, f.Backup.Dir)
	setInt("MEMORYTAP_BACKUP_RETENTION_HOURLY", &cfg.Backup.RetentionHourly, f.Backup.RetentionHourly)
	setInt("MEMORYTAP_BACKUP_RETENTION_DAILY", &cfg.Backup.RetentionDaily, f.Backup.RetentionDaily)
	setInt("MEMORYTAP_BACKUP_RETENTION_WEEKLY", &cfg.Backup.RetentionWeekly, f.Backup.RetentionWeekly)
	setInt("MEMORYTAP_BACKUP_RETENTION_MONTHLY", &cfg.Backup.RetentionMonthly, f.Backup.RetentionMonthly)

	setString("MEMORYTAP_LOG_LEVEL", &cfg.Log.Level, f.Log.Level)
	setString("MEMORYTAP_LOG_FORMAT", &cfg.Log.Format, f.Log.Format)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value when it is unset or unparsable.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool recognizes true/1/yes and false/0/no in any case. Anything
// else returns the default.
func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultValue
}
