package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location; JOURNAL_CONFIG overrides it.
var ConfigPath = "config.yaml"

func init() {
	if v := strings.TrimSpace(os.Getenv("JOURNAL_CONFIG")); v != "" {
		ConfigPath = v
	}
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	JWTSecret  string `yaml:"jwtSecret"`
	JWTIssuer  string `yaml:"jwtIssuer"`
	SessionTTL string `yaml:"sessionTTL"`

	ExternalIssuer    string `yaml:"externalIssuer"`
	ExternalJWTSecret string `yaml:"externalJwtSecret"`
	ExternalJWKSURL   string `yaml:"externalJwksURL"`
	ExternalAudience  string `yaml:"externalAudience"`

	RestDBBaseURL    string `yaml:"restdbBaseURL"`
	RestDBAPIKey     string `yaml:"restdbAPIKey"`
	RestDBCollection string `yaml:"restdbCollection"`
	SyncTimeout      string `yaml:"syncTimeout"`
	SyncConcurrency  int    `yaml:"syncConcurrency"`

	AudioStorage   string `yaml:"audioStorage"`
	AudioDir       string `yaml:"audioDir"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	OpenAIKey          string `yaml:"openAIKey"`
	OpenAIBaseURL      string `yaml:"openAIBaseURL"`
	TranscriptionModel string `yaml:"transcriptionModel"`
	MaxUploadMB        int    `yaml:"maxUploadMB"`

	JournalTimezone   string   `yaml:"journalTimezone"`
	AuthRateLimit     int      `yaml:"authRateLimit"`
	AuthRateWindow    string   `yaml:"authRateWindow"`
	ResetTokenTTL     string   `yaml:"resetTokenTTL"`
	ExposeResetTokens bool     `yaml:"exposeResetTokens"`
	CORSOrigins       []string `yaml:"corsOrigins"`
	TrustedProxies    []string `yaml:"trustedProxies"`
}

// Load reads config from path (defaults to ConfigPath), applies environment
// overrides and defaults, then validates.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("PORT", &cfg.Port)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("REDIS_PASSWORD", &cfg.RedisPassword)
	str("JWT_SECRET", &cfg.JWTSecret)
	str("JWT_ISSUER", &cfg.JWTIssuer)
	str("EXTERNAL_JWT_ISSUER", &cfg.ExternalIssuer)
	str("EXTERNAL_JWT_SECRET", &cfg.ExternalJWTSecret)
	str("EXTERNAL_JWKS_URL", &cfg.ExternalJWKSURL)
	str("EXTERNAL_JWT_AUDIENCE", &cfg.ExternalAudience)
	str("RESTDB_BASE_URL", &cfg.RestDBBaseURL)
	str("RESTDB_API_KEY", &cfg.RestDBAPIKey)
	str("RESTDB_COLLECTION", &cfg.RestDBCollection)
	str("JOURNAL_SYNC_TIMEOUT", &cfg.SyncTimeout)
	str("JOURNAL_AUDIO_STORAGE", &cfg.AudioStorage)
	str("JOURNAL_AUDIO_DIR", &cfg.AudioDir)
	str("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	str("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	str("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	str("MINIO_BUCKET", &cfg.MinioBucket)
	str("OPEN_AI_KEY", &cfg.OpenAIKey)
	str("OPENAI_API_KEY", &cfg.OpenAIKey)
	str("OPENAI_BASE_URL", &cfg.OpenAIBaseURL)
	str("JOURNAL_TIMEZONE", &cfg.JournalTimezone)

	if v := os.Getenv("JOURNAL_SYNC_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SyncConcurrency = n
		}
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("JOURNAL_EXPOSE_RESET_TOKENS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ExposeResetTokens = b
		}
	}
	if v := os.Getenv("JOURNAL_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("JOURNAL_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.SessionTTL == "" {
		cfg.SessionTTL = "168h"
	}
	if cfg.RestDBCollection == "" {
		cfg.RestDBCollection = "journalentries"
	}
	if cfg.SyncTimeout == "" {
		cfg.SyncTimeout = "10s"
	}
	if cfg.SyncConcurrency == 0 {
		cfg.SyncConcurrency = 8
	}
	if cfg.AudioStorage == "" {
		cfg.AudioStorage = "file"
	}
	if cfg.AudioDir == "" {
		cfg.AudioDir = "data"
	}
	if cfg.MaxUploadMB == 0 {
		cfg.MaxUploadMB = 25
	}
	if cfg.JournalTimezone == "" {
		cfg.JournalTimezone = "Local"
	}
	if cfg.AuthRateLimit == 0 {
		cfg.AuthRateLimit = 20
	}
	if cfg.AuthRateWindow == "" {
		cfg.AuthRateWindow = "1m"
	}
	if cfg.ResetTokenTTL == "" {
		cfg.ResetTokenTTL = "1h"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if len(strings.TrimSpace(cfg.JWTSecret)) < 16 {
		return errors.New("config: jwtSecret must be at least 16 characters (set in config.yaml or JWT_SECRET)")
	}
	if cfg.ExternalIssuer != "" && cfg.ExternalJWTSecret == "" && cfg.ExternalJWKSURL == "" {
		return errors.New("config: externalIssuer requires externalJwtSecret or externalJwksURL")
	}
	for name, raw := range map[string]string{
		"sessionTTL":     cfg.SessionTTL,
		"syncTimeout":    cfg.SyncTimeout,
		"authRateWindow": cfg.AuthRateWindow,
		"resetTokenTTL":  cfg.ResetTokenTTL,
	} {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("config: %s must be > 0", name)
		}
	}
	if cfg.SyncConcurrency < 0 {
		return errors.New("config: syncConcurrency must be >= 0")
	}
	switch cfg.AudioStorage {
	case "file":
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: audioStorage=minio requires minioEndpoint and minioBucket")
		}
	default:
		return fmt.Errorf("config: audioStorage must be file or minio, got %q", cfg.AudioStorage)
	}
	if cfg.MaxUploadMB < 0 {
		return errors.New("config: maxUploadMB must be >= 0")
	}
	if _, err := time.LoadLocation(cfg.JournalTimezone); err != nil {
		return fmt.Errorf("config: journalTimezone: %w", err)
	}
	return nil
}

// Duration parses a field already checked by validateConfig.
func Duration(raw string) time.Duration {
	d, _ := time.ParseDuration(raw)
	return d
}

// Location returns the journal timezone.
func (c FileConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.JournalTimezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
