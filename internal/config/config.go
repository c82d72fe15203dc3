package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"vanish-drop/internal/ratelimit"
)

type Config struct {
	BotToken          string
	PrimaryOperatorID int64

	Port        int
	GinMode     string
	TLSCertFile string
	TLSKeyFile  string

	// AdminSecret signs admin API tokens. Empty disables the admin API.
	AdminSecret string
	TokenExpiry time.Duration

	RateLimit         ratelimit.Config
	UploadIdleTimeout time.Duration
	BroadcastInterval time.Duration
	RelayMaxMappings  int

	WebhookURL    string
	WebhookSecret string

	LogLevel string
}

// AdminAPIEnabled reports whether the /v1 routes are served.
func (c Config) AdminAPIEnabled() bool { return c.AdminSecret != "" }

// WebhookMode reports whether updates arrive by webhook instead of polling.
func (c Config) WebhookMode() bool { return c.WebhookURL != "" }

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// LoadConfig reads an optional .env file, then the process environment.
// Variables already set in the environment win over the file.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "load .env")
	}
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:              3000,
		GinMode:           "release",
		TokenExpiry:       7 * 24 * time.Hour,
		RateLimit:         ratelimit.DefaultConfig(),
		UploadIdleTimeout: 10 * time.Minute,
		BroadcastInterval: 50 * time.Millisecond,
		RelayMaxMappings:  10000,
		LogLevel:          "info",
	}

	cfg.BotToken = env.Getenv("BOT_TOKEN")
	if cfg.BotToken == "" {
		return Config{}, errors.New("BOT_TOKEN is required")
	}

	raw := env.Getenv("PRIMARY_OPERATOR_ID")
	if raw == "" {
		return Config{}, errors.New("PRIMARY_OPERATOR_ID is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return Config{}, errors.New("invalid PRIMARY_OPERATOR_ID")
	}
	cfg.PrimaryOperatorID = id

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, errors.New("invalid PORT")
		}
		cfg.Port = port
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")
	cfg.AdminSecret = env.Getenv("ADMIN_API_SECRET")
	cfg.WebhookURL = env.Getenv("WEBHOOK_URL")
	cfg.WebhookSecret = env.Getenv("WEBHOOK_SECRET")

	if cfg.WebhookURL != "" && !strings.HasPrefix(cfg.WebhookURL, "https://") {
		return Config{}, errors.New("WEBHOOK_URL must be https")
	}

	seconds := []struct {
		key string
		dst *time.Duration
	}{
		{"TOKEN_EXPIRY_SECONDS", &cfg.TokenExpiry},
		{"RATE_WINDOW_SECONDS", &cfg.RateLimit.Window},
		{"RATE_BLOCK_SECONDS", &cfg.RateLimit.BlockDuration},
		{"UPLOAD_IDLE_TIMEOUT_SECONDS", &cfg.UploadIdleTimeout},
	}
	for _, s := range seconds {
		n, ok, err := positiveInt(env, s.key)
		if err != nil {
			return Config{}, err
		}
		if ok {
			*s.dst = time.Duration(n) * time.Second
		}
	}

	if n, ok, err := positiveInt(env, "RATE_BURST_THRESHOLD"); err != nil {
		return Config{}, err
	} else if ok {
		if n < 2 {
			return Config{}, errors.New("invalid RATE_BURST_THRESHOLD")
		}
		cfg.RateLimit.BurstThreshold = n
	}

	if raw := env.Getenv("BROADCAST_INTERVAL_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			return Config{}, errors.New("invalid BROADCAST_INTERVAL_MS")
		}
		cfg.BroadcastInterval = time.Duration(ms) * time.Millisecond
	}

	if n, ok, err := positiveInt(env, "RELAY_MAX_MAPPINGS"); err != nil {
		return Config{}, err
	} else if ok {
		cfg.RelayMaxMappings = n
	}

	if raw := env.Getenv("LOG_LEVEL"); raw != "" {
		if _, ok := logLevels[strings.ToLower(raw)]; !ok {
			return Config{}, errors.Errorf("invalid LOG_LEVEL %q", raw)
		}
		cfg.LogLevel = strings.ToLower(raw)
	}

	return cfg, nil
}

func positiveInt(env Env, key string) (int, bool, error) {
	raw := env.Getenv(key)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false, errors.Errorf("invalid %s", key)
	}
	return n, true, nil
}

var logLevels = map[string]jww.Threshold{
	"trace": jww.LevelTrace,
	"debug": jww.LevelDebug,
	"info":  jww.LevelInfo,
	"warn":  jww.LevelWarn,
	"error": jww.LevelError,
}

// LogThreshold maps LogLevel to a jwalterweatherman threshold.
func (c Config) LogThreshold() jww.Threshold {
	if t, ok := logLevels[c.LogLevel]; ok {
		return t
	}
	return jww.LevelInfo
}
