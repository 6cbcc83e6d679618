package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env      string
	Addr     string
	LogLevel string

	DBDSN         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	BackendURL        *url.URL
	BackendTimeout    time.Duration
	BackendAudience   string
	GoogleCredentials string

	APIToken      string
	WebhookSecret string
	StoreSecret   string
	PushAudience  string
	CORSOrigins   []string

	NATSURL     string
	NATSSubject string
	NATSQueue   string

	FCMProjectID   string
	FCMDeviceToken string

	SendRate                float64
	SendBurst               int
	ImportanceDecay         float64
	ImportanceIncrement     float64
	ImportanceDecayInterval time.Duration
	HandledAlertHistory     int
}

func Load() (Config, error) {
	return LoadFromEnv(os.Getenv)
}

// LoadFromEnv reads APP_* variables. When APP_CONFIG_FILE names a YAML
// file its values fill in whatever the environment leaves unset.
func LoadFromEnv(getenv func(string) string) (Config, error) {
	if path := strings.TrimSpace(getenv("APP_CONFIG_FILE")); path != "" {
		file, err := loadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("APP_CONFIG_FILE: %w", err)
		}
		getenv = layered(getenv, file)
	}

	cfg := Config{
		Env:               getenv("APP_ENV"),
		Addr:              getenv("APP_ADDR"),
		LogLevel:          getenv("APP_LOG_LEVEL"),
		DBDSN:             getenv("APP_DB_DSN"),
		RedisAddr:         strings.TrimSpace(getenv("APP_REDIS_ADDR")),
		RedisPassword:     getenv("APP_REDIS_PASSWORD"),
		BackendAudience:   strings.TrimSpace(getenv("APP_BACKEND_AUDIENCE")),
		GoogleCredentials: strings.TrimSpace(getenv("APP_GOOGLE_CREDENTIALS")),
		APIToken:          getenv("APP_API_TOKEN"),
		WebhookSecret:     getenv("APP_WEBHOOK_SECRET"),
		StoreSecret:       getenv("APP_STORE_SECRET"),
		PushAudience:      strings.TrimSpace(getenv("APP_PUSH_AUDIENCE")),
		CORSOrigins:       parseCSV(getenv("APP_CORS_ORIGINS")),
		NATSURL:           strings.TrimSpace(getenv("APP_NATS_URL")),
		NATSSubject:       strings.TrimSpace(getenv("APP_NATS_SUBJECT")),
		NATSQueue:         strings.TrimSpace(getenv("APP_NATS_QUEUE")),
		FCMProjectID:      strings.TrimSpace(getenv("APP_FCM_PROJECT_ID")),
		FCMDeviceToken:    strings.TrimSpace(getenv("APP_FCM_DEVICE_TOKEN")),
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.NATSSubject == "" {
		cfg.NATSSubject = "nudge.push"
	}

	switch cfg.Env {
	case "dev", "prod", "test":
	default:
		return Config{}, errors.New("APP_ENV: must be one of dev, test, prod")
	}

	backendRaw := getenv("APP_BACKEND_URL")
	if backendRaw == "" {
		backendRaw = "http://127.0.0.1:8081"
	}
	parsed, err := url.Parse(backendRaw)
	if err != nil {
		return Config{}, fmt.Errorf("APP_BACKEND_URL: %w", err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return Config{}, errors.New("APP_BACKEND_URL: must be an absolute URL")
	}
	switch parsed.Scheme {
	case "http", "https":
	default:
		return Config{}, errors.New("APP_BACKEND_URL: scheme must be http or https")
	}
	cfg.BackendURL = parsed

	if cfg.RedisDB, err = intVar(getenv, "APP_REDIS_DB", 0, 0); err != nil {
		return Config{}, err
	}
	if cfg.BackendTimeout, err = durationVar(getenv, "APP_BACKEND_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ImportanceDecayInterval, err = durationVar(getenv, "APP_IMPORTANCE_DECAY_INTERVAL", 0); err != nil {
		return Config{}, err
	}
	if cfg.SendBurst, err = intVar(getenv, "APP_SEND_BURST", 5, 1); err != nil {
		return Config{}, err
	}
	if cfg.HandledAlertHistory, err = intVar(getenv, "APP_HANDLED_ALERT_HISTORY", 32, 1); err != nil {
		return Config{}, err
	}
	if cfg.SendRate, err = floatVar(getenv, "APP_SEND_RATE", 1); err != nil {
		return Config{}, err
	}
	if cfg.SendRate <= 0 {
		return Config{}, errors.New("APP_SEND_RATE: must be > 0")
	}
	if cfg.ImportanceDecay, err = floatVar(getenv, "APP_IMPORTANCE_DECAY", 0.9); err != nil {
		return Config{}, err
	}
	if cfg.ImportanceDecay <= 0 || cfg.ImportanceDecay >= 1 {
		return Config{}, errors.New("APP_IMPORTANCE_DECAY: must be between 0 and 1")
	}
	if cfg.ImportanceIncrement, err = floatVar(getenv, "APP_IMPORTANCE_INCREMENT", 1); err != nil {
		return Config{}, err
	}
	if cfg.ImportanceIncrement <= 0 {
		return Config{}, errors.New("APP_IMPORTANCE_INCREMENT: must be > 0")
	}

	if cfg.FCMProjectID != "" && cfg.FCMDeviceToken == "" {
		return Config{}, errors.New("APP_FCM_DEVICE_TOKEN: required when APP_FCM_PROJECT_ID is set")
	}

	if cfg.IsProd() {
		if cfg.DBDSN == "" {
			return Config{}, errors.New("APP_DB_DSN: required in prod")
		}
		if len(cfg.APIToken) < 16 {
			return Config{}, errors.New("APP_API_TOKEN: must be at least 16 bytes in prod")
		}
		if len(cfg.StoreSecret) < 32 {
			return Config{}, errors.New("APP_STORE_SECRET: must be at least 32 bytes in prod")
		}
		if cfg.WebhookSecret == "" && cfg.PushAudience == "" {
			return Config{}, errors.New("APP_WEBHOOK_SECRET: required in prod unless APP_PUSH_AUDIENCE is set")
		}
	}

	return cfg, nil
}

func (c Config) IsProd() bool { return c.Env == "prod" }

// loadFile reads a flat YAML mapping. Keys may be written as APP_ADDR or
// addr; lists are joined with commas.
func loadFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make(map[string]string, len(doc))
	for k, v := range doc {
		key := strings.ToUpper(strings.TrimSpace(k))
		if !strings.HasPrefix(key, "APP_") {
			key = "APP_" + key
		}
		switch val := v.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			out[key] = strings.Join(parts, ",")
		case map[string]any:
			return nil, fmt.Errorf("%s: nested values are not supported", k)
		default:
			out[key] = fmt.Sprint(val)
		}
	}
	return out, nil
}

func layered(getenv func(string) string, file map[string]string) func(string) string {
	return func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return file[key]
	}
}

func intVar(getenv func(string) string, key string, def, min int) (int, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n < min {
		return 0, fmt.Errorf("%s: must be >= %d", key, min)
	}
	return n, nil
}

func floatVar(getenv func(string) string, key string, def float64) (float64, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func durationVar(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}

func parseCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
