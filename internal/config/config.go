package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string
	BaseURL    string

	DB struct {
		DSN string
	}

	Google struct {
		ClientID     string
		ClientSecret string
		RedirectURL  string
	}

	JWT struct {
		Secret string
	}

	Sync struct {
		WebhookRenewalInterval time.Duration
		FallbackInterval       time.Duration
		WebhookLeadTime        time.Duration
		RequestTimeout         time.Duration
		PollPageSize           int64
	}

	DashboardURL      string
	PrometheusEnabled bool
	TrustedProxies    []string
}

// WebhookCallbackURL is the public address Google pushes folder change
// notifications to.
func (c *Config) WebhookCallbackURL() string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/webhooks/google-drive"
}

func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ListenAddr = getenvDefault("APP_LISTEN_ADDR", ":8080")
	cfg.BaseURL = getenvDefault("APP_BASE_URL", "http://localhost:8080")
	cfg.DB.DSN = os.Getenv("APP_DB_DSN")

	if cfg.DB.DSN == "" {
		host := os.Getenv("APP_DB_HOST")
		name := os.Getenv("APP_DB_NAME")
		user := os.Getenv("APP_DB_USER")
		password := os.Getenv("APP_DB_PASSWORD")
		port := getenvDefault("APP_DB_PORT", "5432")
		sslmode := getenvDefault("APP_DB_SSLMODE", "disable")

		if host != "" && name != "" && user != "" && password != "" {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
		}
	}

	cfg.Google.ClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.Google.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.Google.RedirectURL = getenvDefault("GOOGLE_REDIRECT_URL", cfg.BaseURL+"/auth/google/callback")
	cfg.JWT.Secret = os.Getenv("APP_JWT_SECRET")
	cfg.DashboardURL = getenvDefault("APP_DASHBOARD_URL", cfg.BaseURL+"/dashboard")
	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", false)
	cfg.TrustedProxies = getenvList("APP_TRUSTED_PROXIES")

	var err error
	if cfg.Sync.WebhookRenewalInterval, err = getenvDuration("APP_WEBHOOK_RENEWAL_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.Sync.FallbackInterval, err = getenvDuration("APP_FALLBACK_SYNC_INTERVAL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Sync.WebhookLeadTime, err = getenvDuration("APP_WEBHOOK_LEAD_TIME", 2*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Sync.RequestTimeout, err = getenvDuration("APP_REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Sync.PollPageSize, err = getenvInt64("APP_POLL_PAGE_SIZE", 50); err != nil {
		return nil, err
	}

	if cfg.DB.DSN == "" {
		return nil, errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, APP_DB_USER, and APP_DB_PASSWORD)")
	}
	if cfg.Google.ClientID == "" || cfg.Google.ClientSecret == "" {
		return nil, errors.New("google oauth configuration is required: GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET")
	}
	if cfg.JWT.Secret == "" {
		return nil, errors.New("APP_JWT_SECRET is required")
	}
	if len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("APP_JWT_SECRET must be at least 32 characters long (got %d)", len(cfg.JWT.Secret))
	}
	// Drive push channels live ~24h; the renewal job must fire at least once
	// inside the lead-time window before a channel expires.
	if cfg.Sync.WebhookRenewalInterval >= cfg.Sync.WebhookLeadTime {
		return nil, fmt.Errorf("APP_WEBHOOK_RENEWAL_INTERVAL (%s) must be shorter than APP_WEBHOOK_LEAD_TIME (%s)", cfg.Sync.WebhookRenewalInterval, cfg.Sync.WebhookLeadTime)
	}
	if cfg.Sync.PollPageSize < 1 || cfg.Sync.PollPageSize > 1000 {
		return nil, fmt.Errorf("APP_POLL_PAGE_SIZE must be between 1 and 1000 (got %d)", cfg.Sync.PollPageSize)
	}

	if len(cfg.TrustedProxies) == 0 {
		fmt.Println("WARNING: No APP_TRUSTED_PROXIES configured. ClassDrive will trust all proxies - Not recommended for public environments.")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30m or 8h: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive (got %s)", key, d)
	}
	return d, nil
}

func getenvInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}
