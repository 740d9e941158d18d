package webapi

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr          = ":8080"
	defaultAllowedOrigin       = "http://localhost:8000"
	defaultSessionCookie       = "riskgate_session"
	defaultSessionCookieMaxAge = 7 * 24 * time.Hour
	defaultFreeCredits         = int64(3)
	defaultMaxUploadBytes      = int64(4 << 20)
	defaultRatePerMinute       = 6
	defaultMinInterval         = time.Second
	defaultHistoryLimit        = 50
)

// Config aggregates runtime settings for the HTTP surface.
type Config struct {
	ListenAddr          string
	AllowedOrigins      []string
	SessionCookieName   string
	SessionCookieMaxAge time.Duration
	CookieSecure        bool
	FreeCredits         int64
	MaxUploadBytes      int64
	RatePerMinute       int
	MinRequestInterval  time.Duration
	HistoryLimit        int
}

// Validate ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if cfg.SessionCookieMaxAge <= 0 {
		cfg.SessionCookieMaxAge = defaultSessionCookieMaxAge
	}
	if cfg.FreeCredits < 0 {
		return fmt.Errorf("free credits must not be negative")
	}
	if cfg.FreeCredits == 0 {
		cfg.FreeCredits = defaultFreeCredits
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = defaultRatePerMinute
	}
	// Zero means default; a negative value disables the spacing check.
	if cfg.MinRequestInterval == 0 {
		cfg.MinRequestInterval = defaultMinInterval
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
