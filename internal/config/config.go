package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret string

	// Webhook admission
	WebhookSigningSecret string // empty = signature check skipped (dev only)
	WebhookAllowedCIDRs  []string
	WebhookPermissive    bool // dev bypass: loopback always admitted
	RateLimitMax         int
	RateLimitWindow      time.Duration

	// Retry worker
	RetryInterval   time.Duration
	RetryMaxRetries int

	// Push stream
	PingInterval time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:          mustGetenv("DATABASE_URL"),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",

		JWTSecret: mustGetenv("JWT_SECRET"),

		WebhookSigningSecret: getenv("WEBHOOK_SIGNING_SECRET", ""),
		WebhookPermissive:    getenv("WEBHOOK_PERMISSIVE", "false") == "true",
		RateLimitMax:         getenvInt("WEBHOOK_RATE_LIMIT_MAX", 100),
		RateLimitWindow:      getenvDuration("WEBHOOK_RATE_LIMIT_WINDOW", 15*time.Minute),

		RetryInterval:   getenvDuration("RETRY_INTERVAL", 30*time.Second),
		RetryMaxRetries: getenvInt("RETRY_MAX_RETRIES", 3),

		PingInterval: getenvDuration("STREAM_PING_INTERVAL", 25*time.Second),
	}

	cfg.CORSAllowedOrigins = splitList(getenv("CORS_ALLOWED_ORIGINS", ""))
	cfg.WebhookAllowedCIDRs = splitList(getenv("WEBHOOK_ALLOWED_CIDRS", ""))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func mustGetenv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		panic("missing env: " + key)
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
