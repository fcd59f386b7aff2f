package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the chat session daemon.
type Config struct {
	AppName string
	AppEnv  string
	AppPort string

	BackendURL    string
	BackendAPIKey string
	RedisURL      string
	NATSURL       string
	CDCSubject    string

	JWTSecret string

	PresenceTimeout      time.Duration
	PresenceExcludeSelf  bool
	TypingDebounce       time.Duration
	TypingTTL            time.Duration
	NotificationPageSize int
	RPCTimeout           time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CHATAPP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "ChatApp Session Daemon")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("cdc.subject", "chatapp.cdc")
	v.SetDefault("presence.timeout", "15s")
	v.SetDefault("presence.exclude_self", false)
	v.SetDefault("typing.debounce", "1500ms")
	v.SetDefault("typing.ttl", "3s")
	v.SetDefault("notifications.page_size", 50)
	v.SetDefault("rpc.timeout", "10s")

	presenceTimeout, err := parseDuration(v.GetString("presence.timeout"), 15*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("invalid presence timeout: %w", err)
	}
	typingDebounce, err := parseDuration(v.GetString("typing.debounce"), 1500*time.Millisecond)
	if err != nil {
		return Config{}, fmt.Errorf("invalid typing debounce: %w", err)
	}
	typingTTL, err := parseDuration(v.GetString("typing.ttl"), 3*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("invalid typing ttl: %w", err)
	}
	rpcTimeout, err := parseDuration(v.GetString("rpc.timeout"), 10*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("invalid rpc timeout: %w", err)
	}

	cfg := Config{
		AppName:              v.GetString("app.name"),
		AppEnv:               v.GetString("app.env"),
		AppPort:              v.GetString("app.port"),
		BackendURL:           v.GetString("backend.url"),
		BackendAPIKey:        v.GetString("backend.api_key"),
		RedisURL:             v.GetString("redis.url"),
		NATSURL:              v.GetString("nats.url"),
		CDCSubject:           v.GetString("cdc.subject"),
		JWTSecret:            v.GetString("jwt.secret"),
		PresenceTimeout:      presenceTimeout,
		PresenceExcludeSelf:  v.GetBool("presence.exclude_self"),
		TypingDebounce:       typingDebounce,
		TypingTTL:            typingTTL,
		NotificationPageSize: v.GetInt("notifications.page_size"),
		RPCTimeout:           rpcTimeout,
	}

	if cfg.BackendURL == "" {
		return Config{}, fmt.Errorf("backend url must be provided")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}
	if cfg.NotificationPageSize <= 0 {
		cfg.NotificationPageSize = 50
	}

	return cfg, nil
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}
