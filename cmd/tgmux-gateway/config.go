package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type appConfig struct {
	Listen string
	Dev    bool

	Redis struct {
		Address  string
		Password string
		DB       int
		Prefix   string
	}

	Pool struct {
		MinSize             int
		MaxSize             int
		AcquireTimeout      time.Duration
		IdleTimeout         time.Duration
		MaintenanceInterval time.Duration
	}

	Session struct {
		TTL            time.Duration
		PendingAuthTTL time.Duration
		SweepInterval  time.Duration
	}

	Crypto struct {
		// KeyHex is the hex-encoded AES key (32, 48, or 64 hex chars).
		KeyHex string
	}

	Token struct {
		Enabled bool
		Method  string
		Secret  string
		Issuer  string
		TTL     time.Duration
	}

	Audit struct {
		// Sink is "none", "stdout", or "kafka".
		Sink    string
		Brokers []string
		Topic   string
	}

	Metrics struct {
		Enabled    bool
		Histograms bool
	}
}

// loadConfig reads tgmux.yaml (working directory or /etc/tgmux) and applies
// TGMUX_* environment overrides. A missing config file is not an error; the
// defaults describe a single-node dev setup.
func loadConfig() (*appConfig, error) {
	v := viper.New()
	v.SetConfigName("tgmux")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tgmux")

	v.SetEnvPrefix("TGMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg appConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("listen", ":8080")
	v.SetDefault("dev", false)

	// Redis
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "")

	// Pool
	v.SetDefault("pool.minsize", 2)
	v.SetDefault("pool.maxsize", 10)
	v.SetDefault("pool.acquiretimeout", 30*time.Second)
	v.SetDefault("pool.idletimeout", 5*time.Minute)
	v.SetDefault("pool.maintenanceinterval", time.Minute)

	// Session
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.pendingauthttl", 10*time.Minute)
	v.SetDefault("session.sweepinterval", 5*time.Minute)

	// Crypto
	v.SetDefault("crypto.keyhex", "")

	// Token
	v.SetDefault("token.enabled", true)
	v.SetDefault("token.method", "hs256")
	v.SetDefault("token.secret", "")
	v.SetDefault("token.issuer", "tgmux")
	v.SetDefault("token.ttl", 15*time.Minute)

	// Audit
	v.SetDefault("audit.sink", "stdout")
	v.SetDefault("audit.brokers", []string{})
	v.SetDefault("audit.topic", "tgmux.audit")

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.histograms", true)
}
