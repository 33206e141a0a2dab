package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr             string
	RolesFile              string
	ConsumerConnectTimeout time.Duration
	ConsumerCallTimeout    time.Duration
	TransactionTimeout     time.Duration
	TransactionQueue       int
	AllowPrivateConsumers  bool
	TapBufferSec           int
	CORSOrigins            []string
	APIToken               string
}

func Load() *Config {
	return &Config{
		ListenAddr:             getEnv("LISTEN_ADDR", ":9090"),
		RolesFile:              getEnv("ROLES_FILE", "roles.yaml"),
		ConsumerConnectTimeout: getDuration("CONSUMER_CONNECT_TIMEOUT", 5*time.Second),
		ConsumerCallTimeout:    getDuration("CONSUMER_CALL_TIMEOUT", 2*time.Second),
		TransactionTimeout:     getDuration("TRANSACTION_TIMEOUT", 5*time.Second),
		TransactionQueue:       getInt("TRANSACTION_QUEUE", 64),
		AllowPrivateConsumers:  getBool("ALLOW_PRIVATE_CONSUMERS", true),
		TapBufferSec:           getInt("TAP_BUFFER_SEC", 30),
		CORSOrigins:            strings.Split(getEnv("CORS_ORIGINS", "*"), ","),
		APIToken:               getEnv("API_TOKEN", ""),
	}
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR is empty")
	}
	if c.RolesFile == "" {
		return fmt.Errorf("ROLES_FILE is empty")
	}
	for name, d := range map[string]time.Duration{
		"CONSUMER_CONNECT_TIMEOUT": c.ConsumerConnectTimeout,
		"CONSUMER_CALL_TIMEOUT":    c.ConsumerCallTimeout,
		"TRANSACTION_TIMEOUT":      c.TransactionTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.TransactionQueue <= 0 {
		return fmt.Errorf("TRANSACTION_QUEUE must be positive, got %d", c.TransactionQueue)
	}
	if c.TapBufferSec <= 0 {
		return fmt.Errorf("TAP_BUFFER_SEC must be positive, got %d", c.TapBufferSec)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}
