package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/DoyleJ11/crimecity-live/internal/conn"
	"github.com/DoyleJ11/crimecity-live/internal/notify"
)

const GamePath = "/ws/game/"

type Config struct {
	// ServerURL is the page origin, e.g. "http://localhost:8000".
	ServerURL      string
	CombatID       string
	ReconnectDelay time.Duration
	NotifyCapacity int
	NotifyDuration time.Duration

	Env         string
	LogLevel    string
	Port        int
	DatabaseURL string
}

type yamlConfig struct {
	ServerURL        string `yaml:"server_url"`
	CombatID         string `yaml:"combat_id"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
	NotifyCapacity   int    `yaml:"notify_capacity"`
	NotifyDurationMs int    `yaml:"notify_duration_ms"`
	Env              string `yaml:"env"`
	LogLevel         string `yaml:"log_level"`
	Port             int    `yaml:"port"`
	DatabaseURL      string `yaml:"database_url"`
}

func Default() *Config {
	return &Config{
		ServerURL:      "http://localhost:8000",
		ReconnectDelay: conn.DefaultReconnectDelay,
		NotifyCapacity: notify.DefaultCapacity,
		NotifyDuration: notify.DefaultDuration,
		Env:            "dev",
		LogLevel:       "info",
		Port:           8000,
	}
}

// Load layers defaults, the YAML file at path (skipped when path is empty
// or missing), a .env file in the working directory, and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// .env never overrides variables that are already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	var f yamlConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if f.ServerURL != "" {
		c.ServerURL = f.ServerURL
	}
	if f.CombatID != "" {
		c.CombatID = f.CombatID
	}
	if f.ReconnectDelayMs > 0 {
		c.ReconnectDelay = time.Duration(f.ReconnectDelayMs) * time.Millisecond
	}
	if f.NotifyCapacity > 0 {
		c.NotifyCapacity = f.NotifyCapacity
	}
	if f.NotifyDurationMs > 0 {
		c.NotifyDuration = time.Duration(f.NotifyDurationMs) * time.Millisecond
	}
	if f.Env != "" {
		c.Env = f.Env
	}
	if f.LogLevel != "" {
		c.LogLevel = f.LogLevel
	}
	if f.Port > 0 {
		c.Port = f.Port
	}
	if f.DatabaseURL != "" {
		c.DatabaseURL = f.DatabaseURL
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.ServerURL = getenv("CRIMECITY_SERVER_URL", c.ServerURL)
	c.CombatID = getenv("CRIMECITY_COMBAT_ID", c.CombatID)
	c.Env = getenv("APP_ENV", c.Env)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.DatabaseURL = getenv("DATABASE_URL", c.DatabaseURL)

	var err error
	if c.ReconnectDelay, err = getDuration("CRIMECITY_RECONNECT_DELAY", c.ReconnectDelay); err != nil {
		return err
	}
	if c.NotifyDuration, err = getDuration("CRIMECITY_NOTIFY_DURATION", c.NotifyDuration); err != nil {
		return err
	}
	if c.NotifyCapacity, err = getInt("CRIMECITY_NOTIFY_CAPACITY", c.NotifyCapacity); err != nil {
		return err
	}
	if c.Port, err = getInt("PORT", c.Port); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	if c.NotifyCapacity < 1 {
		return fmt.Errorf("notify capacity must be positive, got %d", c.NotifyCapacity)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got %s", c.ReconnectDelay)
	}
	if _, err := c.WebSocketURL(); err != nil {
		return err
	}
	return nil
}

// WebSocketURL is the game socket endpoint for ServerURL.
func (c *Config) WebSocketURL() (string, error) {
	return conn.WebSocketURL(c.ServerURL, GamePath)
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getDuration accepts a Go duration ("5s") or bare milliseconds ("5000").
func getDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}

func getInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}
