package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|prod
	Service   string `yaml:"service"`   // chat-service
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Postgres struct {
	DSN string `yaml:"dsn"`
}

type Redis struct {
	// Addr пустой — fan-out только внутри процесса, без шины
	Addr string `yaml:"addr"`
}

type Auth struct {
	PublicKeyPath string `yaml:"publicKeyPath"`
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
	ClockSkew     string `yaml:"clockSkew"` // duration, default 30s
}

type Chat struct {
	MaxFileSize  int64  `yaml:"maxFileSize"` // байт, лимит вложения после декодирования
	MediaDir     string `yaml:"mediaDir"`
	MediaBaseURL string `yaml:"mediaBaseURL"`
	PingEvery    string `yaml:"pingEvery"` // duration, default 15s
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	Logging  Logging  `yaml:"logging"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Auth     Auth     `yaml:"auth"`
	Chat     Chat     `yaml:"chat"`
}

func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if c.Auth.PublicKeyPath == "" {
		return errors.New("auth.publicKeyPath is required")
	}
	// установка дефолтов, если значения не указаны
	if c.Logging.Service == "" {
		c.Logging.Service = "chat-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	if c.Chat.MaxFileSize <= 0 {
		c.Chat.MaxFileSize = 5 << 20 // 5 MiB
	}
	if c.Chat.MediaDir == "" {
		c.Chat.MediaDir = "./media"
	}
	if c.Chat.MediaBaseURL == "" {
		c.Chat.MediaBaseURL = "/media"
	}
	return nil
}

func (c *Auth) ClockSkewOr(def time.Duration) time.Duration {
	return parseDurationOr(def, c.ClockSkew)
}

func (c *Chat) PingEveryOr(def time.Duration) time.Duration {
	return parseDurationOr(def, c.PingEvery)
}

// helper для парсинга timeout-ов
func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
