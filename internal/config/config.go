package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv    = "FEEDSCRIBE_CONFIG"
	databasePathEnv  = "FEEDSCRIBE_DB_PATH"
	ollamaURLEnv     = "OLLAMA_BASE_URL"
	appBaseURLEnv    = "FEEDSCRIBE_BASE_URL"
	webhookSecretEnv = "WEBHOOK_SECRET"
	smtpPasswordEnv  = "SMTP_PASSWORD"
	logLevelEnv      = "FEEDSCRIBE_LOG_LEVEL"
	workerCountEnv   = "FEEDSCRIBE_WORKERS"
)

// Config holds all settings for the feed processing engine.
type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Ollama struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"ollama"`

	Scheduler struct {
		Workers                int `yaml:"workers"`
		ProcessIntervalMinutes int `yaml:"process_interval_minutes"`
	} `yaml:"scheduler"`

	Webhook struct {
		// ServiceURL is the push-notification service API base. Empty disables
		// webhook registration entirely.
		ServiceURL string `yaml:"service_url"`
		// AppBaseURL is this deployment's public base URL, used to derive the
		// callback endpoint.
		AppBaseURL string `yaml:"app_base_url"`
		Secret     string `yaml:"secret"`
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"webhook"`

	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	} `yaml:"smtp"`

	LogLevel string `yaml:"log_level"`
}

// Default returns a config with sensible defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.Database.Path = "./feedscribe.db"
	cfg.Ollama.BaseURL = "http://localhost:11434"
	cfg.Ollama.Model = "llama3"
	cfg.Scheduler.Workers = 10
	cfg.Scheduler.ProcessIntervalMinutes = 60
	cfg.Webhook.ServiceURL = ""
	cfg.Webhook.ListenAddr = ":8085"
	cfg.SMTP.Port = 587
	cfg.LogLevel = "info"
	return cfg
}

// Load reads YAML configuration from path (or $FEEDSCRIBE_CONFIG when path is
// empty) on top of the defaults, then applies environment overrides. A missing
// file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if cfg.Scheduler.Workers <= 0 {
		cfg.Scheduler.Workers = Default().Scheduler.Workers
	}
	if cfg.Scheduler.ProcessIntervalMinutes <= 0 {
		cfg.Scheduler.ProcessIntervalMinutes = 60
	}
	return cfg, nil
}

// ProcessInterval returns the interval between full processing cycles.
func (c *Config) ProcessInterval() time.Duration {
	return time.Duration(c.Scheduler.ProcessIntervalMinutes) * time.Minute
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(ollamaURLEnv); v != "" {
		c.Ollama.BaseURL = v
	}
	if v := os.Getenv(appBaseURLEnv); v != "" {
		c.Webhook.AppBaseURL = v
	}
	if v := os.Getenv(webhookSecretEnv); v != "" {
		c.Webhook.Secret = v
	}
	if v := os.Getenv(smtpPasswordEnv); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(workerCountEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scheduler.Workers = n
		}
	}
}
