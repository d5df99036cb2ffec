// Package config loads the worker configuration: an optional YAML file,
// then environment variable overrides, then struct-tag validation.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"kr-quant-worker/internal/analysis"
	"kr-quant-worker/internal/indicator"
	"kr-quant-worker/internal/pattern"
)

// Config holds all worker configuration.
type Config struct {
	HTTPAddr    string `yaml:"http_addr" validate:"required"`
	MetricsAddr string `yaml:"metrics_addr" validate:"required"`
	LogLevel    string `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	Backend struct {
		BaseURL  string `yaml:"base_url" validate:"required,url"`
		TimeoutS int    `yaml:"timeout_s" validate:"gt=0"`
	} `yaml:"backend"`

	// Redis is disabled when Addr is empty.
	Redis struct {
		Addr      string `yaml:"addr"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db" validate:"gte=0"`
		CacheTTLS int    `yaml:"cache_ttl_s" validate:"gte=0"`
	} `yaml:"redis"`

	// SQLite is disabled when Path is empty.
	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`

	// Notify sinks are each disabled while their fields are empty.
	Notify struct {
		WebhookURL       string `yaml:"webhook_url" validate:"omitempty,url"`
		TelegramBotToken string `yaml:"telegram_bot_token"`
		TelegramChatID   string `yaml:"telegram_chat_id" validate:"required_with=TelegramBotToken"`
	} `yaml:"notify"`

	Analysis AnalysisConfig `yaml:"analysis"`

	Batch struct {
		Enabled   bool     `yaml:"enabled"`
		Cron      string   `yaml:"cron" validate:"required_if=Enabled true"`
		Timezone  string   `yaml:"timezone"`
		Watchlist []string `yaml:"watchlist" validate:"dive,alphanum,max=12"`
		DelayMS   int      `yaml:"delay_ms" validate:"gte=0"`
	} `yaml:"batch"`
}

// AnalysisConfig carries every core parameter. The core still takes them as
// explicit arguments; see Params.
type AnalysisConfig struct {
	DefaultLookbackDays int     `yaml:"default_lookback_days" validate:"gt=0"`
	WindowSize          int     `yaml:"window_size" validate:"gt=0"`
	TopK                int     `yaml:"top_k" validate:"gt=0"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" validate:"gte=-1,lte=1"`
	Workers             int     `yaml:"workers" validate:"gte=1"`
	RSIPeriod           int     `yaml:"rsi_period" validate:"gt=0"`
	MACDFast            int     `yaml:"macd_fast" validate:"gt=0"`
	MACDSlow            int     `yaml:"macd_slow" validate:"gt=0"`
	MACDSignal          int     `yaml:"macd_signal" validate:"gt=0"`
	SMAShort            int     `yaml:"sma_short" validate:"gt=0"`
	SMALong             int     `yaml:"sma_long" validate:"gt=0"`
	EMAPeriod           int     `yaml:"ema_period" validate:"gt=0"`
	BollingerPeriod     int     `yaml:"bollinger_period" validate:"gt=0"`
	BollingerK          float64 `yaml:"bollinger_k" validate:"gte=0"`
}

// Defaults returns the configuration used when neither file nor environment
// sets a value.
func Defaults() *Config {
	cfg := &Config{
		HTTPAddr:    ":8000",
		MetricsAddr: ":9090",
		LogLevel:    "info",
	}
	cfg.Backend.BaseURL = "http://localhost:8080"
	cfg.Backend.TimeoutS = 30
	cfg.Redis.CacheTTLS = 300
	cfg.SQLite.Path = "data/bars.db"

	p := analysis.DefaultParams()
	cfg.Analysis = AnalysisConfig{
		DefaultLookbackDays: p.DefaultLookbackDays,
		WindowSize:          p.Pattern.WindowSize,
		TopK:                p.Pattern.TopK,
		SimilarityThreshold: p.Pattern.Threshold,
		Workers:             p.Pattern.Workers,
		RSIPeriod:           p.Indicators.RSIPeriod,
		MACDFast:            p.Indicators.MACDFast,
		MACDSlow:            p.Indicators.MACDSlow,
		MACDSignal:          p.Indicators.MACDSignal,
		SMAShort:            p.Indicators.SMAShort,
		SMALong:             p.Indicators.SMALong,
		EMAPeriod:           p.Indicators.EMAPeriod,
		BollingerPeriod:     p.Indicators.BollingerPeriod,
		BollingerK:          p.Indicators.BollingerK,
	}

	cfg.Batch.Enabled = true
	cfg.Batch.Cron = "0 0 16 * * MON-FRI"
	cfg.Batch.Timezone = "Asia/Seoul"
	cfg.Batch.DelayMS = 3000
	return cfg
}

// Load reads config from a YAML file, then applies environment variable
// overrides. An empty path falls back to WORKER_CONFIG; a missing file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("WORKER_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if _, err := time.LoadLocation(cfg.Batch.Timezone); err != nil {
		return nil, fmt.Errorf("validate config: batch timezone: %w", err)
	}
	if err := cfg.Params().Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Backend.BaseURL = getEnv("BACKEND_API_URL", cfg.Backend.BaseURL)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.SQLite.Path = getEnv("SQLITE_PATH", cfg.SQLite.Path)
	cfg.Notify.WebhookURL = getEnv("WEBHOOK_URL", cfg.Notify.WebhookURL)
	cfg.Notify.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", cfg.Notify.TelegramBotToken)
	cfg.Notify.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", cfg.Notify.TelegramChatID)

	if v := os.Getenv("BATCH_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("[config] ignoring invalid BATCH_ENABLED: %q", v)
		} else {
			cfg.Batch.Enabled = b
		}
	}
	if v := os.Getenv("WATCHLIST"); v != "" {
		cfg.Batch.Watchlist = ParseList(v)
	}
}

// Params converts the analysis section to core parameters.
func (c *Config) Params() analysis.Params {
	a := c.Analysis
	return analysis.Params{
		Indicators: indicator.Config{
			RSIPeriod:       a.RSIPeriod,
			MACDFast:        a.MACDFast,
			MACDSlow:        a.MACDSlow,
			MACDSignal:      a.MACDSignal,
			SMAShort:        a.SMAShort,
			SMALong:         a.SMALong,
			EMAPeriod:       a.EMAPeriod,
			BollingerPeriod: a.BollingerPeriod,
			BollingerK:      a.BollingerK,
		},
		Pattern: pattern.Config{
			WindowSize: a.WindowSize,
			TopK:       a.TopK,
			Threshold:  a.SimilarityThreshold,
			Horizon:    pattern.DefaultHorizon,
			Workers:    a.Workers,
		},
		DefaultLookbackDays: a.DefaultLookbackDays,
	}
}

// BackendTimeout returns the price API request timeout.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutS) * time.Second
}

// CacheTTL returns the bar cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.CacheTTLS) * time.Second
}

// BatchDelay returns the pause between watchlist symbols.
func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.Batch.DelayMS) * time.Millisecond
}

// ParseList splits a comma-separated list, dropping blanks.
func ParseList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
