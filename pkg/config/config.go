package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" env:"ENVIRONMENT" default:"development" validate:"required"`

	Log struct {
		Level  string `yaml:"level" env:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" env:"FORMAT" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" env:"OUTPUT" default:"stdout"`
		// Aggregated error lines are published here when non-empty.
		ErrorTopic    string        `yaml:"error_topic" env:"ERROR_TOPIC"`
		ErrorInterval time.Duration `yaml:"error_interval" default:"30s"`
	} `yaml:"log" envPrefix:"LOG_"`

	Server struct {
		Port            int           `yaml:"port" env:"PORT" default:"8080" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		// Forecast requests per second allowed per client, with a burst of RateBurst.
		RateLimit float64 `yaml:"rate_limit" default:"2"`
		RateBurst float64 `yaml:"rate_burst" default:"10"`
	} `yaml:"server" envPrefix:"SERVER_"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" env:"ENABLED" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics" envPrefix:"METRICS_"`

	Kafka struct {
		Brokers      []string `yaml:"brokers" env:"BROKERS" envSeparator:"," default:"[\"localhost:9092\"]" validate:"required,min=1"`
		Topic        string   `yaml:"topic" env:"TOPIC" default:"btc_ohlc" validate:"required"`
		RequiredAcks int      `yaml:"required_acks" default:"1"`
		Compression  string   `yaml:"compression" default:"none"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			BatchSize    int           `yaml:"batch_size" default:"1"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			PollTimeout time.Duration `yaml:"poll_timeout" default:"1s"`
			RetryMax    int           `yaml:"retry_max" default:"3"`
			BackoffMin  time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax  time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic    string        `yaml:"dlq_topic" env:"DLQ_TOPIC"`
			MinBytes    int           `yaml:"min_bytes" default:"1"`
			MaxBytes    int           `yaml:"max_bytes" default:"1048576"`
		} `yaml:"consumer" envPrefix:"CONSUMER_"`
		Groups struct {
			Buffer    Group `yaml:"buffer"`
			Tracker   Group `yaml:"tracker"`
			Predictor Group `yaml:"predictor"`
		} `yaml:"groups"`
	} `yaml:"kafka" envPrefix:"KAFKA_"`

	Source struct {
		Kind           string        `yaml:"kind" env:"KIND" default:"rest" validate:"oneof=rest ws"`
		BaseURL        string        `yaml:"base_url" env:"BASE_URL" default:"https://api.binance.us" validate:"url"`
		StreamURL      string        `yaml:"stream_url" env:"STREAM_URL" default:"wss://stream.binance.us:9443/ws"`
		Symbol         string        `yaml:"symbol" env:"SYMBOL" default:"BTCUSDT" validate:"required"`
		UserAgent      string        `yaml:"user_agent" env:"USER_AGENT" default:"fincast/1.0"`
		Timeout        time.Duration `yaml:"timeout" default:"10s"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		MaxAge         time.Duration `yaml:"max_age" default:"2m"`
	} `yaml:"source" envPrefix:"SOURCE_"`

	Publisher struct {
		Interval time.Duration `yaml:"interval" env:"INTERVAL" default:"60s" validate:"gt=0"`
		Timeout  time.Duration `yaml:"timeout" default:"15s"`
		// Failed ticks kept for resend ahead of the next one. Zero skips them.
		Backlog int `yaml:"backlog" validate:"min=0,max=1440"`
	} `yaml:"publisher" envPrefix:"PUBLISHER_"`

	Buffer struct {
		Path     string        `yaml:"path" env:"PATH" default:"data/btc_ohlc.csv" validate:"required"`
		Layout   string        `yaml:"layout" default:"ticks" validate:"oneof=ticks candles"`
		Interval time.Duration `yaml:"interval" env:"INTERVAL" default:"30m" validate:"gt=0"`
	} `yaml:"buffer" envPrefix:"BUFFER_"`

	Tracker struct {
		Width time.Duration `yaml:"width" default:"30m" validate:"gt=0"`
	} `yaml:"tracker"`

	Forecast struct {
		ModelsDir       string        `yaml:"models_dir" env:"MODELS_DIR" default:"models" validate:"required"`
		Horizon         int           `yaml:"horizon" default:"30" validate:"min=1,max=365"`
		Step            time.Duration `yaml:"step" default:"24h" validate:"gt=0"`
		History         string        `yaml:"history" env:"HISTORY" default:"table" validate:"oneof=table csv clickhouse binance"`
		HistoryPath     string        `yaml:"history_path" env:"HISTORY_PATH" default:"data/btc_daily.csv"`
		ResampleWidth   time.Duration `yaml:"resample_width" default:"24h"`
		ClickHouseTable string        `yaml:"clickhouse_table" default:"btc_daily"`
		KlineInterval   string        `yaml:"kline_interval" default:"1d" validate:"oneof=1m 30m 1h 1d"`
		CacheTTL        time.Duration `yaml:"cache_ttl" default:"5m"`
		Timeout         time.Duration `yaml:"timeout" default:"20s"`
	} `yaml:"forecast" envPrefix:"FORECAST_"`

	ClickHouse struct {
		Host             string        `yaml:"host" env:"HOST" default:"localhost"`
		Port             int           `yaml:"port" env:"PORT" default:"9000"`
		Database         string        `yaml:"database" env:"DATABASE" default:"default"`
		User             string        `yaml:"user" env:"USER" default:"default"`
		Password         string        `yaml:"password" env:"PASSWORD"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse" envPrefix:"CLICKHOUSE_"`

	Cache struct {
		Kind     string `yaml:"kind" env:"KIND" default:"memory" validate:"oneof=memory redis"`
		Addr     string `yaml:"addr" env:"ADDR" default:"localhost:6379"`
		Password string `yaml:"password" env:"PASSWORD"`
		DB       int    `yaml:"db" env:"DB"`
		Prefix   string `yaml:"prefix" default:"fincast:"`
	} `yaml:"cache" envPrefix:"CACHE_"`

	// Components selects which loops run in this process.
	Components struct {
		Publisher bool `yaml:"publisher" env:"PUBLISHER" default:"true"`
		Buffer    bool `yaml:"buffer" env:"BUFFER" default:"true"`
		Tracker   bool `yaml:"tracker" env:"TRACKER" default:"true"`
		Predictor bool `yaml:"predictor" env:"PREDICTOR" default:"true"`
		API       bool `yaml:"api" env:"API" default:"true"`
	} `yaml:"components" envPrefix:"COMPONENTS_"`
}

// Group is one consumer group subscribed to the tick topic.
type Group struct {
	ID              string `yaml:"id" validate:"required"`
	AutoOffsetReset string `yaml:"auto_offset_reset" validate:"oneof=earliest latest"`
}

// SetDefaults fills the consumer groups. creasty/defaults calls it after
// tag defaults are applied.
func (c *Config) SetDefaults() {
	g := &c.Kafka.Groups
	fill(&g.Buffer, "btc_ohlc_group", "earliest")
	fill(&g.Tracker, "btc_fastapi_30min", "latest")
	fill(&g.Predictor, "btc_ohlc_predictor", "latest")
}

func fill(g *Group, id, reset string) {
	if g.ID == "" {
		g.ID = id
	}
	if g.AutoOffsetReset == "" {
		g.AutoOffsetReset = reset
	}
}

// Default returns a config with every default applied.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// LoadWithEnv loads config from YAML and overrides it with environment
// variables prefixed FINCAST_. A .env file next to the process is honoured.
// An empty path means defaults only.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var (
		c   *Config
		err error
	)
	if path == "" {
		c, err = Default()
		if err == nil {
			c.SetDefaults()
		}
	} else {
		c, err = Load(path)
	}
	if err != nil {
		return nil, err
	}

	if err := env.ParseWithOptions(c, env.Options{Prefix: "FINCAST_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

var validate = validator.New()

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	for i, b := range c.Kafka.Brokers {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("kafka.brokers[%d] is empty", i)
		}
	}
	ids := map[string]bool{}
	for _, g := range []Group{c.Kafka.Groups.Buffer, c.Kafka.Groups.Tracker, c.Kafka.Groups.Predictor} {
		if ids[g.ID] {
			return fmt.Errorf("kafka.groups: duplicate group id %q", g.ID)
		}
		ids[g.ID] = true
	}
	if c.Forecast.History == "csv" && c.Forecast.HistoryPath == "" {
		return fmt.Errorf("forecast.history_path is required for csv history")
	}
	if c.Source.Kind == "ws" && c.Source.StreamURL == "" {
		return fmt.Errorf("source.stream_url is required for ws source")
	}
	return nil
}
