package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	applogger "MarketPulse/pkg/logger"
	xutil "MarketPulse/pkg/util"
)

// DefaultSymbols is the tracked NSE basket plus the Nifty 50 and Sensex indices.
var DefaultSymbols = []string{
	"TCS.NS", "INFY.NS", "WIPRO.NS", "HCLTECH.NS",
	"HDFCBANK.NS", "ICICIBANK.NS", "SBIN.NS", "KOTAKBANK.NS",
	"RELIANCE.NS", "ONGC.NS", "NTPC.NS",
	"ITC.NS", "HINDUNILVR.NS", "NESTLEIND.NS",
	"SUNPHARMA.NS", "DRREDDY.NS", "CIPLA.NS",
	"^NSEI",
	"^BSESN",
}

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"4000"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"2s"`
	} `yaml:"server"`
	Logging struct {
		applogger.Config `yaml:",inline"`
		CollectTopic     string        `yaml:"collect_topic"`
		CollectInterval  time.Duration `yaml:"collect_interval" default:"30s"`
		CollectThreshold int           `yaml:"collect_threshold" default:"100"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Scheduler struct {
		Symbols        []string      `yaml:"symbols"`
		Interval       time.Duration `yaml:"interval" default:"60s"`
		Spacing        time.Duration `yaml:"spacing" default:"250ms"`
		FetchTimeout   time.Duration `yaml:"fetch_timeout" default:"10s"`
		CanarySymbol   string        `yaml:"canary_symbol" default:"AAPL"`
		CanaryTimeout  time.Duration `yaml:"canary_timeout" default:"15s"`
		CanaryAttempts int           `yaml:"canary_attempts" default:"1"`
	} `yaml:"scheduler"`
	Hub struct {
		SubscriberBuffer int `yaml:"subscriber_buffer" default:"64"`
	} `yaml:"hub"`
	Stream struct {
		Path         string        `yaml:"path" default:"/ws"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
		PongWait     time.Duration `yaml:"pong_wait" default:"60s"`
		PingPeriod   time.Duration `yaml:"ping_period" default:"50s"`
	} `yaml:"stream"`
	Upstream struct {
		QuoteSearchURL string        `yaml:"search_url" default:"https://query2.finance.yahoo.com/v1/finance/search"`
		Timeout        time.Duration `yaml:"timeout" default:"10s"`
		RateCapacity   float64       `yaml:"rate_capacity" default:"5"`
		RatePerSecond  float64       `yaml:"rate_per_second" default:"2"`
	} `yaml:"upstream"`
	Source struct {
		Mode string `yaml:"mode" default:"upstream"` // upstream | kafka
	} `yaml:"source"`
	Backend struct {
		Type         string        `yaml:"type" default:"none"` // none | kafka | clickhouse
		BufferSize   int           `yaml:"buffer_size" default:"2000"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"1s"`
	} `yaml:"backend"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"marketpulse.quotes"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"1s"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`

			AutoCreateTopics bool `yaml:"auto_create_topics"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"marketpulse-relay"`
			Workers    int           `yaml:"workers" default:"1"`
			BufferSize int           `yaml:"buffer_size" default:"100"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"marketpulse"`
		Table            string        `yaml:"table" default:"quote_updates"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Cache struct {
		MemoryMaxSize int           `yaml:"memory_max_size" default:"1000"`
		QuoteTTL      time.Duration `yaml:"quote_ttl" default:"15s"`
		HistoryTTL    time.Duration `yaml:"history_ttl" default:"5m"`
		SearchTTL     time.Duration `yaml:"search_ttl" default:"10m"`
		Redis         struct {
			Enabled  bool   `yaml:"enabled"`
			Host     string `yaml:"host" default:"localhost"`
			Port     int    `yaml:"port" default:"6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix" default:"marketpulse"`
		} `yaml:"redis"`
	} `yaml:"cache"`
}

// Default returns a config with every default applied and the default symbol set.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	c.Scheduler.Symbols = append([]string(nil), DefaultSymbols...)
	return &c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(c.Scheduler.Symbols) == 0 {
		c.Scheduler.Symbols = append([]string(nil), DefaultSymbols...)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// A .env file in the working directory is loaded first when present.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Scheduler.Symbols = xutil.SplitSymbols(v)
	}
	if v := os.Getenv("WS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WS_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("SOURCE_MODE"); v != "" {
		c.Source.Mode = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Cache.Redis.Enabled = true
		c.Cache.Redis.Host = host
		if ok {
			p, err := strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("REDIS_ADDR: %w", err)
			}
			c.Cache.Redis.Port = p
		}
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Backend.Type {
	case "none", "kafka", "clickhouse":
	default:
		return fmt.Errorf("backend.type must be 'none', 'kafka' or 'clickhouse', got '%s'", c.Backend.Type)
	}
	switch c.Source.Mode {
	case "upstream", "kafka":
	default:
		return fmt.Errorf("source.mode must be 'upstream' or 'kafka', got '%s'", c.Source.Mode)
	}
	if c.Source.Mode == "upstream" && len(c.Scheduler.Symbols) == 0 {
		return fmt.Errorf("scheduler.symbols cannot be empty")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if c.Scheduler.Spacing <= 0 {
		return fmt.Errorf("scheduler.spacing must be positive: an unpaced cycle would flood the upstream")
	}
	if c.Scheduler.CanaryAttempts < 1 {
		return fmt.Errorf("scheduler.canary_attempts must be at least 1")
	}
	if (c.Backend.Type == "kafka" || c.Source.Mode == "kafka") && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers are required when kafka is used")
	}
	if c.Source.Mode == "kafka" && c.Backend.Type == "kafka" {
		return fmt.Errorf("source.mode=kafka cannot republish to backend.type=kafka")
	}
	if c.Hub.SubscriberBuffer < 1 {
		return fmt.Errorf("hub.subscriber_buffer must be at least 1")
	}
	return nil
}
