package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dcarapic/hotmeals-sub000/internal/patterns"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds the ordering client settings
type Config struct {
	APIBaseURL        string        `mapstructure:"API_BASE_URL" validate:"required,url"`
	APIToken          string        `mapstructure:"API_TOKEN"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT" validate:"gt=0"`
	PlaceTimeout      time.Duration `mapstructure:"PLACE_TIMEOUT" validate:"gt=0"`
	BulkheadSize      int           `mapstructure:"BULKHEAD_SIZE" validate:"min=1,max=100"`
	ListenAddr        string        `mapstructure:"LISTEN_ADDR" validate:"required"`
	AMQPURL           string        `mapstructure:"AMQP_URL" validate:"omitempty,url"`
	OrderUpdatesQueue string        `mapstructure:"ORDER_UPDATES_QUEUE" validate:"required_with=AMQPURL"`
	LogLevel          string        `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	StubBackendAddr   string        `mapstructure:"STUB_BACKEND_ADDR"`
}

var keys = []string{
	"API_BASE_URL", "API_TOKEN", "REQUEST_TIMEOUT", "PLACE_TIMEOUT", "BULKHEAD_SIZE",
	"LISTEN_ADDR", "AMQP_URL", "ORDER_UPDATES_QUEUE", "LOG_LEVEL", "STUB_BACKEND_ADDR",
}

// Load reads the configuration from HOTMEALS_* environment variables
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HOTMEALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("API_BASE_URL", "http://localhost:8080")
	v.SetDefault("REQUEST_TIMEOUT", patterns.DefaultTimeout)
	v.SetDefault("PLACE_TIMEOUT", patterns.SlowServiceTimeout)
	v.SetDefault("BULKHEAD_SIZE", 10)
	v.SetDefault("LISTEN_ADDR", "127.0.0.1:8090")
	v.SetDefault("ORDER_UPDATES_QUEUE", "order_updates")
	v.SetDefault("LOG_LEVEL", "info")
	v.AutomaticEnv()

	// AutomaticEnv only covers keys viper already knows about
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
