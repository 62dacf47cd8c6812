package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	httpMW "github.com/grahamearley/HappyTeacherCloudFunctions/internal/http/middleware"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/observability"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/gcp"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/realtime/bus"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/temporalx"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
)

const (
	BusMemory = "memory"
	BusRedis  = "redis"

	ExecutorInline   = "inline"
	ExecutorTemporal = "temporal"
)

type RedisConfig struct {
	Addr      string        `env:"REDIS_ADDR"`
	Stream    string        `env:"REDIS_STREAM" envDefault:"trigger-events"`
	Group     string        `env:"REDIS_GROUP" envDefault:"triggers"`
	Consumer  string        `env:"REDIS_CONSUMER"`
	ClaimIdle time.Duration `env:"REDIS_CLAIM_IDLE" envDefault:"2m"`
}

type Config struct {
	LogMode  string `env:"LOG_MODE" envDefault:"development"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	DocstoreDriver string `env:"DOCSTORE_DRIVER" envDefault:"sqlite" validate:"oneof=sqlite postgres"`
	DocstoreDSN    string `env:"DOCSTORE_DSN"`

	Bus      string `env:"TRIGGER_BUS" envDefault:"memory" validate:"oneof=memory redis"`
	Redis    RedisConfig
	Executor string `env:"TRIGGER_EXECUTOR" envDefault:"inline" validate:"oneof=inline temporal"`

	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"4" validate:"min=1,max=256"`
	HandlerTimeout    time.Duration `env:"TRIGGER_HANDLER_TIMEOUT" envDefault:"1m"`
	MaxDeliveries     int           `env:"TRIGGER_MAX_ATTEMPTS" envDefault:"5" validate:"min=1"`

	QuiescenceWindow            time.Duration `env:"QUIESCENCE_WINDOW" envDefault:"5m"`
	DeleteHeadersOnSourceDelete bool          `env:"DELETE_HEADERS_ON_SOURCE_DELETE" envDefault:"false"`
	PolicyFile                  string        `env:"TRIGGERS_CONFIG_FILE"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`

	Otel        observability.OtelConfig
	WebhookAuth httpMW.WebhookAuthConfig

	// Resolved by their own packages after the env pass.
	Storage  gcp.ObjectStorageConfig
	Temporal temporalx.Config
	Policy   triggers.Policy
}

// LoadConfig reads the environment, then the optional policy overlay file.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Bus = strings.ToLower(strings.TrimSpace(cfg.Bus))
	cfg.Executor = strings.ToLower(strings.TrimSpace(cfg.Executor))
	cfg.DocstoreDriver = strings.ToLower(strings.TrimSpace(cfg.DocstoreDriver))
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Bus == BusRedis && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return Config{}, errors.New("TRIGGER_BUS=redis requires REDIS_ADDR")
	}
	if cfg.Bus == BusRedis && cfg.HandlerTimeout > 0 && cfg.Redis.ClaimIdle <= cfg.HandlerTimeout {
		return Config{}, fmt.Errorf("REDIS_CLAIM_IDLE (%s) must exceed TRIGGER_HANDLER_TIMEOUT (%s)", cfg.Redis.ClaimIdle, cfg.HandlerTimeout)
	}

	storageCfg, err := gcp.ResolveObjectStorageConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg.Storage = storageCfg

	temporalCfg, err := temporalx.LoadConfig()
	if err != nil {
		return Config{}, err
	}
	cfg.Temporal = temporalCfg
	if cfg.Executor == ExecutorTemporal && !cfg.Temporal.Enabled() {
		return Config{}, errors.New("TRIGGER_EXECUTOR=temporal requires TEMPORAL_ADDRESS")
	}

	cfg.Policy = triggers.Policy{
		QuiescenceWindow:            cfg.QuiescenceWindow,
		DeleteHeadersOnSourceDelete: cfg.DeleteHeadersOnSourceDelete,
	}
	if path := strings.TrimSpace(cfg.PolicyFile); path != "" {
		policy, err := loadPolicyFile(path, cfg.Policy)
		if err != nil {
			return Config{}, err
		}
		cfg.Policy = policy
	}
	if cfg.Policy.QuiescenceWindow <= 0 {
		cfg.Policy.QuiescenceWindow = triggers.DefaultQuiescenceWindow
	}
	return cfg, nil
}

// loadPolicyFile overlays the YAML file onto base; keys absent from the file keep
// their env values.
func loadPolicyFile(path string, base triggers.Policy) (triggers.Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read TRIGGERS_CONFIG_FILE: %w", err)
	}
	var doc struct {
		Recompute triggers.Policy `yaml:"recompute"`
	}
	doc.Recompute = base
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return base, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc.Recompute, nil
}

func (c Config) busConfig() bus.RedisConfig {
	return bus.RedisConfig{
		Addr:          strings.TrimSpace(c.Redis.Addr),
		Stream:        c.Redis.Stream,
		Group:         c.Redis.Group,
		Consumer:      c.Redis.Consumer,
		ClaimIdle:     c.Redis.ClaimIdle,
		MaxDeliveries: int64(c.MaxDeliveries),
	}
}
