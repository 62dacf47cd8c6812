package temporalx

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Address   string `env:"TEMPORAL_ADDRESS"`
	Namespace string `env:"TEMPORAL_NAMESPACE" envDefault:"happyteacher"`
	TaskQueue string `env:"TEMPORAL_TASK_QUEUE" envDefault:"happyteacher-triggers"`

	ClientCertPath string `env:"TEMPORAL_CLIENT_CERT_PATH"`
	ClientKeyPath  string `env:"TEMPORAL_CLIENT_KEY_PATH"`
	ClientCAPath   string `env:"TEMPORAL_CLIENT_CA_PATH"`

	DialTimeout    time.Duration `env:"TEMPORAL_DIAL_TIMEOUT" envDefault:"5s"`
	DialMaxWait    time.Duration `env:"TEMPORAL_DIAL_MAX_WAIT" envDefault:"60s"`
	DialBackoff    time.Duration `env:"TEMPORAL_DIAL_BACKOFF" envDefault:"250ms"`
	DialBackoffMax time.Duration `env:"TEMPORAL_DIAL_BACKOFF_MAX" envDefault:"5s"`

	AutoRegisterNamespace  bool          `env:"TEMPORAL_AUTO_REGISTER_NAMESPACE" envDefault:"false"`
	NamespaceRetentionDays int           `env:"TEMPORAL_NAMESPACE_RETENTION_DAYS" envDefault:"7"`
	NamespaceEnsureTimeout time.Duration `env:"TEMPORAL_NAMESPACE_ENSURE_TIMEOUT" envDefault:"10s"`

	// MaxAttempts bounds activity attempts per trigger event; 0 means unlimited.
	MaxAttempts int `env:"TRIGGER_MAX_ATTEMPTS" envDefault:"5"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("temporal config: %w", err)
	}
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.NamespaceRetentionDays < 1 {
		cfg.NamespaceRetentionDays = 7
	}
	if cfg.NamespaceRetentionDays > 365 {
		cfg.NamespaceRetentionDays = 365
	}
	if cfg.NamespaceEnsureTimeout <= 0 {
		cfg.NamespaceEnsureTimeout = 10 * time.Second
	}
	return cfg, nil
}

func (c Config) Enabled() bool { return c.Address != "" }

func (c Config) mTLS() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}
