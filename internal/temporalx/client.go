package temporalx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	temporalsdkclient "go.temporal.io/sdk/client"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
)

// NewClient dials Temporal, retrying until DialMaxWait. It returns nil, nil
// when no address is configured.
func NewClient(log *logger.Logger, cfg Config) (temporalsdkclient.Client, error) {
	if !cfg.Enabled() {
		if log != nil {
			log.Warn("TEMPORAL_ADDRESS not set; Temporal disabled")
		}
		return nil, nil
	}

	opts := temporalsdkclient.Options{
		HostPort:  cfg.Address,
		Namespace: cfg.Namespace,
		Logger:    log,
	}
	if cfg.mTLS() {
		tlsCfg, err := loadTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.ConnectionOptions.TLS = tlsCfg
	}

	deadline := time.Now().Add(cfg.DialMaxWait)
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
		c, err := temporalsdkclient.DialContext(ctx, opts)
		cancel()
		if err == nil {
			if log != nil && attempt > 1 {
				log.Info("Connected to Temporal", "address", cfg.Address, "namespace", cfg.Namespace, "attempts", attempt)
			}
			if cfg.AutoRegisterNamespace {
				if err := EnsureNamespace(context.Background(), cfg, log); err != nil {
					c.Close()
					return nil, err
				}
			}
			return c, nil
		}

		if cfg.DialMaxWait <= 0 || time.Now().After(deadline) {
			return nil, fmt.Errorf("temporal dial failed (address=%s namespace=%s): %w", cfg.Address, cfg.Namespace, err)
		}
		if log != nil {
			log.Warn("Temporal not reachable; retrying", "address", cfg.Address, "namespace", cfg.Namespace, "attempt", attempt, "error", err)
		}
		time.Sleep(clampBackoff(cfg.DialBackoff, cfg.DialBackoffMax, attempt))
	}
}

// EnsureNamespace creates the namespace when it is missing. Meant for local
// and self-hosted Temporal; cloud namespaces are provisioned out of band.
func EnsureNamespace(ctx context.Context, cfg Config, log *logger.Logger) error {
	namespace := strings.TrimSpace(cfg.Namespace)
	if namespace == "" || !cfg.Enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.NamespaceEnsureTimeout)
	defer cancel()

	// the namespace client carries no namespace header, so it can register one
	nsOpts := temporalsdkclient.Options{HostPort: cfg.Address, Logger: log}
	if cfg.mTLS() {
		tlsCfg, err := loadTLSConfig(cfg)
		if err != nil {
			return err
		}
		nsOpts.ConnectionOptions.TLS = tlsCfg
	}
	nsClient, err := temporalsdkclient.NewNamespaceClient(nsOpts)
	if err != nil {
		return fmt.Errorf("temporal namespace ensure: init namespace client: %w", err)
	}
	defer nsClient.Close()

	deadline := time.Now().Add(cfg.NamespaceEnsureTimeout)
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("temporal namespace ensure: timed out (namespace=%s): %w", namespace, ctx.Err())
		}
		_, err := nsClient.Describe(ctx, namespace)
		if err == nil {
			return nil
		}

		var nfe *serviceerror.NamespaceNotFound
		if errors.As(err, &nfe) {
			regErr := nsClient.Register(ctx, &workflowservice.RegisterNamespaceRequest{
				Namespace:                        namespace,
				Description:                      "happyteacher trigger namespace",
				WorkflowExecutionRetentionPeriod: durationpb.New(time.Duration(cfg.NamespaceRetentionDays) * 24 * time.Hour),
			})
			if regErr == nil {
				if log != nil {
					log.Info("Registered Temporal namespace", "namespace", namespace, "retention_days", cfg.NamespaceRetentionDays)
				}
				return nil
			}
			var already *serviceerror.NamespaceAlreadyExists
			if errors.As(regErr, &already) {
				return nil
			}
			err = regErr
		}

		if isRetryableRPC(err) && time.Now().Before(deadline) {
			if log != nil {
				log.Warn("Temporal namespace ensure retrying", "namespace", namespace, "attempt", attempt, "error", err)
			}
			time.Sleep(clampBackoff(cfg.DialBackoff, cfg.DialBackoffMax, attempt))
			continue
		}
		return fmt.Errorf("temporal namespace ensure: %w", err)
	}
}

func loadTLSConfig(cfg Config) (*tls.Config, error) {
	if cfg.ClientCertPath == "" || cfg.ClientKeyPath == "" {
		return nil, fmt.Errorf("temporal tls: both TEMPORAL_CLIENT_CERT_PATH and TEMPORAL_CLIENT_KEY_PATH are required when enabling mTLS")
	}
	cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("temporal tls: load client cert/key: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.ClientCAPath != "" {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("temporal tls: read CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("temporal tls: invalid CA pem")
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

func clampBackoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	sleep := base
	for i := 1; i < attempt; i++ {
		sleep *= 2
		if max > 0 && sleep >= max {
			return max
		}
	}
	if max > 0 && sleep > max {
		return max
	}
	return sleep
}

func isRetryableRPC(err error) bool {
	if err == nil {
		return false
	}
	s, ok := status.FromError(err)
	if !ok {
		return errors.Is(err, context.DeadlineExceeded)
	}
	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}
