package temporalx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	temporalsdkclient "go.temporal.io/sdk/client"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/httpx"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

const (
	retryBase = 250 * time.Millisecond
	retryCap  = 5 * time.Second
)

// retryUntil calls fn until it succeeds, fn reports a permanent failure, or
// giveUp returns true. Waits between attempts use jittered exponential backoff.
func retryUntil(ctx context.Context, log *logger.Logger, what string, giveUp func(error) bool, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info("Temporal "+what+" succeeded", "attempts", attempt)
			}
			return nil
		}
		if giveUp(err) {
			return err
		}
		log.Warn("Temporal "+what+" retrying", "attempt", attempt, "error", err)
		if sErr := httpx.SleepContext(ctx, httpx.Backoff(attempt, retryBase, retryCap)); sErr != nil {
			return sErr
		}
	}
}

// NewClient dials Temporal, retrying until cfg.DialMaxWait elapses. It
// returns (nil, nil) when no address is configured, leaving the in-process
// scheduler in charge of scans.
func NewClient(ctx context.Context, log *logger.Logger, cfg Config) (temporalsdkclient.Client, error) {
	if cfg.Address == "" {
		log.Warn("TEMPORAL_ADDRESS not set; Temporal disabled")
		return nil, nil
	}
	opts, err := clientOptions(log, cfg)
	if err != nil {
		return nil, err
	}
	opts.Namespace = cfg.Namespace
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	deadline := time.Now().Add(cfg.DialMaxWait)
	log = log.With("address", cfg.Address, "namespace", cfg.Namespace)

	var c temporalsdkclient.Client
	err = retryUntil(ctx, log, "dial", func(error) bool {
		return cfg.DialMaxWait <= 0 || time.Now().After(deadline)
	}, func(ctx context.Context) error {
		dctx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		var dErr error
		c, dErr = temporalsdkclient.DialContext(dctx, opts)
		return dErr
	})
	if err != nil {
		return nil, fmt.Errorf("temporal dial failed (address=%s namespace=%s): %w", cfg.Address, cfg.Namespace, err)
	}
	if cfg.AutoRegisterNamespace {
		if err := EnsureNamespace(ctx, log, cfg); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func clientOptions(log *logger.Logger, cfg Config) (temporalsdkclient.Options, error) {
	opts := temporalsdkclient.Options{HostPort: cfg.Address, Logger: log}
	if cfg.tlsEnabled() {
		tlsCfg, err := loadTLSConfig(cfg)
		if err != nil {
			return opts, err
		}
		opts.ConnectionOptions.TLS = tlsCfg
	}
	return opts, nil
}

// EnsureNamespace registers cfg.Namespace when it does not exist. Meant for
// self-hosted clusters; managed namespaces should be pre-provisioned.
func EnsureNamespace(ctx context.Context, log *logger.Logger, cfg Config) error {
	opts, err := clientOptions(log, cfg)
	if err != nil {
		return err
	}
	// The namespace client carries no namespace header, so it can create one.
	nsClient, err := temporalsdkclient.NewNamespaceClient(opts)
	if err != nil {
		return fmt.Errorf("temporal namespace client: %w", err)
	}
	defer nsClient.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err = retryUntil(ctx, log, "namespace ensure", func(err error) bool { return !isRetryableRPC(err) }, func(ctx context.Context) error {
		_, err := nsClient.Describe(ctx, cfg.Namespace)
		var nfe *serviceerror.NamespaceNotFound
		if !errors.As(err, &nfe) {
			return err
		}
		err = nsClient.Register(ctx, &workflowservice.RegisterNamespaceRequest{
			Namespace:                        cfg.Namespace,
			Description:                      "driftd schema drift scans",
			WorkflowExecutionRetentionPeriod: durationpb.New(7 * 24 * time.Hour),
		})
		var exists *serviceerror.NamespaceAlreadyExists
		if err != nil && !errors.As(err, &exists) {
			return err
		}
		log.Info("Registered Temporal namespace", "namespace", cfg.Namespace)
		return nil
	})
	if err != nil {
		return fmt.Errorf("temporal namespace ensure (%s): %w", cfg.Namespace, err)
	}
	return nil
}

func loadTLSConfig(cfg Config) (*tls.Config, error) {
	if cfg.ClientCertPath == "" || cfg.ClientKeyPath == "" {
		return nil, fmt.Errorf("temporal tls: TEMPORAL_CLIENT_CERT_PATH and TEMPORAL_CLIENT_KEY_PATH are both required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("temporal tls: load client cert/key: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
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
	}
	return false
}
