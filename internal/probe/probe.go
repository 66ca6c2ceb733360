// Package probe implements health-gated waiting on stack services: bounded
// retries at a fixed interval, each attempt bounded by its own timeout. An
// attempt that errors counts the same as one that reports not-ready.
package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/finflow/stackup/internal/runtime"
	"github.com/finflow/stackup/internal/stack"
)

const (
	defaultInterval = 2 * time.Second
	defaultTimeout  = 3 * time.Second
	defaultRetries  = 5
)

// Prober waits for services to report healthy.
type Prober struct {
	runtime runtime.ContainerRuntime
}

// NewProber creates a prober backed by the given container runtime.
func NewProber(rt runtime.ContainerRuntime) *Prober {
	return &Prober{runtime: rt}
}

// WaitHealthy blocks until one probe attempt of svc succeeds. After
// maxRetries consecutive failures it returns stack.ErrUnhealthy; the caller
// must treat that as fatal for the startup sequence. Context cancellation
// aborts the wait promptly with the context's error.
func (p *Prober) WaitHealthy(ctx context.Context, svc *stack.Service, containerID string) error {
	hc := svc.Health
	if hc == nil {
		return fmt.Errorf("%w: service %q has no health check but an edge requires it healthy",
			stack.ErrConfiguration, svc.Name)
	}

	interval := hc.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	timeout := hc.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := hc.Retries
	if retries <= 0 {
		retries = defaultRetries
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = p.probeOnce(ctx, hc, containerID)
		if lastErr == nil {
			log.Debug().Str("service", svc.Name).Int("attempt", attempt).Msg("Probe succeeded")
			return nil
		}
		log.Debug().Str("service", svc.Name).Int("attempt", attempt).Err(lastErr).Msg("Probe failed")

		if attempt == retries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}

	return fmt.Errorf("%w: service %q failed %d probe attempts, last error: %v",
		stack.ErrUnhealthy, svc.Name, retries, lastErr)
}

// probeOnce performs a single bounded probe attempt.
func (p *Prober) probeOnce(ctx context.Context, hc *stack.HealthCheck, containerID string) error {
	timeout := hc.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch hc.Kind {
	case stack.ProbeDockerHealth:
		status, hasCheck, err := p.runtime.GetContainerHealthStatus(ctx, containerID)
		if err != nil {
			return err
		}
		if !hasCheck {
			return fmt.Errorf("container has no healthcheck configured")
		}
		if status != "healthy" {
			return fmt.Errorf("health status is %q", status)
		}
		return nil

	case stack.ProbeCommand:
		result, err := p.runtime.ExecInContainer(ctx, containerID, hc.Command)
		if err != nil {
			return err
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("probe command exited with code %d: %s", result.ExitCode, result.Stderr)
		}
		return nil

	case stack.ProbeTCP:
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", hc.Addr)
		if err != nil {
			return err
		}
		return conn.Close()

	case stack.ProbeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     hc.Addr,
			Username: hc.Username,
			Password: hc.Password,
		})
		defer func() { _ = client.Close() }()
		return client.Ping(ctx).Err()

	default:
		return fmt.Errorf("unknown probe kind %q", hc.Kind)
	}
}
