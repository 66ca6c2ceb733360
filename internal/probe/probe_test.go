package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finflow/stackup/internal/runtime"
	"github.com/finflow/stackup/internal/stack"
)

func healthySvc(retries int) *stack.Service {
	return &stack.Service{
		Name: "postgres",
		Health: &stack.HealthCheck{
			Kind:     stack.ProbeDockerHealth,
			Interval: time.Millisecond,
			Timeout:  50 * time.Millisecond,
			Retries:  retries,
		},
	}
}

func TestWaitHealthy_SucceedsOnFirstAttempt(t *testing.T) {
	rt := runtime.NewFake()
	p := NewProber(rt)

	err := p.WaitHealthy(context.Background(), healthySvc(5), "cid")
	require.NoError(t, err)
	assert.Equal(t, 1, rt.HealthCalls)
}

func TestWaitHealthy_RecoversWithinRetryBudget(t *testing.T) {
	rt := runtime.NewFake()
	calls := 0
	rt.HealthFunc = func(string) (string, bool, error) {
		calls++
		if calls <= 3 {
			return "starting", true, nil
		}
		return "healthy", true, nil
	}
	p := NewProber(rt)

	err := p.WaitHealthy(context.Background(), healthySvc(5), "cid")
	require.NoError(t, err)
	// Three failures then one success: four attempts total.
	assert.Equal(t, 4, calls)
}

func TestWaitHealthy_ExhaustsRetriesExactly(t *testing.T) {
	rt := runtime.NewFake()
	rt.HealthFunc = func(string) (string, bool, error) {
		return "unhealthy", true, nil
	}
	p := NewProber(rt)

	err := p.WaitHealthy(context.Background(), healthySvc(3), "cid")
	require.Error(t, err)
	assert.True(t, errors.Is(err, stack.ErrUnhealthy))
	assert.Equal(t, 3, rt.HealthCalls)
}

func TestWaitHealthy_ProbeErrorCountsAsFailure(t *testing.T) {
	rt := runtime.NewFake()
	rt.HealthFunc = func(string) (string, bool, error) {
		return "", false, fmt.Errorf("connection refused")
	}
	p := NewProber(rt)

	err := p.WaitHealthy(context.Background(), healthySvc(2), "cid")
	require.Error(t, err)
	assert.True(t, errors.Is(err, stack.ErrUnhealthy))
	assert.Equal(t, 2, rt.HealthCalls)
}

func TestWaitHealthy_NoHealthCheckIsConfigurationError(t *testing.T) {
	p := NewProber(runtime.NewFake())

	err := p.WaitHealthy(context.Background(), &stack.Service{Name: "redis"}, "cid")
	require.Error(t, err)
	assert.True(t, errors.Is(err, stack.ErrConfiguration))
}

func TestWaitHealthy_CancellationAbortsWait(t *testing.T) {
	rt := runtime.NewFake()
	rt.HealthFunc = func(string) (string, bool, error) {
		return "starting", true, nil
	}
	p := NewProber(rt)

	svc := healthySvc(1000)
	svc.Health.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.WaitHealthy(ctx, svc, "cid") }()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("WaitHealthy did not return after cancellation")
	}
}

func TestWaitHealthy_CommandProbeUsesExitCode(t *testing.T) {
	rt := runtime.NewFake()
	calls := 0
	rt.ExecFunc = func(_ string, cmd []string) (*runtime.ExecResult, error) {
		calls++
		if calls == 1 {
			return &runtime.ExecResult{ExitCode: 1, Stderr: []byte("not ready")}, nil
		}
		return &runtime.ExecResult{ExitCode: 0}, nil
	}
	p := NewProber(rt)

	svc := &stack.Service{
		Name: "postgres",
		Health: &stack.HealthCheck{
			Kind:     stack.ProbeCommand,
			Command:  []string{"pg_isready", "-U", "finflow"},
			Interval: time.Millisecond,
			Timeout:  50 * time.Millisecond,
			Retries:  3,
		},
	}

	err := p.WaitHealthy(context.Background(), svc, "cid")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, rt.ExecCalls, 2)
	assert.Equal(t, []string{"pg_isready", "-U", "finflow"}, rt.ExecCalls[0])
}

func TestWaitHealthy_TCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	p := NewProber(runtime.NewFake())
	svc := &stack.Service{
		Name: "redis",
		Health: &stack.HealthCheck{
			Kind:     stack.ProbeTCP,
			Addr:     ln.Addr().String(),
			Interval: time.Millisecond,
			Timeout:  100 * time.Millisecond,
			Retries:  2,
		},
	}

	require.NoError(t, p.WaitHealthy(context.Background(), svc, "cid"))
}

func TestWaitHealthy_TCPProbeRefusedIsUnhealthy(t *testing.T) {
	// Grab a port and release it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	p := NewProber(runtime.NewFake())
	svc := &stack.Service{
		Name: "redis",
		Health: &stack.HealthCheck{
			Kind:     stack.ProbeTCP,
			Addr:     addr,
			Interval: time.Millisecond,
			Timeout:  100 * time.Millisecond,
			Retries:  2,
		},
	}

	err = p.WaitHealthy(context.Background(), svc, "cid")
	require.Error(t, err)
	assert.True(t, errors.Is(err, stack.ErrUnhealthy))
}

func TestWaitHealthy_RedisProbeRefusedIsUnhealthy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	p := NewProber(runtime.NewFake())
	svc := &stack.Service{
		Name: "redis",
		Health: &stack.HealthCheck{
			Kind:     stack.ProbeRedis,
			Addr:     addr,
			Interval: time.Millisecond,
			Timeout:  100 * time.Millisecond,
			Retries:  2,
		},
	}

	err = p.WaitHealthy(context.Background(), svc, "cid")
	require.Error(t, err)
	assert.True(t, errors.Is(err, stack.ErrUnhealthy))
}

func TestWaitHealthy_UnknownProbeKind(t *testing.T) {
	p := NewProber(runtime.NewFake())
	svc := &stack.Service{
		Name: "weird",
		Health: &stack.HealthCheck{
			Kind:     "carrier-pigeon",
			Interval: time.Millisecond,
			Timeout:  10 * time.Millisecond,
			Retries:  1,
		},
	}

	err := p.WaitHealthy(context.Background(), svc, "cid")
	require.Error(t, err)
	assert.True(t, errors.Is(err, stack.ErrUnhealthy))
}
