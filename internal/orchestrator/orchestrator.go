// Package orchestrator sequences an environment's services into a running
// stack: start order from the dependency graph, health-gated edges via the
// prober, and the one-time initialization gate in front of the application
// service. One invocation is a single sequential control flow; the only
// blocking operation is the health wait.
package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/finflow/stackup/internal/initgate"
	"github.com/finflow/stackup/internal/probe"
	"github.com/finflow/stackup/internal/runtime"
	"github.com/finflow/stackup/internal/stack"
)

// State of one service within the current invocation.
type State string

const (
	StatePending        State = "pending"
	StateStarting       State = "starting"
	StateWaitingHealthy State = "waiting-healthy"
	StateInitializing   State = "initializing"
	StateRunning        State = "running"
	StateFailed         State = "failed"
)

// ServiceStatus is a point-in-time view of one service, used by `status`.
type ServiceStatus struct {
	Service   string
	Container string
	Status    string // engine-reported container state, "absent" if none
	Health    string // engine-reported health, "" if no healthcheck
}

// Orchestrator brings one environment up or down. It is single-use per
// invocation: construct, then call Up or Down once.
type Orchestrator struct {
	runtime runtime.ContainerRuntime
	prober  *probe.Prober
	env     *stack.Environment
	gate    *initgate.Gate
	runID   string

	states           map[string]State
	containerIDs     map[string]string
	healthyConfirmed map[string]bool
}

// New creates an orchestrator for the given resolved environment.
func New(rt runtime.ContainerRuntime, prober *probe.Prober, env *stack.Environment) *Orchestrator {
	o := &Orchestrator{
		runtime:          rt,
		prober:           prober,
		env:              env,
		runID:            uuid.NewString(),
		states:           make(map[string]State, len(env.Services)),
		containerIDs:     make(map[string]string, len(env.Services)),
		healthyConfirmed: make(map[string]bool),
	}
	if env.Init != nil {
		o.gate = initgate.New(env.Init.Marker)
	}
	for _, svc := range env.Services {
		o.states[svc.Name] = StatePending
	}
	return o
}

// State returns the current state of a service within this invocation.
func (o *Orchestrator) State(service string) State {
	return o.states[service]
}

// Up starts every service in dependency order. On any failure the sequence
// halts at the failing service: it is marked Failed, the error names it,
// and services already running are left running. A partially-up stack is
// diagnosable; a torn-down one is not.
func (o *Orchestrator) Up(ctx context.Context) error {
	order, err := stack.Resolve(o.env.Services)
	if err != nil {
		return err
	}

	log.Info().
		Str("run_id", o.runID).
		Str("environment", o.env.Name).
		Int("services", len(order)).
		Msg("Starting environment")

	if err := o.prepare(ctx); err != nil {
		return err
	}

	for _, svc := range order {
		if err := o.bringUp(ctx, svc); err != nil {
			o.states[svc.Name] = StateFailed
			log.Error().
				Str("run_id", o.runID).
				Str("service", svc.Name).
				Err(err).
				Msg("Startup halted, already-running services are left running")
			return fmt.Errorf("startup of %q failed: %w", svc.Name, err)
		}
	}

	log.Info().Str("run_id", o.runID).Str("environment", o.env.Name).Msg("Environment is up")
	return nil
}

// prepare creates the environment's network and volumes. Both are
// idempotent on the runtime side.
func (o *Orchestrator) prepare(ctx context.Context) error {
	if err := o.runtime.EnsureNetwork(ctx, o.env.Network); err != nil {
		return err
	}

	volumes := make(map[string]bool)
	for _, svc := range o.env.Services {
		for _, vol := range svc.Volumes {
			volumes[o.env.VolumeName(vol)] = true
		}
	}
	names := make([]string, 0, len(volumes))
	for name := range volumes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := o.runtime.EnsureVolume(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// bringUp runs one service through its lifecycle. Dependency conditions
// must hold before the container is launched; the application service
// additionally passes the initialization gate.
func (o *Orchestrator) bringUp(ctx context.Context, svc *stack.Service) error {
	o.transition(svc.Name, StateStarting)

	for _, dep := range svc.DependsOn {
		if o.states[dep.Service] != StateRunning {
			return fmt.Errorf("dependency %q is %s, expected running", dep.Service, o.states[dep.Service])
		}
		if dep.Condition != stack.ConditionHealthy || o.healthyConfirmed[dep.Service] {
			continue
		}

		o.transition(svc.Name, StateWaitingHealthy)
		depSvc := o.env.Service(dep.Service)
		if err := o.prober.WaitHealthy(ctx, depSvc, o.containerIDs[dep.Service]); err != nil {
			return err
		}
		o.healthyConfirmed[dep.Service] = true
	}

	if svc.Name == o.env.AppService && o.gate != nil {
		o.transition(svc.Name, StateInitializing)
		result, err := o.gate.EnsureInitialized(ctx, o.runSetup)
		if err != nil {
			return err
		}
		log.Info().
			Str("run_id", o.runID).
			Str("result", result.String()).
			Str("marker", o.gate.Path()).
			Msg("Initialization gate passed")
	}

	id, err := o.launch(ctx, svc)
	if err != nil {
		return err
	}
	o.containerIDs[svc.Name] = id
	o.transition(svc.Name, StateRunning)
	return nil
}

// launch starts the service's container, reusing an existing one when
// present so repeated invocations converge instead of erroring.
func (o *Orchestrator) launch(ctx context.Context, svc *stack.Service) (string, error) {
	name := o.env.ContainerName(svc.Name)

	existing, err := o.runtime.FindContainerByName(ctx, name)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if existing.Status == "running" {
			log.Debug().Str("container", name).Msg("Container already running")
			return existing.ID, nil
		}
		if err := o.runtime.StartContainer(ctx, existing.ID); err != nil {
			return "", err
		}
		return existing.ID, nil
	}

	volumes := make(map[string]string, len(svc.Volumes))
	for containerPath, vol := range svc.Volumes {
		volumes[containerPath] = o.env.VolumeName(vol)
	}
	ports := make([]runtime.PortMapping, 0, len(svc.Ports))
	for _, p := range svc.Ports {
		ports = append(ports, runtime.PortMapping{HostPort: p.Host, ContainerPort: p.Container})
	}

	id, err := o.runtime.CreateContainer(ctx, &runtime.ContainerConfig{
		Name:     name,
		Image:    svc.Image,
		Hostname: svc.Name,
		Network:  o.env.Network,
		Cmd:      svc.Command,
		Env:      svc.Env,
		Ports:    ports,
		Volumes:  volumes,
	})
	if err != nil {
		return "", err
	}
	if err := o.runtime.StartContainer(ctx, id); err != nil {
		return "", err
	}

	log.Info().Str("run_id", o.runID).Str("container", name).Str("image", svc.Image).Msg("Service started")
	return id, nil
}

// runSetup executes the one-time setup inside the configured container:
// schema first, reference data second. Reference data must never be loaded
// against an uninitialized schema.
func (o *Orchestrator) runSetup(ctx context.Context) error {
	target, ok := o.containerIDs[o.env.Init.Service]
	if !ok {
		return fmt.Errorf("%w: init service %q is not running", stack.ErrSetupFailed, o.env.Init.Service)
	}

	steps := []stack.SetupStep{o.env.Init.Schema}
	if len(o.env.Init.Data.Command) > 0 {
		steps = append(steps, o.env.Init.Data)
	}

	for _, step := range steps {
		log.Info().Str("run_id", o.runID).Str("step", step.Name).Msg("Running setup step")

		result, err := o.runtime.ExecInContainer(ctx, target, step.Command)
		if err != nil {
			return fmt.Errorf("%w: step %s: %v", stack.ErrSetupFailed, step.Name, err)
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("%w: step %s exited with code %d: %s",
				stack.ErrSetupFailed, step.Name, result.ExitCode, result.Stderr)
		}
	}
	return nil
}

// Down stops the environment's containers in reverse start order. Absent
// containers are skipped, not errors: down converges.
func (o *Orchestrator) Down(ctx context.Context) error {
	order, err := stack.Resolve(o.env.Services)
	if err != nil {
		return err
	}

	for i := len(order) - 1; i >= 0; i-- {
		svc := order[i]
		name := o.env.ContainerName(svc.Name)

		c, err := o.runtime.FindContainerByName(ctx, name)
		if err != nil {
			return err
		}
		if c == nil || c.Status != "running" {
			continue
		}
		if err := o.runtime.StopContainer(ctx, c.ID); err != nil {
			return fmt.Errorf("failed to stop %q: %w", name, err)
		}
		log.Info().Str("container", name).Msg("Service stopped")
	}
	return nil
}

// Status reports the engine's view of every service in the environment.
func (o *Orchestrator) Status(ctx context.Context) ([]ServiceStatus, error) {
	order, err := stack.Resolve(o.env.Services)
	if err != nil {
		return nil, err
	}

	statuses := make([]ServiceStatus, 0, len(order))
	for _, svc := range order {
		name := o.env.ContainerName(svc.Name)
		status := ServiceStatus{Service: svc.Name, Container: name, Status: "absent"}

		c, err := o.runtime.FindContainerByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if c != nil {
			status.Status = c.Status
			if health, hasCheck, err := o.runtime.GetContainerHealthStatus(ctx, c.ID); err == nil && hasCheck {
				status.Health = health
			}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (o *Orchestrator) transition(service string, state State) {
	o.states[service] = state
	log.Debug().
		Str("run_id", o.runID).
		Str("service", service).
		Str("state", string(state)).
		Msg("State transition")
}
