// Package stack defines the data model for an environment's service stack:
// services, dependency edges, health checks and the one-time initialization
// spec. Resolution of a start order lives in graph.go.
package stack

import "time"

// Condition is the state a dependency must reach before the dependent
// service may be launched.
type Condition string

const (
	// ConditionStarted requires the dependency's container to be created
	// and started, nothing more.
	ConditionStarted Condition = "started"
	// ConditionHealthy requires the dependency to pass its health check.
	ConditionHealthy Condition = "healthy"
)

// ProbeKind selects how a service's health is probed.
type ProbeKind string

const (
	// ProbeDockerHealth reads the health status reported by the container
	// runtime (the image's own HEALTHCHECK).
	ProbeDockerHealth ProbeKind = "docker-health"
	// ProbeCommand execs a command inside the container and treats exit
	// code zero as healthy (e.g. pg_isready).
	ProbeCommand ProbeKind = "command"
	// ProbeTCP dials a TCP address and treats a successful connect as
	// healthy.
	ProbeTCP ProbeKind = "tcp"
	// ProbeRedis sends a PING to a redis endpoint.
	ProbeRedis ProbeKind = "redis"
)

// HealthCheck describes how and how often a service is probed.
type HealthCheck struct {
	Kind     ProbeKind
	Command  []string // ProbeCommand only
	Addr     string   // ProbeTCP / ProbeRedis, host:port
	Username string   // ProbeRedis
	Password string   // ProbeRedis
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

// Dependency is one edge of the dependency graph.
type Dependency struct {
	Service   string
	Condition Condition
}

// PortBinding maps a host port to a container port.
type PortBinding struct {
	Host      int
	Container int
}

// Service is one member of an environment's stack.
type Service struct {
	Name      string
	Image     string
	Command   []string
	Env       []string // KEY=VALUE, credentials already merged in
	Ports     []PortBinding
	Volumes   map[string]string // container path -> volume name
	DependsOn []Dependency
	Health    *HealthCheck
}

// SetupStep is one command of the one-time initialization sequence, executed
// inside a running container of the stack.
type SetupStep struct {
	Name    string
	Command []string
}

// InitSpec describes the one-time setup guarded by the initialization
// marker: schema creation first, reference data second, always in that
// order against the named service's container.
type InitSpec struct {
	Service string
	Marker  string
	Schema  SetupStep
	Data    SetupStep
}

// Environment is a fully resolved, immutable configuration bundle for one
// named environment. Two environments never share stack, network, volume
// prefix or state dir; internal/config enforces that at resolution time.
type Environment struct {
	Name         string
	Stack        string
	Network      string
	VolumePrefix string
	StateDir     string
	Timezone     string
	Services     []*Service
	AppService   string // name of the application service, "" if none
	Init         *InitSpec
}

// Service returns the named service, or nil.
func (e *Environment) Service(name string) *Service {
	for _, svc := range e.Services {
		if svc.Name == name {
			return svc
		}
	}
	return nil
}

// ContainerName returns the runtime container name for a service, prefixed
// with the stack identity so environments never collide.
func (e *Environment) ContainerName(service string) string {
	return e.Stack + "-" + service
}

// VolumeName returns the runtime volume name for a declared volume.
func (e *Environment) VolumeName(volume string) string {
	return e.VolumePrefix + "-" + volume
}
