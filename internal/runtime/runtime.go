// Package runtime defines the contract between the orchestrator and the
// container runtime. The Docker implementation lives in docker.go; tests
// substitute a fake.
package runtime

import "context"

// Container is the runtime's view of a container.
type Container struct {
	ID       string
	Name     string
	Status   string // created, running, exited, ...
	ExitCode int
}

// PortMapping binds a host port to a container port (tcp).
type PortMapping struct {
	HostPort      int
	ContainerPort int
}

// ContainerConfig holds everything needed to create a container.
type ContainerConfig struct {
	Name     string
	Image    string
	Hostname string
	Network  string
	Cmd      []string
	Env      []string
	Ports    []PortMapping
	Volumes  map[string]string // container path -> volume name
}

// ExecResult holds the result of executing a command in a container.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// ContainerRuntime abstracts the container engine. Satisfied by *DockerRuntime.
type ContainerRuntime interface {
	Ping(ctx context.Context) error

	EnsureNetwork(ctx context.Context, name string) error
	EnsureVolume(ctx context.Context, name string) error

	FindContainerByName(ctx context.Context, name string) (*Container, error)
	CreateContainer(ctx context.Context, config *ContainerConfig) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string) error
	RemoveContainer(ctx context.Context, containerID string, force bool) error

	IsContainerRunning(ctx context.Context, containerID string) (bool, error)
	// GetContainerHealthStatus returns the engine-reported health status and
	// whether the container has a healthcheck configured at all.
	GetContainerHealthStatus(ctx context.Context, containerID string) (string, bool, error)

	ExecInContainer(ctx context.Context, containerID string, cmd []string) (*ExecResult, error)
}
