package runtime

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog/log"
)

// DockerRuntime implements ContainerRuntime using the Docker Engine API.
type DockerRuntime struct {
	client *client.Client
}

// NewDockerRuntime creates a runtime from the environment (DOCKER_HOST etc.),
// falling back to the given socket path when set.
func NewDockerRuntime(socketPath string) (*DockerRuntime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if socketPath != "" {
		opts = append(opts, client.WithHost("unix://"+socketPath))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerRuntime{client: cli}, nil
}

// NewDockerRuntimeWithClient wraps an existing client (for testing).
func NewDockerRuntimeWithClient(cli *client.Client) *DockerRuntime {
	return &DockerRuntime{client: cli}
}

func (r *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := r.client.Ping(ctx); err != nil {
		return fmt.Errorf("cannot connect to Docker daemon: %w", err)
	}
	return nil
}

// Close releases the underlying Docker client connection.
func (r *DockerRuntime) Close() error {
	return r.client.Close()
}

// EnsureNetwork creates the named bridge network if it does not exist.
func (r *DockerRuntime) EnsureNetwork(ctx context.Context, name string) error {
	networks, err := r.client.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return fmt.Errorf("failed to list networks: %w", err)
	}
	for _, nw := range networks {
		if nw.Name == name {
			return nil
		}
	}

	if _, err := r.client.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"}); err != nil {
		return fmt.Errorf("failed to create network %s: %w", name, err)
	}
	log.Info().Str("network", name).Msg("Network created")
	return nil
}

// EnsureVolume creates the named volume if it does not exist.
func (r *DockerRuntime) EnsureVolume(ctx context.Context, name string) error {
	volumes, err := r.client.VolumeList(ctx, volume.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return fmt.Errorf("failed to list volumes: %w", err)
	}
	for _, v := range volumes.Volumes {
		if v.Name == name {
			return nil
		}
	}

	if _, err := r.client.VolumeCreate(ctx, volume.CreateOptions{Name: name}); err != nil {
		return fmt.Errorf("failed to create volume %s: %w", name, err)
	}
	log.Info().Str("volume", name).Msg("Volume created")
	return nil
}

// FindContainerByName returns the container with the exact name, or nil.
func (r *DockerRuntime) FindContainerByName(ctx context.Context, name string) (*Container, error) {
	containers, err := r.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	for _, c := range containers {
		for _, n := range c.Names {
			if strings.TrimPrefix(n, "/") == name {
				return &Container{ID: c.ID, Name: name, Status: c.State}, nil
			}
		}
	}
	return nil, nil
}

func (r *DockerRuntime) CreateContainer(ctx context.Context, config *ContainerConfig) (string, error) {
	exposedPorts := make(nat.PortSet)
	portBindings := make(nat.PortMap)
	for _, p := range config.Ports {
		containerPort := nat.Port(fmt.Sprintf("%d/tcp", p.ContainerPort))
		exposedPorts[containerPort] = struct{}{}
		portBindings[containerPort] = []nat.PortBinding{
			{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", p.HostPort)},
		}
	}

	var binds []string
	for containerPath, volumeName := range config.Volumes {
		binds = append(binds, fmt.Sprintf("%s:%s", volumeName, containerPath))
	}

	containerConfig := &container.Config{
		Image:        config.Image,
		Cmd:          config.Cmd,
		Env:          config.Env,
		Hostname:     config.Hostname,
		ExposedPorts: exposedPorts,
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        binds,
		NetworkMode:  container.NetworkMode(config.Network),
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyUnlessStopped,
		},
	}

	var networkConfig *network.NetworkingConfig
	if config.Network != "" {
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				config.Network: {Aliases: []string{config.Hostname}},
			},
		}
	}

	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, networkConfig, nil, config.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", config.Name, err)
	}

	log.Debug().Str("container", config.Name).Str("id", resp.ID).Msg("Container created")
	return resp.ID, nil
}

func (r *DockerRuntime) StartContainer(ctx context.Context, containerID string) error {
	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

func (r *DockerRuntime) StopContainer(ctx context.Context, containerID string) error {
	timeout := 10 // seconds
	if err := r.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

func (r *DockerRuntime) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	if err := r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func (r *DockerRuntime) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	inspect, err := r.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return false, fmt.Errorf("failed to inspect container: %w", err)
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// GetContainerHealthStatus reads the health status reported by the engine.
// An empty Health object or status "none" means no healthcheck is configured.
func (r *DockerRuntime) GetContainerHealthStatus(ctx context.Context, containerID string) (string, bool, error) {
	inspect, err := r.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", false, fmt.Errorf("failed to inspect container: %w", err)
	}

	if inspect.State == nil || inspect.State.Health == nil {
		return "", false, nil
	}
	status := inspect.State.Health.Status
	if status == "" || status == "none" {
		return "", false, nil
	}
	return status, true, nil
}

// ExecInContainer runs a command inside a running container and waits for it
// to finish. The multiplexed output stream is demuxed into stdout/stderr.
func (r *DockerRuntime) ExecInContainer(ctx context.Context, containerID string, cmd []string) (*ExecResult, error) {
	if len(cmd) == 0 {
		return nil, fmt.Errorf("exec command must not be empty")
	}

	exec, err := r.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := r.client.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return nil, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspect, err := r.client.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}, nil
}
