package runtime

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory ContainerRuntime for tests. Behavior of health and
// exec probes is scripted per container name via the Health and Exec hooks.
type Fake struct {
	mu sync.Mutex

	nextID     int
	Containers map[string]*Container // keyed by name
	Networks   map[string]bool
	Volumes    map[string]bool

	// HealthFunc, when set, answers GetContainerHealthStatus per container ID.
	HealthFunc func(containerID string) (string, bool, error)
	// ExecFunc, when set, answers ExecInContainer.
	ExecFunc func(containerID string, cmd []string) (*ExecResult, error)
	// StartErr, when set for a container name, fails StartContainer.
	StartErr map[string]error

	HealthCalls int
	ExecCalls   [][]string
	StartOrder  []string
}

// NewFake creates an empty fake runtime.
func NewFake() *Fake {
	return &Fake{
		Containers: make(map[string]*Container),
		Networks:   make(map[string]bool),
		Volumes:    make(map[string]bool),
		StartErr:   make(map[string]error),
	}
}

func (f *Fake) Ping(context.Context) error { return nil }

func (f *Fake) EnsureNetwork(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Networks[name] = true
	return nil
}

func (f *Fake) EnsureVolume(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Volumes[name] = true
	return nil
}

func (f *Fake) FindContainerByName(_ context.Context, name string) (*Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.Containers[name]; ok {
		return c, nil
	}
	return nil, nil
}

func (f *Fake) CreateContainer(_ context.Context, config *ContainerConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c := &Container{
		ID:     fmt.Sprintf("fake-%d", f.nextID),
		Name:   config.Name,
		Status: "created",
	}
	f.Containers[config.Name] = c
	return c.ID, nil
}

func (f *Fake) StartContainer(_ context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, c := range f.Containers {
		if c.ID == containerID {
			if err := f.StartErr[name]; err != nil {
				return err
			}
			c.Status = "running"
			f.StartOrder = append(f.StartOrder, name)
			return nil
		}
	}
	return fmt.Errorf("no such container: %s", containerID)
}

func (f *Fake) StopContainer(_ context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Containers {
		if c.ID == containerID {
			c.Status = "exited"
			return nil
		}
	}
	return fmt.Errorf("no such container: %s", containerID)
}

func (f *Fake) RemoveContainer(_ context.Context, containerID string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, c := range f.Containers {
		if c.ID == containerID {
			delete(f.Containers, name)
			return nil
		}
	}
	return fmt.Errorf("no such container: %s", containerID)
}

func (f *Fake) IsContainerRunning(_ context.Context, containerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Containers {
		if c.ID == containerID {
			return c.Status == "running", nil
		}
	}
	return false, fmt.Errorf("no such container: %s", containerID)
}

func (f *Fake) GetContainerHealthStatus(_ context.Context, containerID string) (string, bool, error) {
	f.mu.Lock()
	f.HealthCalls++
	fn := f.HealthFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(containerID)
	}
	return "healthy", true, nil
}

func (f *Fake) ExecInContainer(_ context.Context, containerID string, cmd []string) (*ExecResult, error) {
	f.mu.Lock()
	f.ExecCalls = append(f.ExecCalls, cmd)
	fn := f.ExecFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(containerID, cmd)
	}
	return &ExecResult{ExitCode: 0}, nil
}
