package stack

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func svc(name string, deps ...Dependency) *Service {
	return &Service{Name: name, Image: name + ":latest", DependsOn: deps}
}

func dep(name string) Dependency {
	return Dependency{Service: name, Condition: ConditionStarted}
}

func indexOf(t *testing.T, order []*Service, name string) int {
	t.Helper()
	for i, s := range order {
		if s.Name == name {
			return i
		}
	}
	t.Fatalf("service %q not in order", name)
	return -1
}

func TestResolve_EveryServiceAfterItsDependencies(t *testing.T) {
	services := []*Service{
		svc("bot", Dependency{Service: "postgres", Condition: ConditionHealthy}, dep("redis")),
		svc("redis"),
		svc("postgres"),
	}

	order, err := Resolve(services)
	require.NoError(t, err)
	require.Len(t, order, 3)

	assert.Greater(t, indexOf(t, order, "bot"), indexOf(t, order, "postgres"))
	assert.Greater(t, indexOf(t, order, "bot"), indexOf(t, order, "redis"))
}

func TestResolve_Deterministic(t *testing.T) {
	services := []*Service{svc("c"), svc("a"), svc("b")}

	first, err := Resolve(services)
	require.NoError(t, err)
	second, err := Resolve(services)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "a", first[0].Name)
	assert.Equal(t, "b", first[1].Name)
	assert.Equal(t, "c", first[2].Name)
}

func TestResolve_DeepChain(t *testing.T) {
	services := []*Service{
		svc("d", dep("c")),
		svc("c", dep("b")),
		svc("b", dep("a")),
		svc("a"),
	}

	order, err := Resolve(services)
	require.NoError(t, err)

	for i, name := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, name, order[i].Name)
	}
}

func TestResolve_CycleIsConfigurationError(t *testing.T) {
	services := []*Service{
		svc("a", dep("b")),
		svc("b", dep("c")),
		svc("c", dep("a")),
	}

	_, err := Resolve(services)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Contains(t, err.Error(), "cycle")
	// The cycle members are named so the operator can fix the config.
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")
	assert.Contains(t, err.Error(), "c")
}

func TestResolve_SelfDependencyIsConfigurationError(t *testing.T) {
	_, err := Resolve([]*Service{svc("a", dep("a"))})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestResolve_UnknownDependencyIsConfigurationError(t *testing.T) {
	_, err := Resolve([]*Service{svc("bot", dep("postgres"))})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Contains(t, err.Error(), "undeclared")
}

func TestResolve_DuplicateServiceIsConfigurationError(t *testing.T) {
	_, err := Resolve([]*Service{svc("a"), svc("a")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestEnvironment_Naming(t *testing.T) {
	env := &Environment{Stack: "finflow-prod", VolumePrefix: "finflow-prod"}
	assert.Equal(t, "finflow-prod-postgres", env.ContainerName("postgres"))
	assert.Equal(t, "finflow-prod-pgdata", env.VolumeName("pgdata"))
}
