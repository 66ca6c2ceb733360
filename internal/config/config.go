// Package config loads the stackup configuration file and resolves named
// environments into immutable stack.Environment bundles. All validation
// failures surface as stack.ErrConfiguration before anything is started.
//
// Tool-level settings (log level, state dir, docker socket) go through
// viper so they can be overridden from the environment. The environments
// block is parsed straight from the yaml file: viper lowercases map keys,
// which would mangle case-sensitive env var names like POSTGRES_PASSWORD.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/finflow/stackup/internal/stack"
)

// Duration wraps time.Duration for yaml decoding ("2s", "500ms").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the fully loaded configuration.
type Config struct {
	LogLevel     string
	StateDir     string
	Docker       DockerConfig
	Environments map[string]EnvironmentConfig
}

type DockerConfig struct {
	SocketPath string `mapstructure:"socket_path"`
}

// EnvironmentConfig is one named environment as written in the config file.
type EnvironmentConfig struct {
	Stack        string                   `yaml:"stack"`
	Network      string                   `yaml:"network"`
	VolumePrefix string                   `yaml:"volume_prefix"`
	StateDir     string                   `yaml:"state_dir"`
	EnvFile      string                   `yaml:"env_file"`
	Timezone     string                   `yaml:"timezone"`
	AppService   string                   `yaml:"app_service"`
	Services     map[string]ServiceConfig `yaml:"services"`
	Init         *InitConfig              `yaml:"init"`
}

type ServiceConfig struct {
	Image       string             `yaml:"image"`
	Command     []string           `yaml:"command"`
	Env         map[string]string  `yaml:"env"`
	Ports       []string           `yaml:"ports"`   // "host:container"
	Volumes     []string           `yaml:"volumes"` // "volume:/container/path"
	DependsOn   map[string]string  `yaml:"depends_on"`
	Healthcheck *HealthcheckConfig `yaml:"healthcheck"`
}

type HealthcheckConfig struct {
	Kind        string   `yaml:"kind"`
	Command     []string `yaml:"command"`
	Addr        string   `yaml:"addr"`
	UsernameEnv string   `yaml:"username_env"`
	PasswordEnv string   `yaml:"password_env"`
	Interval    Duration `yaml:"interval"`
	Timeout     Duration `yaml:"timeout"`
	Retries     int      `yaml:"retries"`
}

type InitConfig struct {
	Service string   `yaml:"service"`
	Marker  string   `yaml:"marker"`
	Schema  []string `yaml:"schema"`
	Data    []string `yaml:"data"`
}

// configFile is the yaml shape of the config file; only the environments
// block is taken from here, the rest goes through viper.
type configFile struct {
	Environments map[string]EnvironmentConfig `yaml:"environments"`
}

// Load reads the configuration from the file viper discovered and validates
// it, including the cross-environment isolation guarantees.
func Load(v *viper.Viper) (*Config, error) {
	v.SetDefault("log_level", "info")

	cfg := &Config{
		LogLevel: v.GetString("log_level"),
		StateDir: v.GetString("state_dir"),
		Docker:   DockerConfig{SocketPath: v.GetString("docker.socket_path")},
	}

	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("%w: state_dir not set and home dir unavailable: %v", stack.ErrConfiguration, err)
		}
		cfg.StateDir = filepath.Join(home, ".local", "state", "stackup")
	}

	path := v.ConfigFileUsed()
	if path == "" {
		return nil, fmt.Errorf("%w: no config file in use", stack.ErrConfiguration)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read config file %s: %v", stack.ErrConfiguration, path, err)
	}

	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: cannot parse %s: %v", stack.ErrConfiguration, path, err)
	}
	cfg.Environments = file.Environments

	if len(cfg.Environments) == 0 {
		return nil, fmt.Errorf("%w: no environments configured", stack.ErrConfiguration)
	}

	if err := cfg.validateIsolation(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateIsolation rejects any two environments sharing a stack, network,
// volume prefix or state dir. This is the guarantee that lets two
// environments run fully concurrently without coordination.
func (c *Config) validateIsolation() error {
	names := make([]string, 0, len(c.Environments))
	for name := range c.Environments {
		names = append(names, name)
	}
	sort.Strings(names)

	type identity struct {
		field string
		value func(EnvironmentConfig, string) string
	}
	identities := []identity{
		{"stack", func(e EnvironmentConfig, _ string) string { return e.Stack }},
		{"network", func(e EnvironmentConfig, _ string) string { return e.Network }},
		{"volume_prefix", func(e EnvironmentConfig, _ string) string { return e.VolumePrefix }},
		{"state_dir", func(e EnvironmentConfig, name string) string { return c.envStateDir(e, name) }},
	}

	for _, id := range identities {
		seen := make(map[string]string)
		for _, name := range names {
			value := id.value(c.Environments[name], name)
			if value == "" {
				return fmt.Errorf("%w: environment %q is missing required field %s", stack.ErrConfiguration, name, id.field)
			}
			if other, dup := seen[value]; dup {
				return fmt.Errorf("%w: environments %q and %q share %s %q",
					stack.ErrConfiguration, other, name, id.field, value)
			}
			seen[value] = name
		}
	}
	return nil
}

func (c *Config) envStateDir(e EnvironmentConfig, name string) string {
	if e.StateDir != "" {
		return e.StateDir
	}
	return filepath.Join(c.StateDir, name)
}

// EnvironmentNames returns the configured environment names, sorted.
func (c *Config) EnvironmentNames() []string {
	names := make([]string, 0, len(c.Environments))
	for name := range c.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveEnvironment turns a named environment into an immutable
// stack.Environment: credentials loaded from the env file, ports and
// volumes parsed, dependency conditions checked, graph verified acyclic.
func (c *Config) ResolveEnvironment(name string) (*stack.Environment, error) {
	envCfg, ok := c.Environments[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown environment %q (configured: %s)",
			stack.ErrConfiguration, name, strings.Join(c.EnvironmentNames(), ", "))
	}

	if len(envCfg.Services) == 0 {
		return nil, fmt.Errorf("%w: environment %q declares no services", stack.ErrConfiguration, name)
	}

	credentials, err := loadEnvFile(envCfg.EnvFile)
	if err != nil {
		return nil, err
	}

	env := &stack.Environment{
		Name:         name,
		Stack:        envCfg.Stack,
		Network:      envCfg.Network,
		VolumePrefix: envCfg.VolumePrefix,
		StateDir:     c.envStateDir(envCfg, name),
		Timezone:     envCfg.Timezone,
		AppService:   envCfg.AppService,
	}

	serviceNames := make([]string, 0, len(envCfg.Services))
	for svcName := range envCfg.Services {
		serviceNames = append(serviceNames, svcName)
	}
	sort.Strings(serviceNames)

	for _, svcName := range serviceNames {
		svc, err := resolveService(name, svcName, envCfg.Services[svcName], envCfg.Timezone, credentials)
		if err != nil {
			return nil, err
		}
		env.Services = append(env.Services, svc)
	}

	if err := resolveInit(env, &envCfg); err != nil {
		return nil, err
	}

	// Resolution-time graph check: cycles must be rejected here, not
	// discovered as a hang at startup.
	if _, err := stack.Resolve(env.Services); err != nil {
		return nil, err
	}

	log.Debug().Str("environment", name).Int("services", len(env.Services)).Msg("Environment resolved")
	return env, nil
}

func resolveService(envName, svcName string, cfg ServiceConfig, timezone string, credentials map[string]string) (*stack.Service, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("%w: environment %q service %q has no image", stack.ErrConfiguration, envName, svcName)
	}

	svc := &stack.Service{
		Name:    svcName,
		Image:   cfg.Image,
		Command: cfg.Command,
		Env:     mergeEnv(cfg.Env, timezone, credentials),
		Volumes: make(map[string]string),
	}

	for _, binding := range cfg.Ports {
		pb, err := parsePortBinding(binding)
		if err != nil {
			return nil, fmt.Errorf("%w: environment %q service %q: %v", stack.ErrConfiguration, envName, svcName, err)
		}
		svc.Ports = append(svc.Ports, pb)
	}

	for _, vol := range cfg.Volumes {
		volumeName, containerPath, ok := strings.Cut(vol, ":")
		if !ok || volumeName == "" || containerPath == "" {
			return nil, fmt.Errorf("%w: environment %q service %q: invalid volume %q (want volume:/path)",
				stack.ErrConfiguration, envName, svcName, vol)
		}
		svc.Volumes[containerPath] = volumeName
	}

	depNames := make([]string, 0, len(cfg.DependsOn))
	for dep := range cfg.DependsOn {
		depNames = append(depNames, dep)
	}
	sort.Strings(depNames)
	for _, dep := range depNames {
		condition, err := parseCondition(cfg.DependsOn[dep])
		if err != nil {
			return nil, fmt.Errorf("%w: environment %q service %q depends_on %q: %v",
				stack.ErrConfiguration, envName, svcName, dep, err)
		}
		svc.DependsOn = append(svc.DependsOn, stack.Dependency{Service: dep, Condition: condition})
	}

	if cfg.Healthcheck != nil {
		hc, err := resolveHealthcheck(cfg.Healthcheck, credentials)
		if err != nil {
			return nil, fmt.Errorf("%w: environment %q service %q: %v", stack.ErrConfiguration, envName, svcName, err)
		}
		svc.Health = hc
	}

	return svc, nil
}

func resolveHealthcheck(cfg *HealthcheckConfig, credentials map[string]string) (*stack.HealthCheck, error) {
	kind := stack.ProbeKind(cfg.Kind)
	switch kind {
	case stack.ProbeDockerHealth, stack.ProbeCommand, stack.ProbeTCP, stack.ProbeRedis:
	case "":
		kind = stack.ProbeDockerHealth
	default:
		return nil, fmt.Errorf("unknown healthcheck kind %q", cfg.Kind)
	}

	if kind == stack.ProbeCommand && len(cfg.Command) == 0 {
		return nil, fmt.Errorf("healthcheck kind %q requires a command", kind)
	}
	if (kind == stack.ProbeTCP || kind == stack.ProbeRedis) && cfg.Addr == "" {
		return nil, fmt.Errorf("healthcheck kind %q requires addr", kind)
	}

	hc := &stack.HealthCheck{
		Kind:     kind,
		Command:  cfg.Command,
		Addr:     cfg.Addr,
		Interval: time.Duration(cfg.Interval),
		Timeout:  time.Duration(cfg.Timeout),
		Retries:  cfg.Retries,
	}
	if cfg.UsernameEnv != "" {
		hc.Username = credentials[cfg.UsernameEnv]
	}
	if cfg.PasswordEnv != "" {
		hc.Password = credentials[cfg.PasswordEnv]
	}
	return hc, nil
}

// resolveInit validates the one-time setup block and binds the marker to the
// environment's state dir. Only the app service is gated by it.
func resolveInit(env *stack.Environment, cfg *EnvironmentConfig) error {
	if env.AppService != "" && env.Service(env.AppService) == nil {
		return fmt.Errorf("%w: environment %q names app_service %q but does not declare it",
			stack.ErrConfiguration, env.Name, env.AppService)
	}

	if cfg.Init == nil {
		return nil
	}
	if env.AppService == "" {
		return fmt.Errorf("%w: environment %q configures init but has no app_service",
			stack.ErrConfiguration, env.Name)
	}
	if cfg.Init.Service == "" || env.Service(cfg.Init.Service) == nil {
		return fmt.Errorf("%w: environment %q init.service %q is not a declared service",
			stack.ErrConfiguration, env.Name, cfg.Init.Service)
	}
	if len(cfg.Init.Schema) == 0 {
		return fmt.Errorf("%w: environment %q init has no schema command", stack.ErrConfiguration, env.Name)
	}

	marker := cfg.Init.Marker
	if marker == "" {
		marker = "initialized"
	}
	if !filepath.IsAbs(marker) {
		marker = filepath.Join(env.StateDir, marker)
	}

	env.Init = &stack.InitSpec{
		Service: cfg.Init.Service,
		Marker:  marker,
		Schema:  stack.SetupStep{Name: "schema", Command: cfg.Init.Schema},
	}
	if len(cfg.Init.Data) > 0 {
		env.Init.Data = stack.SetupStep{Name: "data", Command: cfg.Init.Data}
	}
	return nil
}

// mergeEnv combines declared env, the environment timezone and the env-file
// credentials into a deterministic KEY=VALUE list. Explicit service env wins
// over the env file.
func mergeEnv(declared map[string]string, timezone string, credentials map[string]string) []string {
	merged := make(map[string]string, len(declared)+len(credentials)+1)
	for k, v := range credentials {
		merged[k] = v
	}
	if timezone != "" {
		merged["TZ"] = timezone
	}
	for k, v := range declared {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

// loadEnvFile reads credentials from a dotenv file. A declared but missing
// or unreadable file is a configuration error, not a silent fallback.
func loadEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read env file %s: %v", stack.ErrConfiguration, path, err)
	}
	return values, nil
}

func parsePortBinding(binding string) (stack.PortBinding, error) {
	hostPart, containerPart, ok := strings.Cut(binding, ":")
	if !ok {
		return stack.PortBinding{}, fmt.Errorf("invalid port binding %q (want host:container)", binding)
	}
	host, err := strconv.Atoi(hostPart)
	if err != nil {
		return stack.PortBinding{}, fmt.Errorf("invalid host port in %q", binding)
	}
	container, err := strconv.Atoi(containerPart)
	if err != nil {
		return stack.PortBinding{}, fmt.Errorf("invalid container port in %q", binding)
	}
	return stack.PortBinding{Host: host, Container: container}, nil
}

func parseCondition(raw string) (stack.Condition, error) {
	switch stack.Condition(raw) {
	case stack.ConditionStarted, "":
		return stack.ConditionStarted, nil
	case stack.ConditionHealthy:
		return stack.ConditionHealthy, nil
	default:
		return "", fmt.Errorf("unknown condition %q (want started or healthy)", raw)
	}
}
