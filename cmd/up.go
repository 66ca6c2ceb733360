package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/finflow/stackup/internal/config"
	"github.com/finflow/stackup/internal/orchestrator"
	"github.com/finflow/stackup/internal/probe"
	"github.com/finflow/stackup/internal/runtime"
)

var upEnv string

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start an environment",
	Long: `Start every service of the selected environment in dependency order.
Health-gated dependencies are probed before dependents launch; the
application service passes the one-time initialization gate first.`,
	Run: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)
	upCmd.Flags().StringVarP(&upEnv, "env", "e", "development", "environment to start")
}

func runUp(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	o, cleanup := buildOrchestrator(cfg, upEnv)
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := o.Up(ctx); err != nil {
		log.Fatal().Err(err).Str("environment", upEnv).Msg("Startup failed")
	}
}

// buildOrchestrator wires the Docker runtime, prober and orchestrator for
// one environment. The returned cleanup closes the Docker client.
func buildOrchestrator(cfg *config.Config, name string) (*orchestrator.Orchestrator, func()) {
	env, err := cfg.ResolveEnvironment(name)
	if err != nil {
		log.Fatal().Err(err).Str("environment", name).Msg("Invalid environment")
	}

	rt, err := runtime.NewDockerRuntime(cfg.Docker.SocketPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Docker runtime")
	}
	if err := rt.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Docker daemon is not reachable")
	}

	return orchestrator.New(rt, probe.NewProber(rt), env), func() { _ = rt.Close() }
}
