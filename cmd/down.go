package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var downEnv string

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop an environment",
	Long: `Stop the selected environment's containers in reverse dependency
order. Containers that are not running are skipped. Volumes, the network
and the initialization marker are kept.`,
	Run: runDown,
}

func init() {
	rootCmd.AddCommand(downCmd)
	downCmd.Flags().StringVarP(&downEnv, "env", "e", "development", "environment to stop")
}

func runDown(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	o, cleanup := buildOrchestrator(cfg, downEnv)
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := o.Down(ctx); err != nil {
		log.Fatal().Err(err).Str("environment", downEnv).Msg("Shutdown failed")
	}
	log.Info().Str("environment", downEnv).Msg("Environment is down")
}
