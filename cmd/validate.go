package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/finflow/stackup/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration without touching Docker",
	Long: `Load the configuration, resolve every environment and check the
dependency graphs. Exits non-zero if any environment is invalid.`,
	Run: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration is invalid")
	}

	failed := false
	for _, name := range cfg.EnvironmentNames() {
		env, err := cfg.ResolveEnvironment(name)
		if err != nil {
			failed = true
			fmt.Fprintf(os.Stderr, "environment %q: %v\n", name, err)
			continue
		}

		app := env.AppService
		if app == "" {
			app = "-"
		}
		fmt.Printf("environment %q: %d services, app_service=%s, network=%s\n",
			name, len(env.Services), app, env.Network)
	}

	if failed {
		os.Exit(1)
	}
	fmt.Println("Configuration is valid")
}
