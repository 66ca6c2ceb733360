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

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "stackup",
	Short: "Stackup - Environment Startup Orchestrator",
	Long: `Stackup brings a containerized service stack up in dependency order:
health-gated startup, one-time database initialization, and strictly
isolated development and production environments.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./stackup.yaml)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config file in standard locations
		viper.SetConfigName("stackup")
		viper.SetConfigType("yaml")

		// Current directory (highest priority)
		viper.AddConfigPath(".")

		// User config directory
		if userConfigDir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(userConfigDir + "/stackup")
		}

		// User home directory
		if homeDir, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(homeDir + "/.stackup")
		}

		// System-wide config directories
		viper.AddConfigPath("/etc/stackup")
		viper.AddConfigPath("/usr/local/etc/stackup")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else {
		if cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		} else {
			log.Fatal().Msg("config file not found - please specify with --config flag or ensure stackup.yaml exists in current directory")
		}
	}
}

// loadConfig sets up logging and reads the tool configuration. All
// commands except version go through here.
func loadConfig() *config.Config {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	return cfg
}
