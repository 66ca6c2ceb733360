package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var statusEnv string

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	absentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))  // grey
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of an environment's services",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusEnv, "env", "e", "development", "environment to inspect")
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	o, cleanup := buildOrchestrator(cfg, statusEnv)
	defer cleanup()

	statuses, err := o.Status(context.Background())
	if err != nil {
		log.Fatal().Err(err).Str("environment", statusEnv).Msg("Failed to query status")
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, headerStyle.Render("SERVICE")+"\t"+
		headerStyle.Render("CONTAINER")+"\t"+
		headerStyle.Render("STATUS")+"\t"+
		headerStyle.Render("HEALTH"))

	for _, s := range statuses {
		health := s.Health
		if health == "" {
			health = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Service, s.Container, styleStatus(s.Status), health)
	}
	if err := w.Flush(); err != nil {
		log.Error().Err(err).Msg("Failed to render status table")
	}
}

func styleStatus(status string) string {
	switch status {
	case "running":
		return runningStyle.Render(status)
	case "absent":
		return absentStyle.Render(status)
	default:
		return stoppedStyle.Render(status)
	}
}
