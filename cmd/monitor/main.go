// Command monitor runs the opportunity pipeline from the terminal and
// inspects its checkpoints.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/app"
	"github.com/david/opportunity-monitor/internal/config"
)

var (
	configPath string
	secrets    *config.Secrets
)

var rootCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Public tender and event monitor",
	Long:  "Collects tenders and events from public sources, classifies their relevance with an LLM and keeps resumable checkpoints of every run.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		s, err := app.LoadEnv()
		if err != nil {
			return err
		}
		secrets = s
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to settings YAML (defaults to the embedded settings)")
}

func loadSettings() (*config.Settings, error) {
	return app.LoadSettings(configPath, secrets)
}

func main() {
	err := rootCmd.Execute()
	_ = zap.L().Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
