package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/david/opportunity-monitor/internal/checkpoint"
)

var runsCommand = &cobra.Command{
	Use:   "runs",
	Short: "List on-disk checkpoints, newest first",
	RunE:  listRunsCmd,
}

func init() {
	rootCmd.AddCommand(runsCommand)
}

func listRunsCmd(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	list, err := checkpoint.NewStore(settings.Checkpoint.Dir, settings.Location()).List()
	if err != nil {
		return err
	}
	renderCheckpoints(os.Stdout, list)
	return nil
}
