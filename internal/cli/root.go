// Package cli wires the kiln commands: train a classifier from scratch,
// fine-tune a pretrained backbone on an image folder, evaluate a checkpoint,
// and list the replica slots available on this host.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the root command and exits non-zero on error.
func Execute() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd assembles the command tree.
func NewRootCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:           "kiln",
		Short:         "kiln trains small convolutional image classifiers on CPU replicas",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newTrainCmd(&debug),
		newFinetuneCmd(&debug),
		newEvalCmd(&debug),
		newDevicesCmd(),
	)
	return cmd
}
