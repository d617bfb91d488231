package cli

import (
	"github.com/spf13/cobra"

	"github.com/kiln-ml/kiln/internal/device"
)

func newDevicesCmd() *cobra.Command {
	var replicas int

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List the replica slots training would use",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, d := range device.Discover(replicas) {
				cmd.Println(d.String())
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&replicas, "replicas", 0, "replica count (0 = all logical CPUs)")
	return cmd
}
