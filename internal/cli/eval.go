package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kiln-ml/kiln/internal/estimator"
	"github.com/kiln-ml/kiln/internal/model"
	"github.com/kiln-ml/kiln/internal/nn"
)

func newEvalCmd(debug *bool) *cobra.Command {
	var flags commonFlags
	var checkpoint string

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a checkpoint on the IDX test set",
		Long: "Restore a checkpoint and report loss and accuracy on the IDX\n" +
			"test set in --data-dir (or the synthetic holdout without one).\n" +
			"--checkpoint selects an explicit file; otherwise the newest\n" +
			"checkpoint in the model directory is used.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			logger := newLogger(*debug)

			if checkpoint == "" {
				if cfg.ModelDir == "" {
					return fmt.Errorf("eval requires --checkpoint or a model directory")
				}
				checkpoint, err = estimator.LatestCheckpoint(cfg.ModelDir)
				if err != nil {
					return err
				}
				if checkpoint == "" {
					return fmt.Errorf("no checkpoints found in %s", cfg.ModelDir)
				}
			}

			_, evalDS, err := idxDatasets(cfg, logger)
			if err != nil {
				return err
			}
			h, w, c := evalDS.Bounds()
			classes := evalDS.NumClasses()

			build := func() *nn.Sequential {
				return model.ConvNet(h, w, c, classes, cfg.Seed)
			}
			// Evaluation runs on the primary replica only.
			cfg.Replicas = 1
			cfg.ModelDir = ""
			est, err := newEstimator(cfg, build, logger)
			if err != nil {
				return err
			}
			step, err := est.RestoreCheckpoint(checkpoint)
			if err != nil {
				return err
			}
			cmd.Printf("restored %s (step %d)\n", checkpoint, step)

			return reportEval(cmd.Context(), est, cfg, evalDS, cmd.Printf)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "checkpoint file to evaluate")
	return cmd
}
