package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/kiln-ml/kiln/internal/estimator"
	"github.com/kiln-ml/kiln/internal/model"
	"github.com/kiln-ml/kiln/internal/nn"
)

func newTrainCmd(debug *bool) *cobra.Command {
	var flags commonFlags

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the convolutional classifier on an IDX dataset",
		Long: "Train the convolutional classifier from scratch on the IDX dataset\n" +
			"in --data-dir, mirrored across CPU replicas. Without --data-dir a\n" +
			"deterministic synthetic dataset is used. Prints step throughput\n" +
			"during training and evaluation accuracy afterwards.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			logger := newLogger(*debug)

			trainDS, evalDS, err := idxDatasets(cfg, logger)
			if err != nil {
				return err
			}
			h, w, c := trainDS.Bounds()
			classes := trainDS.NumClasses()
			logger.Info("dataset",
				"samples", trainDS.Len(), "geometry", [3]int{h, w, c}, "classes", classes)

			build := func() *nn.Sequential {
				return model.ConvNet(h, w, c, classes, cfg.Seed)
			}
			est, err := newEstimator(cfg, build, logger)
			if err != nil {
				return err
			}

			timer := estimator.NewStepTimer()
			if err := est.Train(cmd.Context(), trainInput(cfg, trainDS), cfg.Steps, timer); err != nil {
				return err
			}
			cmd.Printf("trained %d steps, avg %.1f ms/step\n",
				timer.Count(), float64(timer.Average())/float64(time.Millisecond))

			return reportEval(cmd.Context(), est, cfg, evalDS, cmd.Printf)
		},
	}
	flags.register(cmd)
	return cmd
}
