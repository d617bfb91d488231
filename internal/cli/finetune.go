package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/estimator"
	"github.com/kiln-ml/kiln/internal/model"
)

func newFinetuneCmd(debug *bool) *cobra.Command {
	var flags commonFlags

	cmd := &cobra.Command{
		Use:   "finetune",
		Short: "Fine-tune a pretrained backbone on an image folder",
		Long: "Fine-tune a classifier on images under --data-dir, one\n" +
			"subdirectory per class. The convolutional trunk comes frozen from\n" +
			"the --backbone checkpoint of an earlier train run; only the fresh\n" +
			"classification head learns. Batches are shuffled, standardized\n" +
			"to [-1, 1] and decoded by parallel workers.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.DataDir == "" {
				return fmt.Errorf("finetune requires --data-dir (or data_dir in the config)")
			}
			if cfg.Backbone == "" {
				return fmt.Errorf("finetune requires --backbone (or backbone in the config)")
			}
			logger := newLogger(*debug)

			ds, err := data.OpenImageFolder(cfg.DataDir, data.ImageFolderConfig{
				Height:   cfg.ImageHeight,
				Width:    cfg.ImageWidth,
				Channels: cfg.Channels,
			})
			if err != nil {
				return err
			}
			h, w, c := ds.Bounds()
			logger.Info("dataset",
				"samples", ds.Len(), "geometry", [3]int{h, w, c}, "classes", ds.Classes())

			build, err := model.BackboneBuilder(cfg.Backbone, h, w, c, ds.NumClasses(), cfg.Seed)
			if err != nil {
				return err
			}
			est, err := newEstimator(cfg, build, logger)
			if err != nil {
				return err
			}

			timer := estimator.NewStepTimer()
			if err := est.Train(cmd.Context(), trainInput(cfg, ds), cfg.Steps, timer); err != nil {
				return err
			}
			cmd.Printf("fine-tuned %d steps, avg %.1f ms/step\n",
				timer.Count(), float64(timer.Average())/float64(time.Millisecond))

			return reportEval(cmd.Context(), est, cfg, ds, cmd.Printf)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&flags.overrides.Backbone, "backbone", "", "pretrained trunk checkpoint")
	return cmd
}
