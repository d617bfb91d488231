package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kiln-ml/kiln/internal/config"
	"github.com/kiln-ml/kiln/internal/data"
	"github.com/kiln-ml/kiln/internal/device"
	"github.com/kiln-ml/kiln/internal/estimator"
	"github.com/kiln-ml/kiln/internal/logging"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/optim"
	"github.com/kiln-ml/kiln/internal/strategy"
)

// commonFlags are the config file path and override flags shared by the
// train, finetune and eval commands.
type commonFlags struct {
	configPath string
	overrides  config.Overrides
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "YAML config file")
	cmd.Flags().StringVar(&f.overrides.DataDir, "data-dir", "", "dataset root")
	cmd.Flags().StringVar(&f.overrides.ModelDir, "model-dir", "", "checkpoint directory")
	cmd.Flags().IntVar(&f.overrides.Steps, "steps", 0, "training steps")
	cmd.Flags().IntVar(&f.overrides.BatchSize, "batch-size", 0, "batch size")
	cmd.Flags().IntVar(&f.overrides.Replicas, "replicas", 0, "replica count (0 = all logical CPUs)")
	cmd.Flags().Int64Var(&f.overrides.Seed, "seed", 0, "random seed")
	cmd.Flags().IntVar(&f.overrides.LogEvery, "log-every", 0, "metrics log cadence in steps")
}

// load resolves flags into a validated config.
func (f *commonFlags) load() (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		cfg, err = config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
	}
	cfg.ApplyOverrides(f.overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(debug bool) *slog.Logger {
	return logging.New(os.Stderr, debug)
}

// newOptimizerFactory maps the config's optimizer section onto a
// constructor usable by the strategy.
func newOptimizerFactory(cfg *config.Config) func([]*nn.Parameter) optim.Optimizer {
	switch cfg.Optimizer {
	case "adam":
		return func(params []*nn.Parameter) optim.Optimizer {
			return optim.NewAdam(params, optim.AdamConfig{LR: float32(cfg.LearningRate)})
		}
	default:
		return func(params []*nn.Parameter) optim.Optimizer {
			return optim.NewSGD(params, optim.SGDConfig{
				LR:       float32(cfg.LearningRate),
				Momentum: float32(cfg.Momentum),
			})
		}
	}
}

// newEstimator assembles devices, strategy and estimator for a run.
func newEstimator(cfg *config.Config, build strategy.BuildFunc, logger *slog.Logger) (*estimator.Estimator, error) {
	devices := device.Discover(cfg.Replicas)
	logger.Info("replicas", "count", len(devices), "device", devices[0].Name)

	strat, err := strategy.NewMirrored(devices, build, newOptimizerFactory(cfg))
	if err != nil {
		return nil, err
	}
	runCfg := estimator.RunConfig{
		ModelDir:            cfg.ModelDir,
		SaveCheckpointSteps: cfg.SaveEvery,
		LogEverySteps:       cfg.LogEvery,
		KeepCheckpointMax:   cfg.KeepCheckpoints,
	}
	return estimator.New(runCfg, strat, logger), nil
}

// trainInput streams ds forever: shuffle, repeat, parallel standardize,
// batch, prefetch.
func trainInput(cfg *config.Config, ds data.Dataset) estimator.InputFn {
	return func(ctx context.Context) (<-chan data.Batch, <-chan error) {
		return data.NewPipeline(ds).
			Shuffle(cfg.ShuffleBuffer, cfg.Seed).
			Repeat(-1).
			Map(data.Standardize(), cfg.NumWorkers).
			Batch(cfg.BatchSize).
			Prefetch(cfg.Prefetch).
			Run(ctx)
	}
}

// evalInput streams ds exactly once, in order, with the same standardize
// transform training applies. The partial final batch is kept so every
// sample counts toward the result.
func evalInput(cfg *config.Config, ds data.Dataset) estimator.InputFn {
	return func(ctx context.Context) (<-chan data.Batch, <-chan error) {
		return data.NewPipeline(ds).
			Map(data.Standardize(), cfg.NumWorkers).
			Batch(cfg.BatchSize).
			DropRemainder(false).
			Prefetch(cfg.Prefetch).
			Run(ctx)
	}
}

// reportEval runs one evaluation pass and prints the result.
func reportEval(ctx context.Context, est *estimator.Estimator, cfg *config.Config, ds data.Dataset, out func(string, ...any)) error {
	res, err := est.Evaluate(ctx, evalInput(cfg, ds))
	if err != nil {
		return err
	}
	out("eval: loss=%.4f accuracy=%.2f%% samples=%d\n", res.Loss, res.Accuracy*100, res.Samples)
	return nil
}

// idxDatasets returns train and eval datasets from DataDir, falling back to
// a deterministic synthetic set when no directory is configured.
func idxDatasets(cfg *config.Config, logger *slog.Logger) (data.Dataset, data.Dataset, error) {
	if cfg.DataDir == "" {
		logger.Info("no data_dir configured, using synthetic dataset")
		train, eval := data.SyntheticIDX(4096, 28, 28, 10, cfg.Seed).Split(0.2)
		return train, eval, nil
	}
	train, err := data.LoadIDX(cfg.DataDir, true)
	if err != nil {
		return nil, nil, fmt.Errorf("load training set: %w", err)
	}
	eval, err := data.LoadIDX(cfg.DataDir, false)
	if err != nil {
		return nil, nil, fmt.Errorf("load test set: %w", err)
	}
	return train, eval, nil
}
