package estimator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kiln-ml/kiln/internal/serialization"
	"github.com/kiln-ml/kiln/internal/strategy"
	"github.com/kiln-ml/kiln/internal/tensor"
)

const (
	checkpointPrefix = "ckpt-"
	checkpointExt    = ".kiln"

	modelKeyPrefix = "model."
	optimKeyPrefix = "optim."
)

// checkpointPath builds the file name for step inside dir.
func checkpointPath(dir string, step int64) string {
	return filepath.Join(dir, fmt.Sprintf("%s%08d%s", checkpointPrefix, step, checkpointExt))
}

// listCheckpoints returns checkpoint paths in dir ordered by ascending step.
func listCheckpoints(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("estimator: list checkpoints: %w", err)
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, checkpointPrefix) || !strings.HasSuffix(name, checkpointExt) {
			continue
		}
		if _, err := parseCheckpointStep(name); err != nil {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

func parseCheckpointStep(name string) (int64, error) {
	raw := strings.TrimSuffix(strings.TrimPrefix(name, checkpointPrefix), checkpointExt)
	return strconv.ParseInt(raw, 10, 64)
}

// saveCheckpoint writes model and optimizer state for step into dir and
// prunes checkpoints beyond keep (keep <= 0 keeps everything).
func saveCheckpoint(dir string, strat *strategy.Mirrored, step int64, loss float64, keep int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("estimator: create model dir: %w", err)
	}
	state := make(map[string]*tensor.Tensor)
	for name, t := range strat.Model().StateDict() {
		state[modelKeyPrefix+name] = t
	}
	for name, t := range strat.Optimizer().StateDict() {
		state[optimKeyPrefix+name] = t
	}
	meta := &serialization.CheckpointMeta{Step: step, Loss: loss}
	if err := serialization.Write(checkpointPath(dir, step), state, meta); err != nil {
		return fmt.Errorf("estimator: save checkpoint: %w", err)
	}
	return pruneCheckpoints(dir, keep)
}

func pruneCheckpoints(dir string, keep int) error {
	if keep <= 0 {
		return nil
	}
	paths, err := listCheckpoints(dir)
	if err != nil {
		return err
	}
	for len(paths) > keep {
		if err := os.Remove(paths[0]); err != nil {
			return fmt.Errorf("estimator: prune checkpoint: %w", err)
		}
		paths = paths[1:]
	}
	return nil
}

// LatestCheckpoint returns the newest checkpoint path in dir, or "" when
// the directory holds none.
func LatestCheckpoint(dir string) (string, error) {
	paths, err := listCheckpoints(dir)
	if err != nil || len(paths) == 0 {
		return "", err
	}
	return paths[len(paths)-1], nil
}

// restoreLatest loads the newest checkpoint in dir into strat and returns
// the step it was written at. A missing or empty dir restores nothing.
func restoreLatest(dir string, strat *strategy.Mirrored) (int64, error) {
	paths, err := listCheckpoints(dir)
	if err != nil || len(paths) == 0 {
		return 0, err
	}
	return restoreCheckpoint(paths[len(paths)-1], strat)
}

// restoreCheckpoint loads one checkpoint file into the strategy's model and
// optimizer and rebroadcasts the weights.
func restoreCheckpoint(path string, strat *strategy.Mirrored) (int64, error) {
	state, header, err := serialization.Read(path)
	if err != nil {
		return 0, fmt.Errorf("estimator: restore %s: %w", filepath.Base(path), err)
	}
	modelState := make(map[string]*tensor.Tensor)
	optimState := make(map[string]*tensor.Tensor)
	for name, t := range state {
		switch {
		case strings.HasPrefix(name, modelKeyPrefix):
			modelState[strings.TrimPrefix(name, modelKeyPrefix)] = t
		case strings.HasPrefix(name, optimKeyPrefix):
			optimState[strings.TrimPrefix(name, optimKeyPrefix)] = t
		}
	}
	if err := strat.Model().LoadStateDict(modelState); err != nil {
		return 0, fmt.Errorf("estimator: restore model state: %w", err)
	}
	if err := strat.Optimizer().LoadStateDict(optimState); err != nil {
		return 0, fmt.Errorf("estimator: restore optimizer state: %w", err)
	}
	if err := strat.Broadcast(); err != nil {
		return 0, err
	}
	var step int64
	if header.Checkpoint != nil {
		step = header.Checkpoint.Step
	}
	return step, nil
}

// checkpointHook saves checkpoints every saveEvery steps and at End.
type checkpointHook struct {
	BaseHook
	dir       string
	strat     *strategy.Mirrored
	saveEvery int64
	keep      int
	lastLoss  float64
	lastSaved int64
}

func (h *checkpointHook) AfterStep(res StepResult) error {
	h.lastLoss = float64(res.Loss)
	if res.Step%h.saveEvery != 0 {
		return nil
	}
	h.lastSaved = res.Step
	return saveCheckpoint(h.dir, h.strat, res.Step, h.lastLoss, h.keep)
}

func (h *checkpointHook) End(finalStep int64) error {
	if finalStep == 0 || finalStep == h.lastSaved {
		return nil
	}
	return saveCheckpoint(h.dir, h.strat, finalStep, h.lastLoss, h.keep)
}
