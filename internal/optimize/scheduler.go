package optimize

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kalambet/ragloop/internal/policy"
	"github.com/kalambet/ragloop/internal/storage"
)

// RunStore is the slice of the feedback store the scheduler needs.
type RunStore interface {
	LastRunTime() (*time.Time, error)
	CountFeedbackSince(since *time.Time) (int, error)
	SampleForTraining(maxSamples int, positiveRatio float64) ([]storage.FeedbackExample, error)
	RecordRun(lastFeedbackAt time.Time) error
}

// SchedulerConfig controls run cadence and the gates a cycle must pass.
type SchedulerConfig struct {
	Interval       time.Duration // how often the scheduler wakes up
	MinInterval    time.Duration // minimum spacing between successful runs
	MinNewFeedback int           // feedback rows required since the last run
	MaxSamples     int
	PositiveRatio  float64
	ArtifactDir    string
}

// Scheduler periodically checks whether an optimization run is due and,
// when both gates pass, compiles and installs a new policy artifact.
// At most one run is in flight at a time.
type Scheduler struct {
	store     RunStore
	optimizer Optimizer
	metric    Metric
	student   func() *policy.Artifact
	cfg       SchedulerConfig
	logger    *slog.Logger

	running atomic.Bool
	now     func() time.Time
	save    func(path string, a *policy.Artifact) error
}

// NewScheduler wires a scheduler. The student callback resolves the policy
// to optimize at the start of each run, so successive runs build on the
// latest installed artifact rather than the serving snapshot.
func NewScheduler(store RunStore, optimizer Optimizer, metric Metric, student func() *policy.Artifact, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		optimizer: optimizer,
		metric:    metric,
		student:   student,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		save:      policy.Save,
	}
}

// Run ticks until ctx is canceled. A failed cycle is logged and the loop
// keeps going; it never takes down the process.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("optimizer scheduler started",
		"interval", s.cfg.Interval, "min_interval", s.cfg.MinInterval, "min_new_feedback", s.cfg.MinNewFeedback)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("optimizer scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("optimization cycle failed", "error", err)
			}
		}
	}
}

// RunOnce evaluates the gates and, if both pass, executes a full
// optimization cycle. It reports whether a new artifact was installed.
// If a run is already in flight the call is a no-op.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("optimization run already in flight, skipping")
		return false, nil
	}
	defer s.running.Store(false)

	now := s.now()

	last, err := s.store.LastRunTime()
	if err != nil {
		return false, fmt.Errorf("query last run: %w", err)
	}
	if last != nil && now.Sub(*last) < s.cfg.MinInterval {
		s.logger.Debug("skipping optimization: last run too recent",
			"last_run", last.Format(time.RFC3339), "min_interval", s.cfg.MinInterval)
		return false, nil
	}

	count, err := s.store.CountFeedbackSince(last)
	if err != nil {
		return false, fmt.Errorf("count feedback: %w", err)
	}
	if count < s.cfg.MinNewFeedback {
		s.logger.Debug("skipping optimization: not enough new feedback",
			"new_feedback", count, "required", s.cfg.MinNewFeedback)
		return false, nil
	}

	s.logger.Info("starting optimization run", "new_feedback", count)

	trainset, err := s.store.SampleForTraining(s.cfg.MaxSamples, s.cfg.PositiveRatio)
	if err != nil {
		return false, fmt.Errorf("sample training set: %w", err)
	}

	artifact, err := s.optimizer.Compile(ctx, s.student(), trainset, s.metric)
	if err != nil {
		return false, fmt.Errorf("compile %s policy: %w", s.optimizer.Name(), err)
	}

	path := policy.ArtifactPath(s.cfg.ArtifactDir, s.optimizer.Name())
	if err := s.save(path, artifact); err != nil {
		return false, fmt.Errorf("install artifact: %w", err)
	}

	if err := s.store.RecordRun(now); err != nil {
		return false, fmt.Errorf("record run: %w", err)
	}

	s.logger.Info("optimization run complete",
		"optimizer", s.optimizer.Name(), "version", artifact.Version, "demos", len(artifact.Demos), "path", path)
	return true, nil
}
