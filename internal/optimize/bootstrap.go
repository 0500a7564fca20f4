package optimize

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kalambet/ragloop/internal/generate"
	"github.com/kalambet/ragloop/internal/policy"
	"github.com/kalambet/ragloop/internal/storage"
)

// Optimizer compiles a student policy and a training set into a new
// policy artifact. Compile must not have side effects on failure.
type Optimizer interface {
	Name() string
	Compile(ctx context.Context, student *policy.Artifact, trainset []storage.FeedbackExample, metric Metric) (*policy.Artifact, error)
}

// GeneratorFactory builds a generator running a specific policy, so the
// optimizer can produce candidate answers with the student being compiled.
type GeneratorFactory func(artifact *policy.Artifact) generate.Generator

// Bootstrap selects few-shot demonstrations from the training set: answers
// the metric accepts become demos attached to the student's instructions.
type Bootstrap struct {
	newGenerator GeneratorFactory
	maxDemos     int
	logger       *slog.Logger
	now          func() time.Time
}

// NewBootstrap creates a demo-selection optimizer keeping at most maxDemos
// demonstrations.
func NewBootstrap(newGenerator GeneratorFactory, maxDemos int, logger *slog.Logger) *Bootstrap {
	if maxDemos <= 0 {
		maxDemos = 4
	}
	return &Bootstrap{
		newGenerator: newGenerator,
		maxDemos:     maxDemos,
		logger:       logger,
		now:          time.Now,
	}
}

func (b *Bootstrap) Name() string { return "bootstrap" }

// Compile walks the training set in order. Human-validated answers are
// candidate demos as recorded; unrated and rejected examples get a fresh
// answer from the student generator first. A candidate survives only if
// the metric scores it 1.0. Per-example generation failures are skipped,
// a failed run produces no artifact.
func (b *Bootstrap) Compile(ctx context.Context, student *policy.Artifact, trainset []storage.FeedbackExample, metric Metric) (*policy.Artifact, error) {
	if len(trainset) == 0 {
		return nil, errors.New("bootstrap: empty training set")
	}

	gen := b.newGenerator(student)
	demos := make([]policy.Demo, 0, b.maxDemos)

	for _, ex := range trainset {
		if len(demos) == b.maxDemos {
			break
		}
		if len(ex.Context) == 0 {
			continue
		}

		candidate := ex.ModelAnswer
		if ex.Score == nil || *ex.Score != 1 {
			out, err := gen.Generate(ctx, ex.Context, ex.Question)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				b.logger.Warn("bootstrap: candidate generation failed",
					"trace_id", ex.TraceID, "error", err)
				continue
			}
			candidate = out.Answer
		}
		if generate.IsSentinel(candidate) {
			continue
		}

		score := metric(ctx, ex, candidate)
		if score.Value < 1.0 {
			b.logger.Debug("bootstrap: candidate rejected",
				"trace_id", ex.TraceID, "score", score.Value, "feedback", score.Feedback)
			continue
		}

		demos = append(demos, policy.Demo{
			Question: ex.Question,
			Context:  ex.Context,
			Answer:   candidate,
		})
	}

	b.logger.Info("bootstrap: compiled policy",
		"demos", len(demos), "trainset", len(trainset), "version", student.Version+1)

	return &policy.Artifact{
		Optimizer:    b.Name(),
		Version:      student.Version + 1,
		CreatedAt:    b.now().UTC(),
		Instructions: student.Instructions,
		Demos:        demos,
	}, nil
}
