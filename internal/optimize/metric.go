package optimize

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/ragloop/internal/storage"
)

// Score is the metric's evaluation of one predicted answer.
type Score struct {
	Value    float64
	Feedback string
}

// Metric scores a predicted answer for a recorded example during compilation.
type Metric func(ctx context.Context, example storage.FeedbackExample, predicted string) Score

// HybridMetric prefers the human verdict recorded on the example; only
// unrated examples fall through to the judge. Delay paces judge calls so
// bulk scoring does not saturate the backend. Judge failures score 0 for
// that example instead of aborting the run.
func HybridMetric(judge Judge, delay time.Duration) Metric {
	return func(ctx context.Context, example storage.FeedbackExample, predicted string) Score {
		if example.Score != nil {
			if *example.Score == 1 {
				feedback := example.Reason
				if feedback == "" {
					feedback = "Marked correct by a human reviewer."
				}
				return Score{Value: 1.0, Feedback: feedback}
			}
			feedback := example.Reason
			if feedback == "" {
				feedback = "Marked incorrect by a human reviewer."
			}
			return Score{Value: 0.0, Feedback: feedback}
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Score{Value: 0.0, Feedback: fmt.Sprintf("evaluation canceled: %v", ctx.Err())}
			}
		}

		verdict, err := judge.Judge(ctx, example.Context, example.Question, predicted)
		if err != nil {
			return Score{Value: 0.0, Feedback: fmt.Sprintf("evaluation error: %v", err)}
		}
		if verdict.Pass {
			return Score{Value: 1.0, Feedback: verdict.Feedback}
		}
		return Score{Value: 0.0, Feedback: verdict.Feedback}
	}
}
