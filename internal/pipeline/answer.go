// Package pipeline orchestrates a question through retrieval and generation
// under the selected policy, records every interaction in the feedback
// ledger, and routes user feedback back into the adaptive loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/kalambet/ragloop/internal/generate"
	"github.com/kalambet/ragloop/internal/retrieval"
	"github.com/kalambet/ragloop/internal/storage"
)

// Ledger is the slice of the store the pipeline writes to.
type Ledger interface {
	RecordExample(e storage.FeedbackExample) error
	UpdateFeedback(traceID string, score int, reason, comment string) error
	IncrementThumbsDown() error
}

// PassageRetriever abstracts the retrieval oracle.
type PassageRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Passage, error)
}

// Answer is the result of one answered question. Context carries the raw
// passage texts shown to the generator so later feedback references exactly
// what was used.
type Answer struct {
	Text    string
	Sources map[string][]int
	TraceID string
	Context []string
}

// Answerer runs the answer pipeline. It holds no mutable state: the
// generator's policy was fixed at startup and is shared read-only across
// concurrent requests.
type Answerer struct {
	retriever PassageRetriever
	generator generate.Generator
	ledger    Ledger
	topK      int
	logger    *slog.Logger
}

// New creates an Answerer. topK is the default passage count when a request
// does not specify one (default 4 if <= 0).
func New(retriever PassageRetriever, generator generate.Generator, ledger Ledger, topK int) *Answerer {
	if topK <= 0 {
		topK = 4
	}
	return &Answerer{
		retriever: retriever,
		generator: generator,
		ledger:    ledger,
		topK:      topK,
		logger:    slog.Default(),
	}
}

// Answer retrieves the top-k passages for the question, generates an answer
// under the current policy, and records the interaction (unrated) in the
// ledger. When retrieval finds nothing it short-circuits with the
// no-context sentinel but still produces a trace ID so the interaction is
// visible to the feedback loop.
func (a *Answerer) Answer(ctx context.Context, question string, k int) (Answer, error) {
	if k <= 0 {
		k = a.topK
	}
	traceID := uuid.New().String()

	passages, err := a.retriever.Retrieve(ctx, question, k)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieving context: %w", err)
	}

	if len(passages) == 0 {
		a.record(traceID, question, nil, generate.AnswerNoContext)
		return Answer{
			Text:    generate.AnswerNoContext,
			Sources: map[string][]int{},
			TraceID: traceID,
		}, nil
	}

	contextList := make([]string, len(passages))
	for i, p := range passages {
		contextList[i] = p.Text
	}

	gen, err := a.generator.Generate(ctx, contextList, question)
	if err != nil {
		return Answer{}, fmt.Errorf("generating answer: %w", err)
	}
	if gen.Usage != nil {
		a.logger.Debug("answer generated",
			"trace_id", traceID,
			"prompt_tokens", gen.Usage.PromptTokens,
			"completion_tokens", gen.Usage.CompletionTokens,
		)
	}

	// The answer is already final for the caller; a ledger failure here
	// loses one training example but must not fail the request.
	a.record(traceID, question, contextList, gen.Answer)

	return Answer{
		Text:    gen.Answer,
		Sources: GroupSources(passages),
		TraceID: traceID,
		Context: contextList,
	}, nil
}

func (a *Answerer) record(traceID, question string, contextList []string, answer string) {
	err := a.ledger.RecordExample(storage.FeedbackExample{
		TraceID:     traceID,
		Question:    question,
		Context:     contextList,
		ModelAnswer: answer,
	})
	if err != nil {
		a.logger.Warn("failed to record interaction", "trace_id", traceID, "error", err)
	}
}

// SubmitFeedback attaches the user's rating to an existing interaction.
// Resubmission overwrites the previous rating. A thumbs-down additionally
// bumps the daily negative-signal counter. An unknown trace ID surfaces as
// storage.ErrNotFound, which callers treat as non-fatal.
func (a *Answerer) SubmitFeedback(traceID string, score int, reason string) error {
	if score != 0 && score != 1 {
		return fmt.Errorf("invalid score %d: must be 0 or 1", score)
	}

	if err := a.ledger.UpdateFeedback(traceID, score, reason, ""); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return fmt.Errorf("updating feedback for %s: %w", traceID, err)
	}

	if score == 0 {
		if err := a.ledger.IncrementThumbsDown(); err != nil {
			return fmt.Errorf("incrementing daily counter: %w", err)
		}
	}

	a.logger.Info("feedback recorded", "trace_id", traceID, "score", score, "reason", reason)
	return nil
}

// GroupSources deduplicates raw passage provenance into
// source → sorted unique page numbers.
func GroupSources(passages []retrieval.Passage) map[string][]int {
	grouped := make(map[string][]int)
	seen := make(map[string]map[int]bool)
	for _, p := range passages {
		if seen[p.Source] == nil {
			seen[p.Source] = make(map[int]bool)
		}
		if seen[p.Source][p.Page] {
			continue
		}
		seen[p.Source][p.Page] = true
		grouped[p.Source] = append(grouped[p.Source], p.Page)
	}
	for src := range grouped {
		sort.Ints(grouped[src])
	}
	return grouped
}
