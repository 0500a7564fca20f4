package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kalambet/ragloop/internal/generate"
	"github.com/kalambet/ragloop/internal/retrieval"
	"github.com/kalambet/ragloop/internal/storage"
)

type fakeRetriever struct {
	passages []retrieval.Passage
	err      error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Passage, error) {
	return f.passages, f.err
}

type fakeGenerator struct {
	gen      generate.Generation
	err      error
	gotCtx   []string
	gotQ     string
	called   bool
}

func (f *fakeGenerator) Generate(ctx context.Context, contextList []string, question string) (generate.Generation, error) {
	f.called = true
	f.gotCtx = contextList
	f.gotQ = question
	return f.gen, f.err
}

type fakeLedger struct {
	recorded   []storage.FeedbackExample
	updates    map[string]int
	increments int
	updateErr  error
	recordErr  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{updates: make(map[string]int)}
}

func (f *fakeLedger) RecordExample(e storage.FeedbackExample) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recorded = append(f.recorded, e)
	return nil
}

func (f *fakeLedger) UpdateFeedback(traceID string, score int, reason, comment string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates[traceID] = score
	return nil
}

func (f *fakeLedger) IncrementThumbsDown() error {
	f.increments++
	return nil
}

func TestAnswer_HappyPath(t *testing.T) {
	retr := &fakeRetriever{passages: []retrieval.Passage{
		{Text: "passage one", Source: "doc.pdf", Page: 2},
		{Text: "passage two", Source: "doc.pdf", Page: 5},
	}}
	gen := &fakeGenerator{gen: generate.Generation{Answer: "a grounded answer"}}
	ledger := newFakeLedger()

	a := New(retr, gen, ledger, 4)
	ans, err := a.Answer(context.Background(), "how do joins work?", 0)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if ans.Text != "a grounded answer" {
		t.Errorf("Text = %q", ans.Text)
	}
	if ans.TraceID == "" {
		t.Error("TraceID empty")
	}
	if !reflect.DeepEqual(ans.Context, []string{"passage one", "passage two"}) {
		t.Errorf("Context = %v", ans.Context)
	}
	if !reflect.DeepEqual(ans.Sources, map[string][]int{"doc.pdf": {2, 5}}) {
		t.Errorf("Sources = %v", ans.Sources)
	}

	if !reflect.DeepEqual(gen.gotCtx, ans.Context) {
		t.Errorf("generator context = %v, want %v", gen.gotCtx, ans.Context)
	}

	// Interaction recorded unrated.
	if len(ledger.recorded) != 1 {
		t.Fatalf("recorded %d examples, want 1", len(ledger.recorded))
	}
	rec := ledger.recorded[0]
	if rec.TraceID != ans.TraceID || rec.Score != nil || rec.ModelAnswer != ans.Text {
		t.Errorf("recorded example = %+v", rec)
	}
}

func TestAnswer_EmptyRetrieval(t *testing.T) {
	retr := &fakeRetriever{}
	gen := &fakeGenerator{}
	ledger := newFakeLedger()

	a := New(retr, gen, ledger, 4)
	ans, err := a.Answer(context.Background(), "unrelated question", 4)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if ans.Text != generate.AnswerNoContext {
		t.Errorf("Text = %q, want no-context sentinel", ans.Text)
	}
	if len(ans.Sources) != 0 {
		t.Errorf("Sources = %v, want empty", ans.Sources)
	}
	if ans.TraceID == "" {
		t.Error("empty-result interaction must still get a trace ID")
	}
	if gen.called {
		t.Error("generator must not run with no context")
	}
	if len(ledger.recorded) != 1 {
		t.Fatalf("recorded %d examples, want 1 (empty result is still loggable)", len(ledger.recorded))
	}
	if ledger.recorded[0].ModelAnswer != generate.AnswerNoContext {
		t.Errorf("recorded answer = %q", ledger.recorded[0].ModelAnswer)
	}
}

func TestAnswer_LedgerFailureDoesNotFailRequest(t *testing.T) {
	retr := &fakeRetriever{passages: []retrieval.Passage{{Text: "p", Source: "s", Page: 1}}}
	gen := &fakeGenerator{gen: generate.Generation{Answer: "fine"}}
	ledger := newFakeLedger()
	ledger.recordErr = errors.New("disk full")

	a := New(retr, gen, ledger, 4)
	ans, err := a.Answer(context.Background(), "q", 1)
	if err != nil {
		t.Fatalf("Answer should survive ledger failure, got %v", err)
	}
	if ans.Text != "fine" {
		t.Errorf("Text = %q", ans.Text)
	}
}

func TestAnswer_GeneratorFailure(t *testing.T) {
	retr := &fakeRetriever{passages: []retrieval.Passage{{Text: "p", Source: "s", Page: 1}}}
	gen := &fakeGenerator{err: errors.New("model offline")}

	a := New(retr, gen, newFakeLedger(), 4)
	if _, err := a.Answer(context.Background(), "q", 1); err == nil {
		t.Fatal("Answer with failing generator succeeded, want error")
	}
}

func TestSubmitFeedback_ThumbsDownIncrementsCounter(t *testing.T) {
	ledger := newFakeLedger()
	a := New(&fakeRetriever{}, &fakeGenerator{}, ledger, 4)

	if err := a.SubmitFeedback("trace-1", 0, "incorrect"); err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}
	if ledger.updates["trace-1"] != 0 {
		t.Errorf("score = %d, want 0", ledger.updates["trace-1"])
	}
	if ledger.increments != 1 {
		t.Errorf("increments = %d, want 1", ledger.increments)
	}
}

func TestSubmitFeedback_ThumbsUpDoesNotIncrement(t *testing.T) {
	ledger := newFakeLedger()
	a := New(&fakeRetriever{}, &fakeGenerator{}, ledger, 4)

	if err := a.SubmitFeedback("trace-1", 1, "helpful"); err != nil {
		t.Fatal(err)
	}
	if ledger.increments != 0 {
		t.Errorf("increments = %d, want 0", ledger.increments)
	}
}

func TestSubmitFeedback_UnknownTrace(t *testing.T) {
	ledger := newFakeLedger()
	ledger.updateErr = storage.ErrNotFound
	a := New(&fakeRetriever{}, &fakeGenerator{}, ledger, 4)

	err := a.SubmitFeedback("no-such-trace", 0, "incorrect")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if ledger.increments != 0 {
		t.Error("counter must not move for unknown trace")
	}
}

func TestSubmitFeedback_InvalidScore(t *testing.T) {
	a := New(&fakeRetriever{}, &fakeGenerator{}, newFakeLedger(), 4)
	if err := a.SubmitFeedback("t", 5, ""); err == nil {
		t.Fatal("score 5 accepted, want error")
	}
}

func TestGroupSources_Dedup(t *testing.T) {
	passages := []retrieval.Passage{
		{Source: "doc.pdf", Page: 2},
		{Source: "doc.pdf", Page: 2},
		{Source: "doc.pdf", Page: 5},
	}
	got := GroupSources(passages)
	want := map[string][]int{"doc.pdf": {2, 5}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GroupSources = %v, want %v", got, want)
	}
}

func TestGroupSources_SortedPages(t *testing.T) {
	passages := []retrieval.Passage{
		{Source: "a.pdf", Page: 9},
		{Source: "a.pdf", Page: 1},
		{Source: "b.pdf", Page: 3},
	}
	got := GroupSources(passages)
	want := map[string][]int{"a.pdf": {1, 9}, "b.pdf": {3}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GroupSources = %v, want %v", got, want)
	}
}
