package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/ragloop/internal/pipeline"
	"github.com/kalambet/ragloop/internal/storage"
)

type fakeQA struct {
	answer      pipeline.Answer
	answerErr   error
	feedbackErr error

	gotQuestion string
	gotTrace    string
	gotScore    int
	gotReason   string
}

func (f *fakeQA) Answer(ctx context.Context, question string, k int) (pipeline.Answer, error) {
	f.gotQuestion = question
	return f.answer, f.answerErr
}

func (f *fakeQA) SubmitFeedback(traceID string, score int, reason string) error {
	f.gotTrace = traceID
	f.gotScore = score
	f.gotReason = reason
	return f.feedbackErr
}

type fakeLedgerReader struct {
	examples []storage.FeedbackExample
	runs     []storage.OptimizerRun
	down     int
}

func (f *fakeLedgerReader) ListExamples(limit int) ([]storage.FeedbackExample, error) {
	return f.examples, nil
}

func (f *fakeLedgerReader) ListRuns(limit int) ([]storage.OptimizerRun, error) {
	return f.runs, nil
}

func (f *fakeLedgerReader) TodayThumbsDown() (int, error) { return f.down, nil }

type fakeTrigger struct {
	ran bool
	err error
}

func (f *fakeTrigger) RunOnce(ctx context.Context) (bool, error) { return f.ran, f.err }

func newTestHandler(qa *fakeQA) http.Handler {
	return NewAppHandler(AppDeps{
		QA:       qa,
		Ledger:   &fakeLedgerReader{down: 2},
		PolicyID: "baseline",
	})
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAsk_ReturnsAnswerWithTraceID(t *testing.T) {
	qa := &fakeQA{answer: pipeline.Answer{
		Text:    "42",
		Sources: map[string][]int{"doc.pdf": {3}},
		TraceID: "trace-1",
	}}
	h := newTestHandler(qa)

	w := postJSON(t, h, "/ask", `{"question":"what is the answer?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp askResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Answer != "42" || resp.TraceID != "trace-1" {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.Sources["doc.pdf"]) != 1 {
		t.Fatalf("sources = %v", resp.Sources)
	}
	if qa.gotQuestion != "what is the answer?" {
		t.Fatalf("question = %q", qa.gotQuestion)
	}
}

func TestAsk_MissingQuestion(t *testing.T) {
	w := postJSON(t, newTestHandler(&fakeQA{}), "/ask", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAsk_PipelineFailure(t *testing.T) {
	qa := &fakeQA{answerErr: errors.New("model down")}
	w := postJSON(t, newTestHandler(qa), "/ask", `{"question":"q"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestFeedback_Recorded(t *testing.T) {
	qa := &fakeQA{}
	w := postJSON(t, newTestHandler(qa), "/feedback", `{"trace_id":"t1","score":0,"reason":"wrong page"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if qa.gotTrace != "t1" || qa.gotScore != 0 || qa.gotReason != "wrong page" {
		t.Fatalf("recorded %q/%d/%q", qa.gotTrace, qa.gotScore, qa.gotReason)
	}
}

func TestFeedback_UnknownTraceIs404(t *testing.T) {
	qa := &fakeQA{feedbackErr: storage.ErrNotFound}
	w := postJSON(t, newTestHandler(qa), "/feedback", `{"trace_id":"nope","score":1}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestFeedback_Validation(t *testing.T) {
	h := newTestHandler(&fakeQA{})

	for name, body := range map[string]string{
		"missing trace": `{"score":1}`,
		"missing score": `{"trace_id":"t1"}`,
		"bad score":     `{"trace_id":"t1","score":5}`,
	} {
		w := postJSON(t, h, "/feedback", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", name, w.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(&fakeQA{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["policy"] != "baseline" {
		t.Fatalf("policy = %v", resp["policy"])
	}
	if resp["thumbs_down_today"] != float64(2) {
		t.Fatalf("thumbs_down_today = %v", resp["thumbs_down_today"])
	}
}

func TestAdmin_RequiresToken(t *testing.T) {
	h := NewAppHandler(AppDeps{
		QA:         &fakeQA{},
		Ledger:     &fakeLedgerReader{},
		Optimizer:  &fakeTrigger{},
		AdminToken: "secret",
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/runs", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/runs", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status with token = %d", w.Code)
	}
}

func TestAdmin_AbsentWithoutToken(t *testing.T) {
	h := newTestHandler(&fakeQA{})
	req := httptest.NewRequest(http.MethodGet, "/admin/runs", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, admin routes must not exist without a token", w.Code)
	}
}

func TestAdmin_OptimizeReportsSkip(t *testing.T) {
	for _, tc := range []struct {
		ran  bool
		want string
	}{
		{true, "completed"},
		{false, "skipped"},
	} {
		h := NewAppHandler(AppDeps{
			QA:         &fakeQA{},
			Ledger:     &fakeLedgerReader{},
			Optimizer:  &fakeTrigger{ran: tc.ran},
			AdminToken: "secret",
		})

		req := httptest.NewRequest(http.MethodPost, "/admin/optimize", strings.NewReader("{}"))
		req.Header.Set("Authorization", "Bearer secret")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		var resp map[string]string
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp["status"] != tc.want {
			t.Fatalf("ran=%v: status = %q, want %q", tc.ran, resp["status"], tc.want)
		}
	}
}
