package optimize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/ragloop/internal/ollama"
	"github.com/kalambet/ragloop/internal/storage"
)

type fakeJudge struct {
	verdict Verdict
	err     error
	calls   int
}

func (f *fakeJudge) Judge(ctx context.Context, contextList []string, question, answer string) (Verdict, error) {
	f.calls++
	return f.verdict, f.err
}

func intPtr(v int) *int { return &v }

func TestHybridMetric_HumanScoreWins(t *testing.T) {
	judge := &fakeJudge{verdict: Verdict{Pass: false}}
	metric := HybridMetric(judge, 0)

	ex := storage.FeedbackExample{
		Question: "what is raft?",
		Score:    intPtr(1),
		Reason:   "clear and correct",
	}
	score := metric(context.Background(), ex, "a consensus algorithm")
	if score.Value != 1.0 {
		t.Fatalf("score = %v, want 1.0", score.Value)
	}
	if score.Feedback != "clear and correct" {
		t.Fatalf("feedback = %q", score.Feedback)
	}
	if judge.calls != 0 {
		t.Fatalf("judge called %d times for a human-scored example", judge.calls)
	}
}

func TestHybridMetric_HumanThumbsDown(t *testing.T) {
	judge := &fakeJudge{verdict: Verdict{Pass: true}}
	metric := HybridMetric(judge, 0)

	ex := storage.FeedbackExample{Score: intPtr(0)}
	score := metric(context.Background(), ex, "wrong answer")
	if score.Value != 0.0 {
		t.Fatalf("score = %v, want 0.0", score.Value)
	}
	if judge.calls != 0 {
		t.Fatal("judge must not run when a human verdict exists")
	}
}

func TestHybridMetric_UnratedFallsThroughToJudge(t *testing.T) {
	judge := &fakeJudge{verdict: Verdict{Pass: true, Feedback: "grounded"}}
	metric := HybridMetric(judge, 0)

	score := metric(context.Background(), storage.FeedbackExample{}, "answer")
	if score.Value != 1.0 {
		t.Fatalf("score = %v, want 1.0", score.Value)
	}
	if judge.calls != 1 {
		t.Fatalf("judge calls = %d, want 1", judge.calls)
	}
}

func TestHybridMetric_JudgeErrorScoresZero(t *testing.T) {
	judge := &fakeJudge{err: errors.New("backend down")}
	metric := HybridMetric(judge, 0)

	score := metric(context.Background(), storage.FeedbackExample{}, "answer")
	if score.Value != 0.0 {
		t.Fatalf("score = %v, want 0.0", score.Value)
	}
	if !strings.Contains(score.Feedback, "backend down") {
		t.Fatalf("feedback %q does not carry the error", score.Feedback)
	}
}

type scriptedLLM struct {
	reply string
	err   error
}

func (s *scriptedLLM) Chat(ctx context.Context, model string, messages []ollama.Message) (string, *ollama.Usage, error) {
	return s.reply, nil, s.err
}

func TestLLMJudge_ParseVerdicts(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		wantPass bool
		wantErr  bool
	}{
		{"yes", "YES\nanswer sticks to the context", true, false},
		{"no", "NO\nfabricated a date", false, false},
		{"lowercase", "yes", true, false},
		{"padded", "  YES.  ", true, false},
		{"garbage", "maybe, hard to say", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewJudge(&scriptedLLM{reply: tt.reply}, "qwen3:8b")
			v, err := j.Judge(context.Background(), []string{"ctx"}, "q", "a")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Judge: %v", err)
			}
			if v.Pass != tt.wantPass {
				t.Fatalf("pass = %v, want %v", v.Pass, tt.wantPass)
			}
		})
	}
}
