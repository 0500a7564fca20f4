// Package optimize owns the background optimization loop: scoring recorded
// interactions, compiling new policy artifacts from accumulated feedback,
// and the gated scheduler that decides when a run is worthwhile.
package optimize

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/ragloop/internal/generate"
	"github.com/kalambet/ragloop/internal/ollama"
)

// Verdict is a judge's decision on one answer.
type Verdict struct {
	Pass     bool
	Feedback string
}

// Judge is the fallback scorer used when an example carries no human score.
// It is only consulted by the optimization metric, never by serving.
type Judge interface {
	Judge(ctx context.Context, contextList []string, question, answer string) (Verdict, error)
}

const judgePrompt = `Evaluate if the model's answer is accurate and well-grounded in the retrieved context.

CONTEXT:
%s

QUESTION:
%s

ANSWER:
%s

Reply with a verdict that MUST be exactly YES or NO on the first line, followed by a brief explanation on the next line.`

// LLMJudge asks the chat backend for a YES/NO grounding verdict.
type LLMJudge struct {
	llm   generate.LLM
	model string
}

// NewJudge creates an LLM-backed judge using the given model.
func NewJudge(llm generate.LLM, model string) *LLMJudge {
	return &LLMJudge{llm: llm, model: model}
}

// Judge scores one answer against its context. The verdict line must start
// with YES or NO; anything else is an error the metric degrades to 0.
func (j *LLMJudge) Judge(ctx context.Context, contextList []string, question, answer string) (Verdict, error) {
	prompt := fmt.Sprintf(judgePrompt, strings.Join(contextList, "\n"), question, answer)

	reply, _, err := j.llm.Chat(ctx, j.model, []ollama.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("judge call: %w", err)
	}

	return parseVerdict(reply)
}

func parseVerdict(reply string) (Verdict, error) {
	lines := strings.SplitN(strings.TrimSpace(reply), "\n", 2)
	verdict := strings.ToUpper(strings.TrimSpace(lines[0]))
	feedback := ""
	if len(lines) > 1 {
		feedback = strings.TrimSpace(lines[1])
	}

	switch {
	case strings.HasPrefix(verdict, "YES"):
		return Verdict{Pass: true, Feedback: feedback}, nil
	case strings.HasPrefix(verdict, "NO"):
		return Verdict{Pass: false, Feedback: feedback}, nil
	default:
		return Verdict{}, fmt.Errorf("judge returned neither YES nor NO: %q", lines[0])
	}
}
