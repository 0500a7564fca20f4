// Package generate produces answers from retrieved context under the
// currently selected generation policy. It is the generation oracle
// consumed by the answer pipeline.
package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/ragloop/internal/ollama"
	"github.com/kalambet/ragloop/internal/policy"
)

// Refusal sentinels. The UI and the feedback loop string-match on these, so
// they must pass through the pipeline byte for byte.
const (
	// AnswerUnknown is returned for unanswerable, opinion-based, or
	// insufficiently grounded questions.
	AnswerUnknown = "I do not know the answer based on the provided document."

	// AnswerRefuseCreative is returned for jokes, poems, and other
	// entertainment requests.
	AnswerRefuseCreative = "I can’t generate jokes or poems, but I can help explain concepts, provide summaries, or answer factual questions."

	// AnswerNoContext is returned by the pipeline itself when retrieval
	// finds nothing; the generator is never invoked in that case.
	AnswerNoContext = "No relevant context found."
)

// IsSentinel reports whether the answer is one of the fixed refusal or
// no-context responses. Callers use it to suppress the sources section.
func IsSentinel(answer string) bool {
	return strings.Contains(answer, "I do not know the answer") ||
		strings.Contains(answer, "No relevant context found") ||
		strings.Contains(answer, "I can’t generate jokes or poems")
}

// TokenUsage reports token consumption for one generation, when the
// backend provides it.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// Generation is the result of one generator call. Usage is nil when the
// backend does not report token counts.
type Generation struct {
	Answer string
	Usage  *TokenUsage
}

// Generator answers a question from the given context passages.
type Generator interface {
	Generate(ctx context.Context, contextList []string, question string) (Generation, error)
}

// LLM abstracts the chat backend. *ollama.Client satisfies it.
type LLM interface {
	Chat(ctx context.Context, model string, messages []ollama.Message) (string, *ollama.Usage, error)
}

// PolicyGenerator renders prompts from a policy artifact and sends them to
// the chat backend. The artifact is read-only and shared across concurrent
// requests; a new policy requires a new generator (i.e. a process restart).
type PolicyGenerator struct {
	llm      LLM
	model    string
	artifact *policy.Artifact
}

// New creates a generator serving the given artifact.
func New(llm LLM, model string, artifact *policy.Artifact) *PolicyGenerator {
	return &PolicyGenerator{llm: llm, model: model, artifact: artifact}
}

// Generate builds the policy prompt for (context, question) and returns the
// model's answer. The raw answer is passed through unmodified so refusal
// sentinels survive intact.
func (g *PolicyGenerator) Generate(ctx context.Context, contextList []string, question string) (Generation, error) {
	prompt := BuildPrompt(g.artifact, contextList, question)

	answer, usage, err := g.llm.Chat(ctx, g.model, []ollama.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return Generation{}, fmt.Errorf("generating answer: %w", err)
	}

	gen := Generation{Answer: strings.TrimSpace(answer)}
	if usage != nil {
		gen.Usage = &TokenUsage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
		}
	}
	return gen, nil
}

// BuildPrompt renders the full generation prompt: the artifact's
// instructions, its few-shot demos, then the live context and question.
func BuildPrompt(a *policy.Artifact, contextList []string, question string) string {
	var b strings.Builder
	b.WriteString(a.Instructions)
	b.WriteString("\n")

	for _, d := range a.Demos {
		b.WriteString("\nCONTEXT:\n")
		b.WriteString(strings.Join(d.Context, "\n\n"))
		b.WriteString("\n\nQUESTION:\n")
		b.WriteString(d.Question)
		b.WriteString("\n\nANSWER:\n")
		b.WriteString(d.Answer)
		b.WriteString("\n")
	}

	b.WriteString("\nCONTEXT:\n")
	b.WriteString(strings.Join(contextList, "\n\n"))
	b.WriteString("\n\nQUESTION:\n")
	b.WriteString(question)
	b.WriteString("\n\nANSWER:")
	return b.String()
}
