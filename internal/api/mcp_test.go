package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/ragloop/internal/pipeline"
	"github.com/kalambet/ragloop/internal/storage"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_AskDocuments(t *testing.T) {
	qa := &fakeQA{answer: pipeline.Answer{
		Text:    "the retry limit is 3",
		Sources: map[string][]int{"manual.pdf": {12}},
		TraceID: "trace-7",
	}}
	handler := mcpAskDocuments(MCPDeps{QA: qa})

	result, err := handler(context.Background(), makeCallToolRequest("ask_documents", map[string]interface{}{
		"question": "what is the retry limit?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var resp askResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("decoding tool output: %v", err)
	}
	if resp.Answer != "the retry limit is 3" || resp.TraceID != "trace-7" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestMCPTool_AskDocuments_MissingQuestion(t *testing.T) {
	handler := mcpAskDocuments(MCPDeps{QA: &fakeQA{}})

	result, err := handler(context.Background(), makeCallToolRequest("ask_documents", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing question")
	}
}

func TestMCPTool_SubmitFeedback(t *testing.T) {
	qa := &fakeQA{}
	handler := mcpSubmitFeedback(MCPDeps{QA: qa})

	result, err := handler(context.Background(), makeCallToolRequest("submit_feedback", map[string]interface{}{
		"trace_id": "trace-7",
		"score":    0,
		"reason":   "cited the wrong section",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if qa.gotTrace != "trace-7" || qa.gotScore != 0 || qa.gotReason != "cited the wrong section" {
		t.Fatalf("recorded %q/%d/%q", qa.gotTrace, qa.gotScore, qa.gotReason)
	}
}

func TestMCPTool_SubmitFeedback_UnknownTrace(t *testing.T) {
	qa := &fakeQA{feedbackErr: storage.ErrNotFound}
	handler := mcpSubmitFeedback(MCPDeps{QA: qa})

	result, err := handler(context.Background(), makeCallToolRequest("submit_feedback", map[string]interface{}{
		"trace_id": "nope",
		"score":    1,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unknown trace")
	}
	if !strings.Contains(toolText(t, result), "unknown trace_id") {
		t.Fatalf("text = %q", toolText(t, result))
	}
}

func TestMCPTool_SubmitFeedback_InvalidScore(t *testing.T) {
	handler := mcpSubmitFeedback(MCPDeps{QA: &fakeQA{}})

	result, err := handler(context.Background(), makeCallToolRequest("submit_feedback", map[string]interface{}{
		"trace_id": "t1",
		"score":    5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for invalid score")
	}
}
