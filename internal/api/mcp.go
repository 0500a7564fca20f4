package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/ragloop/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	QA QA
}

// NewMCPServer exposes the document QA loop as MCP tools, so agent hosts
// can ask questions and feed verdicts back into the ledger.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"ragloop",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("ragloop — document question answering with feedback-driven policy optimization."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_documents",
			mcp.WithDescription("Answer a question from the ingested document corpus. Returns the answer, cited sources, and a trace_id for later feedback."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithNumber("k", mcp.Description("How many passages to retrieve (default 4)")),
		),
		mcpAskDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_feedback",
			mcp.WithDescription("Record a thumbs up/down verdict for a previous ask_documents answer."),
			mcp.WithString("trace_id", mcp.Description("trace_id returned by ask_documents"), mcp.Required()),
			mcp.WithNumber("score", mcp.Description("1 for thumbs up, 0 for thumbs down"), mcp.Required()),
			mcp.WithString("reason", mcp.Description("Optional short explanation of the verdict")),
		),
		mcpSubmitFeedback(deps),
	)

	return s
}

func mcpAskDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		k := req.GetInt("k", 0)

		answer, err := deps.QA.Answer(ctx, question, k)
		if err != nil {
			return mcpError(fmt.Sprintf("answering failed: %v", err)), nil
		}

		out, err := json.Marshal(askResponse{
			Answer:  answer.Text,
			Sources: answer.Sources,
			TraceID: answer.TraceID,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("encoding answer: %v", err)), nil
		}
		return mcpText(string(out)), nil
	}
}

func mcpSubmitFeedback(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		traceID, err := req.RequireString("trace_id")
		if err != nil {
			return mcpError("trace_id is required"), nil
		}
		score, err := req.RequireInt("score")
		if err != nil {
			return mcpError("score is required"), nil
		}
		if score != 0 && score != 1 {
			return mcpError("score must be 0 or 1"), nil
		}
		reason := req.GetString("reason", "")

		if err := deps.QA.SubmitFeedback(traceID, score, reason); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError(fmt.Sprintf("unknown trace_id %s", traceID)), nil
			}
			return mcpError(fmt.Sprintf("recording feedback failed: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Feedback recorded for %s", traceID)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
