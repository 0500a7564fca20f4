package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/ragloop/internal/pipeline"
	"github.com/kalambet/ragloop/internal/storage"
)

const maxBodySize = 10 << 20 // 10MB

// QA is the question-answering surface the handlers call into.
type QA interface {
	Answer(ctx context.Context, question string, k int) (pipeline.Answer, error)
	SubmitFeedback(traceID string, score int, reason string) error
}

// LedgerReader exposes the read-only ledger views for admin endpoints.
type LedgerReader interface {
	ListExamples(limit int) ([]storage.FeedbackExample, error)
	ListRuns(limit int) ([]storage.OptimizerRun, error)
	TodayThumbsDown() (int, error)
}

// OptimizeTrigger starts one optimization cycle on demand.
type OptimizeTrigger interface {
	RunOnce(ctx context.Context) (bool, error)
}

// DocIngestor indexes new source documents.
type DocIngestor interface {
	IngestFile(ctx context.Context, path string) (int, error)
	IngestText(ctx context.Context, source, text string) (int, error)
	IngestURL(ctx context.Context, url string) (int, error)
}

// AppDeps holds the handler dependencies. Optimizer and Ingestor may be
// nil; the matching admin routes then report the feature as unavailable.
type AppDeps struct {
	QA         QA
	Ledger     LedgerReader
	Optimizer  OptimizeTrigger
	Ingestor   DocIngestor
	AdminToken string
	PolicyID   string // serving policy snapshot, for /health
}

// NewAppHandler builds the HTTP surface. /ask, /feedback and /health are
// open; everything under /admin requires the bearer token and is absent
// entirely when no token is configured.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Post("/ask", handleAsk(deps))
	r.Post("/feedback", handleFeedback(deps))
	r.Get("/health", handleHealth(deps))

	if deps.AdminToken != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(BearerAuth(deps.AdminToken))
			admin.Get("/feedback/examples", handleListExamples(deps))
			admin.Get("/runs", handleListRuns(deps))
			admin.Post("/optimize", handleOptimize(deps))
			admin.Post("/ingest", handleIngest(deps))
		})
	}

	return r
}

type askRequest struct {
	Question  string `json:"question"`
	K         int    `json:"k"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type askResponse struct {
	Answer  string           `json:"answer"`
	Sources map[string][]int `json:"sources"`
	TraceID string           `json:"trace_id"`
}

func handleAsk(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		answer, err := deps.QA.Answer(r.Context(), req.Question, req.K)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "answering failed: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, askResponse{
			Answer:  answer.Text,
			Sources: answer.Sources,
			TraceID: answer.TraceID,
		})
	}
}

type feedbackRequest struct {
	TraceID string `json:"trace_id"`
	Score   *int   `json:"score"`
	Reason  string `json:"reason"`
}

func handleFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.TraceID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "trace_id is required")
			return
		}
		if req.Score == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "score is required")
			return
		}
		if *req.Score != 0 && *req.Score != 1 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "score must be 0 or 1")
			return
		}

		if err := deps.QA.SubmitFeedback(req.TraceID, *req.Score, req.Reason); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "unknown trace_id %s", req.TraceID)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "recording feedback failed: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	}
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		down, err := deps.Ledger.TodayThumbsDown()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading counter: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":            "ok",
			"policy":            deps.PolicyID,
			"thumbs_down_today": down,
		})
	}
}

func handleListExamples(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50)
		examples, err := deps.Ledger.ListExamples(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing examples: %v", err)
			return
		}
		if examples == nil {
			examples = []storage.FeedbackExample{}
		}
		writeJSON(w, http.StatusOK, examples)
	}
}

func handleListRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 20)
		runs, err := deps.Ledger.ListRuns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing runs: %v", err)
			return
		}
		if runs == nil {
			runs = []storage.OptimizerRun{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func handleOptimize(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Optimizer == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "optimizer is disabled")
			return
		}
		ran, err := deps.Optimizer.RunOnce(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "optimization failed: %v", err)
			return
		}
		status := "skipped"
		if ran {
			status = "completed"
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	}
}

type ingestRequest struct {
	Path    string `json:"path"`
	URL     string `json:"url"`
	Source  string `json:"source"`
	Content string `json:"content"`
}

func handleIngest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ingestor == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "ingestion is disabled")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var (
			chunks int
			err    error
		)
		switch {
		case req.Path != "":
			chunks, err = deps.Ingestor.IngestFile(r.Context(), req.Path)
		case req.URL != "":
			chunks, err = deps.Ingestor.IngestURL(r.Context(), req.URL)
		case req.Content != "":
			if req.Source == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "source is required with inline content")
				return
			}
			chunks, err = deps.Ingestor.IngestText(r.Context(), req.Source, req.Content)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "one of path, url or content is required")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "ingestion failed: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]int{"chunks": chunks})
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
