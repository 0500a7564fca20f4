package main

import (
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/ragloop/internal/config"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest documents into the corpus",
	Long: `Ingest documents into the corpus.

Examples:
  ragloop ingest --file ./handbook.pdf
  ragloop ingest --file ./notes.txt
  ragloop ingest --url https://example.com/article`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		url, _ := cmd.Flags().GetString("url")

		if file == "" && url == "" {
			return fmt.Errorf("one of --file or --url is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{}
		switch {
		case file != "":
			abs, err := filepath.Abs(file)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}
			req["path"] = abs
		case url != "":
			req["url"] = url
		}

		printStep("Ingesting...")
		resp, err := client.post("/admin/ingest", req)
		if err != nil {
			return err
		}

		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Indexed %d chunks", result["chunks"])
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("file", "", "PDF or text file to ingest")
	ingestCmd.Flags().String("url", "", "URL to fetch and ingest")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question against the ingested documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("k")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/ask", map[string]any{
			"question": args[0],
			"k":        k,
		})
		if err != nil {
			return err
		}

		var result struct {
			Answer  string           `json:"answer"`
			Sources map[string][]int `json:"sources"`
			TraceID string           `json:"trace_id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Answer)

		if len(result.Sources) > 0 {
			names := make([]string, 0, len(result.Sources))
			for name := range result.Sources {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				pages := result.Sources[name]
				if len(pages) > 0 {
					printStatus("Source", "%s pages %v", name, pages)
				} else {
					printStatus("Source", "%s", name)
				}
			}
		}
		printStatus("Trace", "%s", result.TraceID)
		return nil
	},
}

func init() {
	askCmd.Flags().Int("k", 0, "number of passages to retrieve (0 = server default)")
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback <trace-id> <up|down>",
	Short: "Record a verdict for a previous answer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		var score int
		switch args[1] {
		case "up", "1":
			score = 1
		case "down", "0":
			score = 0
		default:
			return fmt.Errorf("verdict must be up or down, got %q", args[1])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/feedback", map[string]any{
			"trace_id": args[0],
			"score":    score,
			"reason":   reason,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Feedback recorded for %s", args[0])
		return nil
	},
}

func init() {
	feedbackCmd.Flags().String("reason", "", "short explanation of the verdict")
}

// --- optimize ---

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Trigger an optimization cycle now",
	Long: `Trigger an optimization cycle now.

The run still honors the scheduler gates: it is skipped when the last run
is too recent or too little new feedback has accumulated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Requesting optimization run...")
		resp, err := client.post("/admin/optimize", map[string]any{})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		switch result["status"] {
		case "completed":
			printSuccess("Optimization run completed, new artifact installed")
		case "skipped":
			printWarning("Optimization skipped (gates not met)")
		default:
			printStatus("Status", "%s", result["status"])
		}
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ragloop system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
		httpClient := &http.Client{Timeout: 2 * time.Second}

		resp, err := httpClient.Get(serverURL + "/health")
		if err != nil {
			printStatus("Server", "stopped")
		} else {
			var health struct {
				Policy          string `json:"policy"`
				ThumbsDownToday int    `json:"thumbs_down_today"`
			}
			if err := decodeJSON(resp, &health); err == nil {
				printStatus("Server", "running on port %d", cfg.Server.Port)
				printStatus("Policy", "%s", health.Policy)
				printStatus("Thumbs down today", "%s", strconv.Itoa(health.ThumbsDownToday))
			} else {
				printStatus("Server", "error (%v)", err)
			}
		}

		ollamaResp, err := httpClient.Get(cfg.Ollama.BaseURL + "/api/version")
		if err != nil {
			printStatus("Ollama", "not running")
		} else {
			ollamaResp.Body.Close()
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		}

		printStatus("Chat model", "%s", cfg.Ollama.ChatModel)
		printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
		printStatus("Data dir", "%s", cfg.Storage.DataDir)

		// Show recent optimizer runs when the admin API is available.
		if cfg.Server.AdminToken != "" {
			client, err := newAPIClient()
			if err == nil {
				if runsResp, err := client.get("/admin/runs?limit=5"); err == nil {
					var runs []struct {
						ID        int64     `json:"id"`
						CreatedAt time.Time `json:"created_at"`
					}
					if decodeJSON(runsResp, &runs) == nil {
						if len(runs) == 0 {
							printStatus("Optimizer runs", "none yet")
						} else {
							printStatus("Optimizer runs", "%d (last at %s)", len(runs), runs[0].CreatedAt.Format(time.RFC3339))
						}
					}
				}
			}
		}

		return nil
	},
}
