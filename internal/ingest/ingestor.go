package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/ragloop/internal/retrieval"
)

// PassageIndex abstracts the vector index writes the ingestor needs.
type PassageIndex interface {
	Insert(passages []retrieval.Passage) error
	DeleteSource(source string) (int, error)
}

// BatchEmbedder generates embeddings for a batch of chunks.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Ingestor chunks, embeds and indexes documents. Re-ingesting a source
// replaces its previous passages.
type Ingestor struct {
	index     PassageIndex
	embedder  BatchEmbedder
	http      *http.Client
	chunkSize int
	overlap   int
	logger    *slog.Logger
}

// New creates an Ingestor with default chunking parameters.
func New(index PassageIndex, embedder BatchEmbedder, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		index:     index,
		embedder:  embedder,
		http:      &http.Client{Timeout: 30 * time.Second},
		chunkSize: DefaultChunkSize,
		overlap:   DefaultOverlap,
		logger:    logger,
	}
}

// IngestFile dispatches on the file extension: .pdf goes through the PDF
// extractor, anything else is treated as plain text.
func (ing *Ingestor) IngestFile(ctx context.Context, path string) (int, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return ing.IngestPDF(ctx, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	return ing.IngestText(ctx, filepath.Base(path), string(data))
}

// IngestPDF extracts a PDF page by page and indexes the chunks with their
// page numbers, so answers can cite them.
func (ing *Ingestor) IngestPDF(ctx context.Context, path string) (int, error) {
	pages, err := ExtractPDF(path)
	if err != nil {
		return 0, err
	}

	source := filepath.Base(path)

	var chunks []string
	var pageOf []int
	for _, page := range pages {
		for _, chunk := range Chunk(page.Text, ing.chunkSize, ing.overlap) {
			chunks = append(chunks, chunk)
			pageOf = append(pageOf, page.Page)
		}
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("pdf %s produced no chunks", path)
	}

	return ing.indexChunks(ctx, source, chunks, pageOf)
}

// IngestText chunks raw text and indexes it under the given source name.
func (ing *Ingestor) IngestText(ctx context.Context, source, text string) (int, error) {
	chunks := Chunk(text, ing.chunkSize, ing.overlap)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("source %s produced no chunks", source)
	}
	return ing.indexChunks(ctx, source, chunks, nil)
}

// IngestURL fetches a web page, strips it to visible text and indexes it
// with the URL as the source.
func (ing *Ingestor) IngestURL(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("building request for %s: %w", url, err)
	}

	resp, err := ing.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	text, err := ExtractHTML(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", url, err)
	}
	if text == "" {
		return 0, fmt.Errorf("%s has no visible text", url)
	}

	return ing.IngestText(ctx, url, text)
}

// indexChunks embeds the chunks, drops any previous passages for the
// source and inserts the new batch. pageOf may be nil for non-paginated
// sources.
func (ing *Ingestor) indexChunks(ctx context.Context, source string, chunks []string, pageOf []int) (int, error) {
	vectors, err := ing.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embedding %d chunks from %s: %w", len(chunks), source, err)
	}

	now := time.Now().UTC()
	passages := make([]retrieval.Passage, len(chunks))
	for i, chunk := range chunks {
		page := 0
		if pageOf != nil {
			page = pageOf[i]
		}
		passages[i] = retrieval.Passage{
			ID:        uuid.New().String(),
			Source:    source,
			Page:      page,
			Text:      chunk,
			Embedding: vectors[i],
			CreatedAt: now,
		}
	}

	removed, err := ing.index.DeleteSource(source)
	if err != nil {
		return 0, fmt.Errorf("replacing passages for %s: %w", source, err)
	}
	if removed > 0 {
		ing.logger.Info("replacing previously ingested source", "source", source, "removed", removed)
	}

	if err := ing.index.Insert(passages); err != nil {
		return 0, fmt.Errorf("indexing passages for %s: %w", source, err)
	}

	ing.logger.Info("ingested source", "source", source, "chunks", len(passages))
	return len(passages), nil
}
