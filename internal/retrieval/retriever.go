// Package retrieval finds the document passages most relevant to a question.
// It embeds the query and runs cosine similarity search over the passage
// index; this is the retrieval oracle consumed by the answer pipeline.
package retrieval

import (
	"context"
	"time"
)

// Passage is one retrieved context fragment with its provenance. Embedding
// is populated on insert and left nil on search results.
type Passage struct {
	ID        string
	Source    string
	Page      int
	Text      string
	Embedding []float32
	Score     float32
	CreatedAt time.Time
}

// QueryEmbedder turns a query string into an embedding vector.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the passage store searched by the Retriever.
type Index interface {
	Insert(passages []Passage) error
	Search(vector []float32, topK int) ([]Passage, error)
	Count() (int, error)
}

// Retriever combines embedding and vector search to find relevant passages.
type Retriever struct {
	embedder QueryEmbedder
	index    Index
}

// NewRetriever creates a Retriever backed by the given embedder and index.
func NewRetriever(embedder QueryEmbedder, index Index) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve embeds the query and returns the top-K most similar passages.
// An empty result is nil, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.index.Search(vec, topK)
}
