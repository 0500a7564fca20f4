package retrieval

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Compile-time check that SQLiteIndex implements Index.
var _ Index = (*SQLiteIndex)(nil)

// SQLiteIndex provides passage storage and brute-force cosine similarity
// search backed by SQLite. At corpus sizes typical for a handful of PDFs
// (a few thousand chunks) a full scan is well under query latency budgets.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex wraps an existing *sql.DB for passage operations.
// The passages table must already exist (created via migrations).
func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

// Insert adds passages to the index in a single transaction.
func (s *SQLiteIndex) Insert(passages []Passage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO passages (id, source, page, text_chunk, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range passages {
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		blob := encodeFloat32s(p.Embedding)
		if _, err := stmt.Exec(p.ID, p.Source, p.Page, p.Text, blob, createdAt.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting passage %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the ID and score during the scan phase of Search.
// Full passage rows are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Search performs brute-force cosine similarity search over all passages,
// returning the top-K most similar, best first.
func (s *SQLiteIndex) Search(vector []float32, topK int) ([]Passage, error) {
	if topK <= 0 {
		return nil, nil
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := s.db.Query(`SELECT id, embedding FROM passages`)
	if err != nil {
		return nil, fmt.Errorf("querying passages: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full rows only for the top-K IDs.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]any, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := `SELECT id, source, page, text_chunk, created_at
		FROM passages WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.Query(fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K passages: %w", err)
	}
	defer fullRows.Close()

	var results []Passage
	for fullRows.Next() {
		var p Passage
		var createdAt string
		if err := fullRows.Scan(&p.ID, &p.Source, &p.Page, &p.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning passage: %w", err)
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", p.ID, err)
		}
		p.CreatedAt = t
		p.Score = scores[p.ID]
		results = append(results, p)
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating passages: %w", err)
	}

	// Sort results by score descending (IN query doesn't preserve order).
	sortByScore(results)

	return results, nil
}

// Count returns the number of passages in the index.
func (s *SQLiteIndex) Count() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM passages`).Scan(&count)
	return count, err
}

// DeleteSource removes all passages ingested from the given source.
func (s *SQLiteIndex) DeleteSource(source string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM passages WHERE source = ?`, source)
	if err != nil {
		return 0, fmt.Errorf("deleting passages for %s: %w", source, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// sortByScore sorts passages by score descending. Used for small slices (topK).
func sortByScore(results []Passage) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// --- min-heap over idScore, lowest score at the root ---

type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)         { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// --- embedding codecs and similarity ---

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity given a precomputed query norm.
// Returns 0 when dimensions mismatch or either vector is zero.
func cosine(query, candidate []float32, queryNorm float32) float32 {
	if len(query) != len(candidate) {
		return 0
	}
	var dot float64
	for i := range query {
		dot += float64(query[i]) * float64(candidate[i])
	}
	candidateNorm := norm(candidate)
	if candidateNorm == 0 {
		return 0
	}
	return float32(dot / (float64(queryNorm) * float64(candidateNorm)))
}
