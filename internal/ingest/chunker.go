// Package ingest turns source documents into embedded passages the
// retriever can search: PDF and plain-text files plus fetched web pages.
package ingest

import "strings"

const (
	// DefaultChunkSize is the chunk length in runes.
	DefaultChunkSize = 800
	// DefaultOverlap is how many trailing runes each chunk shares with the next.
	DefaultOverlap = 100
)

// Chunk splits text into overlapping rune windows. Blank-line runs are
// collapsed to a single newline first; downstream code joins passages with
// a blank line, so a chunk must never contain one itself.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultOverlap
		if overlap >= size {
			overlap = size / 8
		}
	}

	runes := []rune(normalize(text))
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// normalize unifies line endings, collapses blank-line runs and trims
// trailing whitespace from each line.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
