// Package rag splits extracted documents into bounded overlapping
// chunks and reranks them against the query by embedding similarity.
package rag

import (
	"strings"

	"github.com/sammcj/answer-engine/internal/extract"
)

const (
	// DefaultChunkSize is the target chunk length in runes.
	DefaultChunkSize = 900

	// DefaultChunkOverlap is the overlap applied on hard length cuts.
	DefaultChunkOverlap = 100
)

// Chunk is a bounded segment of one document. Ordinal is stable within
// a document and is the basis for citation numbering.
type Chunk struct {
	URL     string
	Title   string
	Text    string
	Ordinal int
}

// Chunker splits text on structural boundaries first (paragraphs, then
// lines, then sentences) and falls back to a hard rune cutoff with
// overlap. Chunking is deterministic: identical input yields identical
// boundaries and ordinals.
type Chunker struct {
	ChunkSize int
	Overlap   int
}

// NewChunker creates a chunker with sane bounds applied to its options.
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Chunker{ChunkSize: chunkSize, Overlap: overlap}
}

// ChunkDocument splits a document's text into chunks carrying the source
// URL and title. Empty or whitespace-only text yields no chunks.
func (c *Chunker) ChunkDocument(doc extract.Document) []Chunk {
	pieces := c.Split(doc.Text)
	chunks := make([]Chunk, 0, len(pieces))
	for i, text := range pieces {
		chunks = append(chunks, Chunk{
			URL:     doc.URL,
			Title:   doc.Title,
			Text:    text,
			Ordinal: i,
		})
	}
	return chunks
}

// separators are tried in order; the last resort is a hard rune window.
var separators = []string{"\n\n", "\n", ". "}

// Split returns the chunk texts for one input string.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []string
	for _, piece := range c.split(text, 0) {
		piece = strings.TrimSpace(piece)
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

func (c *Chunker) split(text string, sepIdx int) []string {
	if len([]rune(text)) <= c.ChunkSize {
		return []string{text}
	}
	if sepIdx >= len(separators) {
		return c.hardSplit(text)
	}

	sep := separators[sepIdx]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return c.split(text, sepIdx+1)
	}

	// Greedily pack split parts back into chunks up to the size bound,
	// recursing on parts that are individually oversized.
	var out []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			out = append(out, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, part := range parts {
		partLen := len([]rune(part))
		if partLen > c.ChunkSize {
			flush()
			out = append(out, c.split(part, sepIdx+1)...)
			continue
		}
		if currentLen > 0 && currentLen+len(sep)+partLen > c.ChunkSize {
			flush()
		}
		if currentLen > 0 {
			current.WriteString(sep)
			currentLen += len([]rune(sep))
		}
		current.WriteString(part)
		currentLen += partLen
	}
	flush()

	return out
}

// hardSplit cuts by rune window with overlap, the backstop for text
// without usable structure.
func (c *Chunker) hardSplit(text string) []string {
	runes := []rune(text)
	step := c.ChunkSize - c.Overlap
	if step <= 0 {
		step = c.ChunkSize
	}

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + c.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}
