package manifest

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	defaultChunkSize    = 400
	defaultChunkOverlap = 40
)

// chunkText splits doc text into overlapping, word-boundary-aligned pieces.
// Content is first run through NFC normalization so composed/decomposed
// variants of the same text hash and chunk identically regardless of
// source encoding, then split on whitespace so a chunk boundary never
// falls inside a token.
func chunkText(content string, cfg Chunking) []Chunk {
	size := cfg.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	overlap := cfg.ChunkOverlap
	if overlap < 0 || overlap >= size {
		overlap = defaultChunkOverlap
	}

	words := strings.Fields(norm.NFC.String(content))
	if len(words) == 0 {
		return nil
	}

	var chunks []Chunk
	stride := size - overlap
	for start, idx := 0, 0; start < len(words); start, idx = start+stride, idx+1 {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, Chunk{Index: idx, Text: strings.Join(words[start:end], " ")})
		if end == len(words) {
			break
		}
	}
	return chunks
}
