package retrieval

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Chunk is a piece of a document stored in the index.
type Chunk struct {
	DocumentID string
	Ordinal    int
	Text       string
}

// Splitter cuts documents into overlapping chunks.
type Splitter struct {
	splitter textsplitter.RecursiveCharacter
}

// NewSplitter creates a recursive character splitter.
func NewSplitter(chunkSize, overlap int) *Splitter {
	return &Splitter{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(overlap),
		),
	}
}

// Split returns the chunks of every document in order.
func (s *Splitter) Split(docs []Document) ([]Chunk, error) {
	var chunks []Chunk
	for i, d := range docs {
		id := d.ID
		if id == "" {
			id = fmt.Sprintf("doc-%d", i)
		}
		parts, err := s.splitter.SplitText(d.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to split %s: %w", id, err)
		}
		for j, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			chunks = append(chunks, Chunk{DocumentID: id, Ordinal: j, Text: p})
		}
	}
	return chunks, nil
}
