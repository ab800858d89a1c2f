// Package models defines core data structures for fragments, queries, answers, and errors.
package models

import (
	"strconv"
	"time"
)

// Location places a fragment inside its source document. Offsets are rune offsets
// into the normalized source text; Page is 1-based and 0 when unknown.
type Location struct {
	Page  int `json:"page,omitempty"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// Fragment is the atomic retrievable unit: a bounded piece of source text and its embedding.
type Fragment struct {
	ID        string    `json:"id" db:"id"`
	SourceID  string    `json:"source_id" db:"source_id"`
	Text      string    `json:"text" db:"text"`
	Embedding []float32 `json:"-" db:"embedding"`
	Location  *Location `json:"location,omitempty"`
	Position  int       `json:"position" db:"position"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RankedFragment is a fragment scored against a query vector. Never persisted.
type RankedFragment struct {
	*Fragment
	Similarity float64 `json:"similarity"`
}

// Stats summarizes the contents of the vector index.
type Stats struct {
	TotalFragments int            `json:"total_fragments"`
	PerSource      map[string]int `json:"per_source"`
}

// IngestInput is the input for ingesting one source document.
type IngestInput struct {
	SourceID string `json:"id,omitempty"`
	Title    string `json:"title,omitempty"`
	Text     string `json:"text"`
	// PageBoundaries holds the rune offset at which each page starts in Text.
	PageBoundaries []int `json:"page_boundaries,omitempty"`
}

// IngestResult reports the outcome of an ingestion.
type IngestResult struct {
	SourceID      string `json:"id"`
	FragmentCount int    `json:"fragments"`
}

// FragmentID returns the stable identifier of the fragment at position in sourceID.
func FragmentID(sourceID string, position int) string {
	return sourceID + "#" + strconv.Itoa(position)
}
