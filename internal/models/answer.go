package models

import "time"

// Citation points the reader at one fragment used to ground an answer.
type Citation struct {
	SourceID   string    `json:"source_id"`
	FragmentID string    `json:"fragment_id"`
	Location   *Location `json:"location,omitempty"`
	Similarity float64   `json:"similarity"`
	Preview    string    `json:"preview"`
	Link       string    `json:"link"`
}

// Answer is the result of a complete-mode query.
type Answer struct {
	ID          string     `json:"id,omitempty"`
	Query       string     `json:"query"`
	DisplayText string     `json:"display_text"`
	RawText     string     `json:"raw_text"`
	Citations   []Citation `json:"citations"`
	// NoGrounding is set when retrieval found nothing above the similarity floor.
	NoGrounding bool      `json:"no_grounding,omitempty"`
	Strict      bool      `json:"strict"`
	CreatedAt   time.Time `json:"created_at"`
}
