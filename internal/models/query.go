package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// QueryRequest is a question to answer from the indexed fragments.
// Zero TopK and nil Floor mean "use the configured value".
type QueryRequest struct {
	Query    string   `json:"query"`
	TopK     int      `json:"top_k,omitempty"`
	Floor    *float64 `json:"similarity_floor,omitempty"`
	SourceID string   `json:"source_id,omitempty"`
	Strict   bool     `json:"strict,omitempty"`
}

// Validate trims the query and rejects empty or oversized input.
// maxLength is measured in runes; 0 disables the length check.
func (q *QueryRequest) Validate(maxLength int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrValidation)
	}
	if maxLength > 0 && utf8.RuneCountInString(q.Query) > maxLength {
		return fmt.Errorf("%w: query exceeds %d characters", ErrValidation, maxLength)
	}
	if q.TopK < 0 {
		return fmt.Errorf("%w: top_k cannot be negative", ErrValidation)
	}
	if q.Floor != nil && (*q.Floor < -1 || *q.Floor > 1) {
		return fmt.Errorf("%w: similarity_floor must be within [-1, 1]", ErrValidation)
	}
	return nil
}
