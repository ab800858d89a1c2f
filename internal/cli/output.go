// Package cli formats command output for the tanya CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/tanya/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a -output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes a complete answer followed by its sources.
func WriteAnswer(w io.Writer, ans *models.Answer, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, ans)
	}
	fmt.Fprintln(w, strings.TrimSpace(ans.RawText))
	WriteCitations(w, ans.Citations)
	return nil
}

// WriteCitations writes a numbered source list. Nothing is written for an empty list.
func WriteCitations(w io.Writer, citations []models.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sources:")
	for i, c := range citations {
		where := c.SourceID
		if c.Location != nil && c.Location.Page > 0 {
			where = fmt.Sprintf("%s, page %d", c.SourceID, c.Location.Page)
		}
		fmt.Fprintf(w, "  [%d] %s (similarity %.4f)\n", i+1, where, c.Similarity)
		if c.Preview != "" {
			fmt.Fprintf(w, "      %s\n", c.Preview)
		}
	}
}

// WriteStats writes fragment counts, sources sorted by id.
func WriteStats(w io.Writer, stats models.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "fragments:  %d\n", stats.TotalFragments)
	fmt.Fprintf(w, "sources:    %d\n", len(stats.PerSource))
	ids := make([]string, 0, len(stats.PerSource))
	for id := range stats.PerSource {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  %-40s %d\n", id, stats.PerSource[id])
	}
	return nil
}

// WriteHistory writes past answers, one line each.
func WriteHistory(w io.Writer, answers []*models.Answer, format OutputFormat) error {
	if format == OutputJSON {
		if answers == nil {
			answers = []*models.Answer{}
		}
		return writeJSON(w, answers)
	}
	if len(answers) == 0 {
		fmt.Fprintln(w, "No answers yet.")
		return nil
	}
	for _, a := range answers {
		fmt.Fprintf(w, "%s  %s  %s\n", a.CreatedAt.Local().Format("2006-01-02 15:04"), a.ID, a.Query)
	}
	return nil
}

// ReorderArgs moves flags that follow positional arguments to the front, since the
// flag package stops at the first positional. "tanya ask what is x -strict" then
// parses -strict. Boolean flags must come last or use -flag=value.
func ReorderArgs(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// JoinArgs joins positional arguments so a question works with or without quotes.
func JoinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
