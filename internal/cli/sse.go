package cli

import (
	"bufio"
	"io"
	"strings"
)

// ReadEvents parses a Server-Sent Events body and calls fn with each event name and
// its data. Multi-line data is joined with newlines. Returning an error from fn stops
// reading.
func ReadEvents(r io.Reader, fn func(name string, data []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	var name string
	var data []string
	dispatch := func() error {
		if name == "" && len(data) == 0 {
			return nil
		}
		if name == "" {
			name = "message"
		}
		err := fn(name, []byte(strings.Join(data, "\n")))
		name, data = "", nil
		return err
	}
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if err := dispatch(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return dispatch()
}
