package extract

import (
	"fmt"

	"github.com/lu4p/cat"
)

// extractRTF strips RTF control words. RTF has no page structure.
func extractRTF(content []byte) (*Result, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return nil, fmt.Errorf("extract RTF: %w", err)
	}
	return extractPlain([]byte(text)), nil
}
