// Package fileid derives stable source ids for files ingested from disk.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// hashLen is the number of hex digits of the path hash kept in an id.
const hashLen = 12

// SourceID returns a readable, stable source id for path: the base name followed by
// a short hash of the cleaned path, e.g. "report.pdf-1a2b3c4d5e6f". The same path
// always yields the same id, so re-ingesting a file replaces its fragments.
func SourceID(path string) string {
	cleaned := filepath.Clean(path)
	sum := sha256.Sum256([]byte(cleaned))
	base := strings.Map(func(r rune) rune {
		switch r {
		case '#', '/', '\\', '?':
			return '_'
		}
		return r
	}, filepath.Base(cleaned))
	return base + "-" + hex.EncodeToString(sum[:])[:hashLen]
}
