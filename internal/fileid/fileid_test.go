package fileid

import (
	"strings"
	"testing"
)

func TestSourceID(t *testing.T) {
	id1 := SourceID("/foo/bar.txt")
	if id1 != SourceID("/foo/bar.txt") {
		t.Error("same path should give same ID")
	}
	if !strings.HasPrefix(id1, "bar.txt-") {
		t.Errorf("ID should start with the base name: %q", id1)
	}
	if len(id1) != len("bar.txt-")+hashLen {
		t.Errorf("unexpected length: %q", id1)
	}
}

func TestSourceID_differentPaths(t *testing.T) {
	if SourceID("/foo/bar.txt") == SourceID("/baz/bar.txt") {
		t.Error("same base name in different directories should give different IDs")
	}
}

func TestSourceID_normalized(t *testing.T) {
	id := SourceID("/foo/bar")
	if id != SourceID("/foo/bar/") || id != SourceID("/foo/./bar") {
		t.Error("equivalent paths should give the same ID")
	}
}

func TestSourceID_reservedCharacters(t *testing.T) {
	id := SourceID("/tmp/notes#1?.md")
	if strings.ContainsAny(id, "#?") {
		t.Errorf("reserved characters should be replaced: %q", id)
	}
}
