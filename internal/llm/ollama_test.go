package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChat serves /api/chat, streaming one NDJSON line per token when asked to.
func fakeChat(t *testing.T, tokens []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream *bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		msg := func(content string, done bool) map[string]any {
			return map[string]any{
				"model":   "llama3.2",
				"message": map[string]string{"role": "assistant", "content": content},
				"done":    done,
			}
		}
		if req.Stream == nil || !*req.Stream {
			full := ""
			for _, tok := range tokens {
				full += tok
			}
			_ = enc.Encode(msg(full, true))
			return
		}
		for _, tok := range tokens {
			_ = enc.Encode(msg(tok, false))
		}
		_ = enc.Encode(msg("", true))
	}))
}

func TestOllamaGenerator_Generate(t *testing.T) {
	srv := fakeChat(t, []string{"Cats ", "are mammals."})
	defer srv.Close()

	g, err := NewOllamaGenerator(srv.URL, "llama3.2")
	require.NoError(t, err)
	text, err := g.Generate(context.Background(), "Are cats mammals?")
	require.NoError(t, err)
	assert.Equal(t, "Cats are mammals.", text)
}

func TestOllamaGenerator_GenerateStream(t *testing.T) {
	srv := fakeChat(t, []string{"Hello", " world"})
	defer srv.Close()

	g, err := NewOllamaGenerator(srv.URL, "llama3.2", WithTemperature(0.1))
	require.NoError(t, err)
	var got []string
	text, err := g.GenerateStream(context.Background(), "hi", func(_ context.Context, tok string) error {
		got = append(got, tok)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", " world"}, got)
	assert.Equal(t, "Hello world", text)
}

func TestOllamaGenerator_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	g, err := NewOllamaGenerator(srv.URL, "missing")
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), "hi")
	assert.Error(t, err)
}
