package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/rag"
)

// handleQueryStream relays a streamed answer as Server-Sent Events. Errors found
// before the stream starts are ordinary JSON error responses.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	stream, err := s.answerer.Stream(r.Context(), req)
	if err != nil {
		s.fail(w, "stream failed", err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	for ev := range stream.Events() {
		if err := writeEvent(w, ev); err != nil {
			s.logger.Debug("stream client gone", zap.Error(err))
			return
		}
		if err := rc.Flush(); err != nil {
			s.logger.Debug("stream flush failed", zap.Error(err))
			return
		}
	}
	s.logger.Debug("stream finished", zap.String("state", stream.State().String()))
}

func writeEvent(w http.ResponseWriter, ev rag.Event) error {
	var payload interface{}
	switch ev.Type {
	case rag.EventCitations:
		citations := ev.Citations
		if citations == nil {
			citations = []models.Citation{}
		}
		payload = map[string]interface{}{"citations": citations}
	case rag.EventToken:
		payload = map[string]string{"token": ev.Token}
	case rag.EventCompletion:
		payload = ev.Answer
	case rag.EventError:
		payload = map[string]string{"message": ev.Message}
	default:
		payload = struct{}{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
