package rag

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/models"
)

// EventType identifies a stream event.
type EventType string

const (
	EventCitations  EventType = "citations"
	EventToken      EventType = "token"
	EventCompletion EventType = "completion"
	EventError      EventType = "error"
	// EventDone is always the last event of a stream that was not cancelled.
	EventDone EventType = "done"
)

// Event is one message of a streamed answer. Which fields are set depends on Type.
type Event struct {
	Type EventType `json:"type"`
	// Citations is set on EventCitations.
	Citations []models.Citation `json:"citations,omitempty"`
	// Token is set on EventToken.
	Token string `json:"token,omitempty"`
	// Answer is set on EventCompletion.
	Answer *models.Answer `json:"answer,omitempty"`
	// Message is set on EventError.
	Message string `json:"message,omitempty"`
}

// State is the lifecycle state of a Stream.
type State int32

const (
	StateStarted State = iota
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stream relays one streamed answer to a single consumer.
// Events is closed after EventDone, or without a terminal event when the
// request context is cancelled.
type Stream struct {
	events chan Event
	state  atomic.Int32
}

// Events returns the event channel. It must be drained until closed or the
// request context cancelled.
func (s *Stream) Events() <-chan Event { return s.events }

// State returns the current state. It is final once Events is closed.
func (s *Stream) State() State { return State(s.state.Load()) }

func (s *Stream) setState(st State) { s.state.Store(int32(st)) }

func (s *Stream) send(ctx context.Context, ev Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stream answers req incrementally. Validation, capability and storage errors found
// while retrieving are returned directly; once the Stream is returned every later
// failure arrives as an EventError. Cancelling ctx stops generation and closes the
// channel without a terminal event.
func (a *Answerer) Stream(ctx context.Context, req models.QueryRequest) (*Stream, error) {
	p, err := a.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	s := &Stream{events: make(chan Event, 16)}
	s.setState(StateStarted)
	go a.run(ctx, s, p)
	return s, nil
}

func (a *Answerer) run(ctx context.Context, s *Stream, p *plan) {
	defer close(s.events)

	if err := s.send(ctx, Event{Type: EventCitations, Citations: p.citations}); err != nil {
		s.setState(StateCancelled)
		return
	}

	var raw string
	if p.grounded() {
		s.setState(StateStreaming)
		var acc strings.Builder
		genCtx, cancel := withTimeout(ctx, a.genTimeout)
		_, err := a.generator.GenerateStream(genCtx, p.prompt, func(_ context.Context, token string) error {
			acc.WriteString(token)
			return s.send(ctx, Event{Type: EventToken, Token: token})
		})
		cancel()
		if ctx.Err() != nil {
			a.logger.Debug("stream cancelled", zap.Int("received", acc.Len()))
			s.setState(StateCancelled)
			return
		}
		if err != nil {
			err = fmt.Errorf("generate: %w: %w", models.ErrGenerationUnavailable, err)
			a.logger.Warn("stream failed", zap.Error(err))
			if s.send(ctx, Event{Type: EventError, Message: err.Error()}) != nil ||
				s.send(ctx, Event{Type: EventDone}) != nil {
				s.setState(StateCancelled)
				return
			}
			s.setState(StateFailed)
			return
		}
		raw = acc.String()
	} else {
		raw = NoGroundingMessage
	}

	ans := a.newAnswer(p, raw)
	if s.send(ctx, Event{Type: EventCompletion, Answer: ans}) != nil ||
		s.send(ctx, Event{Type: EventDone}) != nil {
		s.setState(StateCancelled)
		return
	}
	s.setState(StateCompleted)
	a.save(ctx, ans)
}
