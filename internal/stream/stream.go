// Package stream fans orchestrator events out to subscribers. The default
// Sink is in-process (a buffered channel) for tests and single-process
// deployments; PulseSink publishes the same events to a Redis-backed Pulse
// stream so an external HTTP layer can subscribe over SSE without this
// package ever importing an HTTP package (spec §9: "HTTP/REST transport ...
// abstracted").
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/clinicflow/workflow-engine/internal/orchestrator"
)

// Sink receives one orchestrator.Event per call, in emission order.
type Sink interface {
	Send(ctx context.Context, conversationID string, event orchestrator.Event) error
}

// MemorySink buffers events in-process; used by tests and by callers that
// read a conversation's events directly off ProcessMessageStreaming's
// channel without needing a durable, cross-process fan-out.
type MemorySink struct {
	Events []Envelope
}

// Envelope wraps an event with the metadata a subscriber needs to route it
// (spec §6.1 streaming response: decision/agent_result/final discriminated
// by type), mirroring the teacher's Pulse envelope shape.
type Envelope struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload"`
}

func (m *MemorySink) Send(ctx context.Context, conversationID string, event orchestrator.Event) error {
	env, err := envelope(conversationID, event)
	if err != nil {
		return err
	}
	m.Events = append(m.Events, env)
	return nil
}

func envelope(conversationID string, event orchestrator.Event) (Envelope, error) {
	var typ string
	switch event.(type) {
	case orchestrator.DecisionEvent:
		typ = "decision"
	case orchestrator.AgentResultEvent:
		typ = "agent_result"
	case orchestrator.FinalEvent:
		typ = "final"
	default:
		return Envelope{}, fmt.Errorf("stream: unrecognized event type %T", event)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, ConversationID: conversationID, Timestamp: time.Now().UTC(), Payload: payload}, nil
}

// PulseOptions configures a Redis-backed PulseSink.
type PulseOptions struct {
	// Redis is the connection backing every Pulse stream. Required.
	Redis *redis.Client
	// StreamMaxLen bounds entries retained per stream; zero uses Pulse defaults.
	StreamMaxLen int
}

// PulseSink publishes events to a per-conversation Pulse stream named
// "conversation/<conversation_id>", grounded on the teacher's
// session/<SessionID> stream-naming convention.
type PulseSink struct {
	redis  *redis.Client
	maxLen int
}

// NewPulseSink builds a PulseSink. It opens no stream itself; each Send
// opens the conversation's Pulse stream before adding its event.
func NewPulseSink(opts PulseOptions) (*PulseSink, error) {
	if opts.Redis == nil {
		return nil, errors.New("stream: redis client is required")
	}
	return &PulseSink{redis: opts.Redis, maxLen: opts.StreamMaxLen}, nil
}

func (p *PulseSink) Send(ctx context.Context, conversationID string, event orchestrator.Event) error {
	env, err := envelope(conversationID, event)
	if err != nil {
		return err
	}
	var opts []streamopts.Stream
	if p.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(p.maxLen))
	}
	name := "conversation/" + conversationID
	str, err := streaming.NewStream(name, p.redis, opts...)
	if err != nil {
		return fmt.Errorf("stream: open pulse stream %q: %w", name, err)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = str.Add(ctx, env.Type, payload)
	return err
}

// Drain reads every event off events, forwarding each to sink in order,
// stopping when events closes or ctx is done. Callers typically run this in
// its own goroutine against ProcessMessageStreaming's channel.
func Drain(ctx context.Context, sink Sink, conversationID string, events <-chan orchestrator.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := sink.Send(ctx, conversationID, ev); err != nil {
				return err
			}
		}
	}
}
