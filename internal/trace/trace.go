// Package trace implements the Trace Recorder (component H): durable,
// ordered, per-turn capture of orchestrator reasoning and state changes.
package trace

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/clinicflow/workflow-engine/pkg/clock"
)

// EventType enumerates the event kinds spec §3 names.
type EventType string

const (
	EventTurnStart     EventType = "turn_start"
	EventInitialState  EventType = "initial_state"
	EventDecision      EventType = "decision"
	EventAgentInput    EventType = "agent_input"
	EventAgentOutput   EventType = "agent_output"
	EventStateSnapshot EventType = "state_snapshot"
	EventError         EventType = "error"
	EventFinal         EventType = "final"
)

// Event is one JSON-serializable line in a turn's trace file.
type Event struct {
	EventType    EventType `json:"event_type"`
	Timestamp    string    `json:"ts"`
	TsRelativeMs int64     `json:"ts_relative_ms"`
	Payload      any       `json:"payload,omitempty"`
}

// ErrFinalized is returned by every Record* method once Finalize has run.
var ErrFinalized = fmt.Errorf("trace: recorder already finalized")

// Recorder accumulates one turn's events in memory (spec §4.5). It does not
// write files itself: MarshalJSONL renders the events as JSONL, and
// store.FSStore.SaveTrace persists that output.
type Recorder struct {
	mu             sync.Mutex
	conversationID string
	turnNumber     int
	clock          clock.Clock
	turnStart      time.Time
	events         []Event
	finalized      bool
}

// New creates a recorder for (conversationID, turnNumber). c may be nil, in
// which case clock.Real{} is used.
func New(conversationID string, turnNumber int, c clock.Clock) *Recorder {
	if c == nil {
		c = clock.Real{}
	}
	r := &Recorder{conversationID: conversationID, turnNumber: turnNumber, clock: c}
	r.turnStart = c.Now()
	return r
}

func (r *Recorder) record(et EventType, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return ErrFinalized
	}
	now := r.clock.Now()
	r.events = append(r.events, Event{
		EventType:    et,
		Timestamp:    now.UTC().Format(time.RFC3339Nano),
		TsRelativeMs: now.Sub(r.turnStart).Milliseconds(),
		Payload:      payload,
	})
	return nil
}

func (r *Recorder) RecordTurnStart(payload any) error     { return r.record(EventTurnStart, payload) }
func (r *Recorder) RecordInitialState(payload any) error  { return r.record(EventInitialState, payload) }
func (r *Recorder) RecordDecision(payload any) error      { return r.record(EventDecision, payload) }
func (r *Recorder) RecordAgentInput(payload any) error    { return r.record(EventAgentInput, payload) }
func (r *Recorder) RecordAgentOutput(payload any) error   { return r.record(EventAgentOutput, payload) }
func (r *Recorder) RecordStateSnapshot(payload any) error { return r.record(EventStateSnapshot, payload) }
func (r *Recorder) RecordError(payload any) error         { return r.record(EventError, payload) }

// FinalPayload is the payload attached to the terminal `final` event.
type FinalPayload struct {
	TotalCostUSD      float64 `json:"total_cost_usd"`
	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`
}

// Finalize appends the terminal `final` event and marks the recorder closed
// to further events (spec §4.5).
func (r *Recorder) Finalize(totalCostUSD float64, totalInputTokens, totalOutputTokens int) error {
	if err := r.record(EventFinal, FinalPayload{totalCostUSD, totalInputTokens, totalOutputTokens}); err != nil {
		return err
	}
	r.mu.Lock()
	r.finalized = true
	r.mu.Unlock()
	return nil
}

// FileName is the deterministic per-turn filename spec §4.5 requires.
func (r *Recorder) FileName() string {
	return fmt.Sprintf("turn_%03d.jsonl", r.turnNumber)
}

// MarshalJSONL renders every recorded event as one JSON object per line, the
// on-disk shape store.FSStore.SaveTrace writes (spec §6.2
// traces/turn_NNN.jsonl).
func (r *Recorder) MarshalJSONL() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, e := range r.events {
		line, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out, nil
}

// Events returns a copy of the events recorded so far, for tests that assert
// on trace shape without touching disk.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
