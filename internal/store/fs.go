package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clinicflow/workflow-engine/internal/orchestrator"
	"github.com/clinicflow/workflow-engine/internal/scheduler"
)

// FSStore persists conversations, traces, and experiments under Root,
// matching the on-disk layout spec §6.2 specifies bit-exact for
// compatibility:
//
//	conversations/<conversation_id>/conversation.json
//	conversations/<conversation_id>/traces/turn_NNN.jsonl
//	experiments/<name>/{metadata,status,results}.json
type FSStore struct {
	Root string
}

// NewFSStore builds an FSStore rooted at root, creating it if absent.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("store: create root %q: %w", root, err)
	}
	return &FSStore{Root: root}, nil
}

func (s *FSStore) conversationDir(id string) string {
	return filepath.Join(s.Root, "conversations", id)
}

func (s *FSStore) experimentDir(name string) string {
	return filepath.Join(s.Root, "experiments", name)
}

// writeJSON writes v to path atomically (spec §5: "experiment writes ... are
// individually atomic").
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// writeAtomic writes data to path by encoding to a temp file in the same
// directory, then renaming over the target, so a reader never observes a
// partially written file. Shared by writeJSON and SaveTrace so every file
// this store produces — experiment artifacts and turn traces alike — gets
// the same atomicity guarantee.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SaveConversation persists a conversation's full JSON representation (spec
// §6.2 conversation.json).
func (s *FSStore) SaveConversation(id string, conv orchestrator.AgentState) error {
	return writeJSON(filepath.Join(s.conversationDir(id), "conversation.json"), conv)
}

// LoadConversation reads back a previously saved conversation.
func (s *FSStore) LoadConversation(id string) (orchestrator.AgentState, error) {
	var conv orchestrator.AgentState
	err := readJSON(filepath.Join(s.conversationDir(id), "conversation.json"), &conv)
	return conv, err
}

// traceWriter is satisfied by *trace.Recorder; kept narrow so this package
// does not need every Recorder method, only the two needed to persist a
// finalized turn.
type traceWriter interface {
	FileName() string
	MarshalJSONL() ([]byte, error)
}

// SaveTrace writes a finalized turn's trace to
// conversations/<id>/traces/turn_NNN.jsonl.
func (s *FSStore) SaveTrace(conversationID string, rec traceWriter) error {
	data, err := rec.MarshalJSONL()
	if err != nil {
		return err
	}
	path := filepath.Join(s.conversationDir(conversationID), "traces", rec.FileName())
	return writeAtomic(path, data)
}

// SaveMetadata implements scheduler.Persister.
func (s *FSStore) SaveMetadata(name string, m scheduler.Metadata) error {
	return writeJSON(filepath.Join(s.experimentDir(name), "metadata.json"), m)
}

// SaveStatus implements scheduler.Persister.
func (s *FSStore) SaveStatus(name string, st scheduler.StatusRecord) error {
	return writeJSON(filepath.Join(s.experimentDir(name), "status.json"), st)
}

// SaveResults implements scheduler.Persister.
func (s *FSStore) SaveResults(name string, r scheduler.Results) error {
	return writeJSON(filepath.Join(s.experimentDir(name), "results.json"), r)
}

// LoadMetadata reads back a previously saved experiment's metadata.
func (s *FSStore) LoadMetadata(name string) (scheduler.Metadata, error) {
	var m scheduler.Metadata
	err := readJSON(filepath.Join(s.experimentDir(name), "metadata.json"), &m)
	return m, err
}

// LoadStatus reads back an experiment's current status record (backs `GET
// /experiments/{name}/status`).
func (s *FSStore) LoadStatus(name string) (scheduler.StatusRecord, error) {
	var st scheduler.StatusRecord
	err := readJSON(filepath.Join(s.experimentDir(name), "status.json"), &st)
	return st, err
}

// LoadResults reads back an experiment's full results (backs `GET
// /experiments/{name}`).
func (s *FSStore) LoadResults(name string) (scheduler.Results, error) {
	var r scheduler.Results
	err := readJSON(filepath.Join(s.experimentDir(name), "results.json"), &r)
	return r, err
}

var _ scheduler.Persister = (*FSStore)(nil)
