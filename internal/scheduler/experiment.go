// Package scheduler implements the Experiment Scheduler (component I): a
// background job that fans a saved workflow out across a patient cohort,
// persists results and progress incrementally, and exposes a terminal
// lifecycle state (spec §4.6).
package scheduler

import (
	"time"

	"github.com/clinicflow/workflow-engine/internal/exec"
	"github.com/clinicflow/workflow-engine/internal/workflow"
)

// Status enumerates the lifecycle states an Experiment passes through (spec
// §4.6: "pending → running → (completed | partial_complete | failed)").
type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusPartialComplete Status = "partial_complete"
	StatusFailed          Status = "failed"
)

// Metadata is the experiment's immutable submission record (spec §6.2
// experiments/<name>/metadata.json).
type Metadata struct {
	Name             string    `json:"name"`
	ProjectName      string    `json:"project_name"`
	WorkflowName     string    `json:"workflow_name"`
	DatasetName      string    `json:"dataset_name"`
	CreatedDate      time.Time `json:"created_date"`
	LastModifiedDate time.Time `json:"last_modified_date"`
	TotalPatients    int       `json:"total_patients"`
	TotalEncounters  int       `json:"total_encounters"`
}

// Progress tracks the cohort fanout's advancement (spec §6.2 status.json
// "progress" object).
type Progress struct {
	TotalPatients     int    `json:"total_patients"`
	ProcessedCount    int    `json:"processed_count"`
	FailedCount       int    `json:"failed_count"`
	CurrentPatientMRN string `json:"current_patient_mrn,omitempty"`
}

// ErrorRecord is one entry in status.errors, identifying the patient and
// reason a per-patient failure was isolated (spec §4.6 partial-failure
// policy).
type ErrorRecord struct {
	PatientMRN string `json:"patient_mrn"`
	Reason     string `json:"reason"`
}

// StatusRecord is the experiment's mutable lifecycle state (spec §6.2
// status.json).
type StatusRecord struct {
	Status             Status        `json:"status"`
	Progress           Progress      `json:"progress"`
	StartedAt          *time.Time    `json:"started_at,omitempty"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	TotalFlagsDetected int           `json:"total_flags_detected"`
	Errors             []ErrorRecord `json:"errors,omitempty"`
}

// Results accumulates the fanout's output across patients (spec §6.2
// results.json: "output_definitions deduplicated by id, and streaming
// output_values").
type Results struct {
	OutputDefinitions []workflow.OutputDefinition `json:"output_definitions"`
	OutputValues      []exec.OutputValue          `json:"output_values"`
}

// Experiment is the full in-memory aggregate persisted across the three
// per-experiment files (spec §6.2: metadata.json, status.json, results.json).
type Experiment struct {
	Metadata Metadata
	Status   StatusRecord
	Results  Results
}

// appendOutputDefinitions merges defs into r, deduplicating by id (spec
// §4.6 step 2: "deduped by id").
func (r *Results) appendOutputDefinitions(defs []workflow.OutputDefinition) {
	seen := make(map[string]bool, len(r.OutputDefinitions))
	for _, d := range r.OutputDefinitions {
		seen[d.ID] = true
	}
	for _, d := range defs {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		r.OutputDefinitions = append(r.OutputDefinitions, d)
	}
}

// countDetectedFlags sums values.detected == true across output values,
// the scenario-5 definition of total_flags_detected (spec §8 scenario 5).
func countDetectedFlags(values []exec.OutputValue) int {
	count := 0
	for _, v := range values {
		m, ok := v.Values.(map[string]any)
		if !ok {
			continue
		}
		if detected, ok := m["detected"].(bool); ok && detected {
			count++
		}
	}
	return count
}
