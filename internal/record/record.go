// Package record defines the typed read-only accessors the core uses against
// the external patient record store (component A). Persistence and
// ingestion of the underlying data are out of scope; this package only
// describes the shapes and the capability the rest of the system consumes.
package record

import "time"

type (
	// Patient is identified by mrn and owns an ordered list of encounters.
	Patient struct {
		MRN        string      `json:"mrn"`
		Name       string      `json:"name"`
		BirthDate  time.Time   `json:"birth_date"`
		Sex        string      `json:"sex"`
		Encounters []Encounter `json:"encounters"`
	}

	// Encounter is a single hospital visit identified by csn. (mrn, csn)
	// uniquely identifies an encounter; resource ids are unique within it.
	Encounter struct {
		CSN         string       `json:"csn"`
		MRN         string       `json:"mrn"`
		AdmitTime   time.Time    `json:"admit_time"`
		DischgTime  time.Time    `json:"discharge_time,omitzero"`
		Notes       []Note       `json:"notes"`
		Medications []Medication `json:"medications"`
		Diagnoses   []Diagnosis  `json:"diagnoses"`
		Flowsheets  []Flowsheet  `json:"flowsheets"`
	}

	// Note is a clinical note authored during an encounter.
	Note struct {
		ID         string    `json:"id"`
		Type       string    `json:"type"`
		Text       string    `json:"text"`
		AuthoredAt time.Time `json:"authored_at"`
		UpdatedAt  time.Time `json:"updated_at"`
	}

	// Medication is a single order attached to an encounter.
	Medication struct {
		Order string      `json:"order"`
		Name  string      `json:"name"`
		Dose  string      `json:"dose"`
		Route string      `json:"route"`
		Times []time.Time `json:"times"`
	}

	// Diagnosis is a coded condition attached to an encounter.
	Diagnosis struct {
		Code       string `json:"code"`
		Name       string `json:"name"`
		Chronicity string `json:"chronicity"`
	}

	// Flowsheet is a single timestamped measurement instance.
	Flowsheet struct {
		MeasurementID string    `json:"measurement_id"`
		DisplayName   string    `json:"display_name"`
		Value         string    `json:"value"`
		Timestamp     time.Time `json:"timestamp"`
	}
)

// Store is the typed read capability the core requires from the external
// record system. Implementations may be backed by a database, a FHIR
// gateway, or (for tests and fixtures) an in-memory map.
type Store interface {
	// Patient returns the patient identified by mrn, including all encounters.
	Patient(mrn string) (Patient, bool)

	// Encounter returns the single encounter identified by (mrn, csn).
	Encounter(mrn, csn string) (Encounter, bool)

	// FirstEncounter returns the first encounter recorded for mrn, used by
	// the experiment scheduler (spec §4.6 step 2) to pick the encounter to
	// execute a workflow against.
	FirstEncounter(mrn string) (Encounter, bool)

	// MRNs lists every patient known to the store, in a stable order.
	MRNs() []string
}
