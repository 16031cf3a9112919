package domain

import "time"

// Correction records drift repaired by reconciliation.
type Correction struct {
	Key            StockKey  `json:"key"`
	OldOnHand      int       `json:"old_on_hand"`
	NewOnHand      int       `json:"new_on_hand"`
	OldReserved    int       `json:"old_reserved"`
	NewReserved    int       `json:"new_reserved"`
	RowCreated     bool      `json:"row_created"`
	ReservedCapped bool      `json:"reserved_capped,omitempty"`
	CorrectedAt    time.Time `json:"corrected_at"`
}

// ReconcileReport summarises one reconciliation run.
type ReconcileReport struct {
	Checked     int          `json:"checked"`
	Corrections []Correction `json:"corrections"`
	Failed      int          `json:"failed"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}
