package verdictstore

// Verdict represents one solver-run verdict belonging to an indexed batch.
// BatchRunID references Batch.RunID within the same discovery path; RunID
// is the solver run's own identifier from the source data.
type Verdict struct {
	ID            uint   `gorm:"primaryKey"`
	DiscoveryPath string `gorm:"not null;uniqueIndex:idx_verdicts_dp_batch_run"`
	BatchRunID    string `gorm:"not null;uniqueIndex:idx_verdicts_dp_batch_run;index"`
	RunID         string `gorm:"not null;uniqueIndex:idx_verdicts_dp_batch_run"`
	SolverKind    string `gorm:"index"`
	Severity      string `gorm:"index"`
	Flagged       bool

	// Reasons serialized as a JSON array, preserving evaluation order.
	ReasonsJSON string `gorm:"type:text"`

	// Detector assessment. Score is nil when the record was not scored.
	Score     *float64
	Anomalous bool

	// Denormalized record fields for display.
	MaxStress    *float64
	Displacement *float64
	Iterations   *float64
	Converged    bool
	HasMissing   bool
}
