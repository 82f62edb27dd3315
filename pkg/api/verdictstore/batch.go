package verdictstore

import "time"

// Batch represents a single indexed triage batch in the database. RunID is
// the batch's result directory name, unique within a discovery path.
type Batch struct {
	ID            uint   `gorm:"primaryKey"`
	DiscoveryPath string `gorm:"not null;uniqueIndex:idx_batches_dp_run"`
	RunID         string `gorm:"not null;uniqueIndex:idx_batches_dp_run"`
	BatchID       string `gorm:"index"`
	Timestamp     int64
	TimestampEnd  int64
	SourceFile    string
	Records       int

	// Denormalized severity tally.
	PassCount    int
	WarningCount int
	FailCount    int
	FlaggedCount int

	DetectorSkipped bool
	HasSummary      bool

	// Batch configuration (thresholds, detector, host info) serialized
	// as JSON.
	ConfigJSON string `gorm:"type:text"`

	IndexedAt   time.Time
	ReindexedAt *time.Time
}
