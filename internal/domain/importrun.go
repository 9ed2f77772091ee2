package domain

import (
	"errors"
	"time"
)

// ErrRunNotFound is returned when a batch reports against an import run whose
// ledger entry no longer exists.
var ErrRunNotFound = errors.New("import run not found")

// RunStatus represents the status of an import run.
// Values only move pending -> processing -> {completed, failed}.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// ImportRun is the ledger entry for one import attempt from one source.
// Counters are only ever mutated through atomic field-level increments; the
// terminal transition sets EndTime and DurationMs exactly once.
type ImportRun struct {
	ID string `gorm:"type:text;primaryKey" json:"id"`

	// Origin feed URL this run imported from.
	Source string `gorm:"type:text;not null;index:idx_import_runs_source" json:"source"`

	// Statistics. TotalImported == NewJobs + UpdatedJobs.
	TotalFetched  int `gorm:"default:0" json:"total_fetched"`
	TotalImported int `gorm:"default:0" json:"total_imported"`
	NewJobs       int `gorm:"default:0" json:"new_jobs"`
	UpdatedJobs   int `gorm:"default:0" json:"updated_jobs"`
	FailedJobs    int `gorm:"default:0" json:"failed_jobs"`

	// Number of batches enqueued for this run, fixed at enqueue time.
	TotalBatches int `gorm:"default:0" json:"total_batches"`

	StartTime  time.Time  `gorm:"not null;index:idx_import_runs_start_time,sort:desc" json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	DurationMs int64      `gorm:"default:0" json:"duration_ms"`

	Status RunStatus `gorm:"type:text;default:pending;index:idx_import_runs_status" json:"status"`
	Error  string    `gorm:"type:text" json:"error,omitempty"`

	Metadata JSONMap `gorm:"type:text" json:"metadata,omitempty"`

	// Loaded on demand; omitted from list views.
	FailedJobDetails []FailedJobDetail `gorm:"foreignKey:ImportRunID" json:"failed_job_details,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for ImportRun.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (ImportRun) TableName() string {
	return "import_runs"
}

// IsTerminal reports whether the run has reached a terminal status.
func (r *ImportRun) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// FailedJobDetail is one append-only failure entry for an import run. Rows are
// only ever inserted, never updated, so concurrent batches cannot lose entries.
type FailedJobDetail struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	ImportRunID string    `gorm:"type:text;not null;index:idx_run_failures_run" json:"-"`
	ExternalID  string    `gorm:"type:text" json:"external_id"`
	Reason      string    `gorm:"type:text" json:"reason"`
	Error       string    `gorm:"type:text" json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// TableName returns the database table name for FailedJobDetail.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (FailedJobDetail) TableName() string {
	return "import_run_failures"
}

// BatchCompletion records that one batch of a run finished processing. The
// composite unique index makes completion idempotent per (run, batch number):
// a redelivered batch inserts nothing and therefore cannot double-count.
type BatchCompletion struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	ImportRunID string    `gorm:"type:text;not null;uniqueIndex:idx_batch_completions_run_batch"`
	BatchNumber int       `gorm:"not null;uniqueIndex:idx_batch_completions_run_batch"`
	CompletedAt time.Time `gorm:"not null"`
}

// TableName returns the database table name for BatchCompletion.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (BatchCompletion) TableName() string {
	return "batch_completions"
}
