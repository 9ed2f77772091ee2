package domain

// BatchMessage is the unit of work dispatched through the queue: one bounded
// slice of a run's records. Transient; it exists only as a queue message
// payload and is never persisted on its own. BatchNumber is 1-indexed and
// TotalBatches is fixed at enqueue time for the run.
type BatchMessage struct {
	ImportRunID  string      `json:"import_run_id"`
	Source       string      `json:"source"`
	Records      []JobRecord `json:"records"`
	BatchNumber  int         `json:"batch_number"`
	TotalBatches int         `json:"total_batches"`
}

// BatchResult accumulates the outcome of processing one batch.
type BatchResult struct {
	NewJobs       int               `json:"new_jobs"`
	UpdatedJobs   int               `json:"updated_jobs"`
	FailedJobs    int               `json:"failed_jobs"`
	FailedDetails []FailedJobDetail `json:"failed_details,omitempty"`
}

// ImportOutcome classifies the result of importing a single record.
type ImportOutcome struct {
	IsNew     bool
	IsUpdated bool
}
