package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// ErrDuplicateJob is returned when an insert loses a race against a concurrent
// insert of the same external ID. Callers treat it as a recoverable per-record
// failure, not a batch failure.
var ErrDuplicateJob = errors.New("duplicate job")

// JSONMap is a custom type for storing opaque key/value data as JSON in the database.
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the map.
//   - error: non-nil if marshaling fails.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan JSONMap")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, m)
}

// JobRecord is the canonical representation of one job posting.
// ExternalID is the natural key: unique across the store, stable across imports.
type JobRecord struct {
	ID          string `gorm:"type:text;primaryKey" json:"id"`
	ExternalID  string `gorm:"type:text;not null;uniqueIndex:idx_jobs_external_id" json:"external_id"`
	Title       string `gorm:"type:text;not null" json:"title"`
	Description string `gorm:"type:text;not null" json:"description"`
	Company     string `gorm:"type:text;not null;index:idx_jobs_company" json:"company"`
	Location    string `gorm:"type:text" json:"location"`
	Category    string `gorm:"type:text;index:idx_jobs_category" json:"category"`
	JobType     string `gorm:"type:text" json:"job_type"`
	Salary      string `gorm:"type:text" json:"salary,omitempty"`

	URL      string `gorm:"type:text;not null" json:"url"`
	ApplyURL string `gorm:"type:text" json:"apply_url"`

	PublishedDate time.Time `gorm:"not null;index:idx_jobs_published" json:"published_date"`

	// Origin feed URL.
	Source string `gorm:"type:text;not null;index:idx_jobs_source" json:"source"`

	AdditionalData JSONMap `gorm:"type:text" json:"additional_data,omitempty"`

	// Import tracking.
	FirstImportedAt time.Time `json:"first_imported_at"`
	LastUpdatedAt   time.Time `json:"last_updated_at"`
	UpdateCount     int       `gorm:"default:0" json:"update_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for JobRecord.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (JobRecord) TableName() string {
	return "jobs"
}

// mutableFields lists the fields compared on re-import. A difference in any of
// them counts as an update and bumps UpdateCount.
func (j *JobRecord) mutableFields() []string {
	return []string{j.Title, j.Description, j.Company, j.Location, j.Category, j.JobType, j.Salary, j.URL, j.ApplyURL}
}

// HasChanged reports whether any mutable field differs from the incoming record.
// Parameters:
//   - incoming: freshly normalized record for the same external ID.
// Returns:
//   - bool: true when at least one tracked field differs.
func (j *JobRecord) HasChanged(incoming *JobRecord) bool {
	ours := j.mutableFields()
	theirs := incoming.mutableFields()
	for i := range ours {
		if ours[i] != theirs[i] {
			return true
		}
	}
	return false
}

// ApplyUpdate overwrites the mutable fields from the incoming record and bumps
// the update bookkeeping. The natural key and first-import timestamp are kept.
func (j *JobRecord) ApplyUpdate(incoming *JobRecord, now time.Time) {
	j.Title = incoming.Title
	j.Description = incoming.Description
	j.Company = incoming.Company
	j.Location = incoming.Location
	j.Category = incoming.Category
	j.JobType = incoming.JobType
	j.Salary = incoming.Salary
	j.URL = incoming.URL
	j.ApplyURL = incoming.ApplyURL
	j.AdditionalData = incoming.AdditionalData
	j.LastUpdatedAt = now
	j.UpdateCount++
}
