package domain

import "time"

// MessageStatus represents the delivery state of a queued batch message.
// Values include MessageStatusWaiting, MessageStatusActive, MessageStatusCompleted,
// MessageStatusFailed, and MessageStatusDelayed.
type MessageStatus string

const (
	MessageStatusWaiting   MessageStatus = "waiting"
	MessageStatusActive    MessageStatus = "active"
	MessageStatusCompleted MessageStatus = "completed"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusDelayed   MessageStatus = "delayed"
)

// QueueMessage is one durable queue entry carrying a JSON-encoded BatchMessage.
// Delivery is at-least-once: a message claimed by a crashed worker becomes
// claimable again after a stall timeout, so consumers must be idempotent.
type QueueMessage struct {
	ID      uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Payload string `gorm:"type:text;not null" json:"payload"`

	Status      MessageStatus `gorm:"type:text;default:waiting;index:idx_queue_status" json:"status"`
	Attempts    int           `gorm:"default:0" json:"attempts"`
	MaxAttempts int           `gorm:"default:3" json:"max_attempts"`

	// Earliest time a delayed message becomes deliverable again.
	NextRunAt time.Time `gorm:"index:idx_queue_next_run" json:"next_run_at"`

	LastError string `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for QueueMessage.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (QueueMessage) TableName() string {
	return "queue_messages"
}

// QueueStats holds aggregate message counts by state.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Total     int64 `json:"total"`
}

// QueueSetting is a single named queue control flag. The paused flag lives here
// rather than in process memory so that pause/resume issued through the API
// process also stops dispatch in standalone workers.
type QueueSetting struct {
	Name      string    `gorm:"type:text;primaryKey" json:"name"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for QueueSetting.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (QueueSetting) TableName() string {
	return "queue_settings"
}
