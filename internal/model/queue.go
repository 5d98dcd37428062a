package model

import "time"

// QueuePriority is a scheduling hint: HIGH items are claimed before LOW.
type QueuePriority string

const (
	PriorityHigh QueuePriority = "HIGH"
	PriorityLow  QueuePriority = "LOW"
)

// QueueStatus is the lifecycle state of a queue item. Transitions form a DAG:
// PENDING -> PROCESSING -> {COMPLETED|FAILED|PAUSED}; PAUSED items are
// re-enqueued as PENDING on the next process startup.
type QueueStatus string

const (
	StatusPending    QueueStatus = "PENDING"
	StatusProcessing QueueStatus = "PROCESSING"
	StatusCompleted  QueueStatus = "COMPLETED"
	StatusFailed     QueueStatus = "FAILED"
	StatusPaused     QueueStatus = "PAUSED"
)

// Terminal reports whether the status permits no further transitions.
func (s QueueStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// QueueItem is one persisted unit of scrape work. At most one non-terminal
// row exists per username.
type QueueItem struct {
	RequestID     string        `json:"request_id" db:"request_id"`
	Username      string        `json:"username" db:"username"`
	Source        string        `json:"source" db:"source"`
	Priority      QueuePriority `json:"priority" db:"priority"`
	Status        QueueStatus   `json:"status" db:"status"`
	Attempts      int           `json:"attempts" db:"attempts"`
	Payload       map[string]any `json:"request_payload,omitempty" db:"request_payload"`
	SubmittedAt   time.Time     `json:"submitted_at" db:"submitted_at"`
	LastAttemptAt *time.Time    `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage  string        `json:"error_message,omitempty" db:"error_message"`
}

// QueueStats is a point-in-time census of the queue.
type QueueStats struct {
	Pending    int            `json:"pending"`
	Processing int            `json:"processing"`
	Completed  int            `json:"completed"`
	Failed     int            `json:"failed"`
	Paused     int            `json:"paused"`
	ByPriority map[string]int `json:"by_priority"`
	BySource   map[string]int `json:"by_source"`
}

// Total returns the number of items across all states.
func (s QueueStats) Total() int {
	return s.Pending + s.Processing + s.Completed + s.Failed + s.Paused
}
