package models

import "time"

// JobStatus is the state of a batch notification job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
)

// EmissionJob groups the notification of a set of authorized documents.
type EmissionJob struct {
	ID        string            `gorm:"primaryKey;size:36" json:"id"`
	Total     int               `gorm:"not null" json:"total"`
	Processed int               `gorm:"not null" json:"processed"`
	Successes int               `gorm:"not null" json:"successes"`
	Failures  int               `gorm:"not null" json:"failures"`
	Status    JobStatus         `gorm:"type:varchar(16);not null" json:"status"`
	Items     []EmissionJobItem `gorm:"foreignKey:JobID" json:"items,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Done reports whether every item was processed.
func (j EmissionJob) Done() bool {
	return j.Processed >= j.Total
}

// EmissionJobItem is the delivery outcome of one document within a job.
type EmissionJobItem struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	JobID      string         `gorm:"size:36;not null;index" json:"job_id"`
	DocumentID uint           `gorm:"not null" json:"document_id"`
	Status     DeliveryStatus `gorm:"type:varchar(16);not null" json:"status"`
	Error      string         `gorm:"type:text" json:"error,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
