package audit

import (
	"time"

	"gorm.io/datatypes"
)

// Log is one append-only licensing event. ID is the event id, so a
// redelivered event lands on the same row.
type Log struct {
	ID         string            `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	Action     string            `gorm:"column:action;size:64;not null;index" json:"action"`
	TenantID   string            `gorm:"column:tenant_id;size:32;index" json:"tenant_id"`
	LicenseID  string            `gorm:"column:license_id;size:32;index" json:"license_id,omitempty"`
	ResourceID string            `gorm:"column:resource_id;size:64" json:"resource_id,omitempty"`
	Actor      string            `gorm:"column:actor;size:255" json:"actor,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	OccurredAt time.Time         `gorm:"column:occurred_at;not null;index" json:"occurred_at"`
}

func (Log) TableName() string {
	return "audit_logs"
}

type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// Job is the execution record of a scheduled scan.
type Job struct {
	ID          string         `gorm:"column:id;primaryKey" json:"id"`
	Task        string         `gorm:"column:task;size:100;index;not null" json:"task"`
	Status      JobStatus      `gorm:"column:status;size:20;not null" json:"status"`
	ErrorMsg    string         `gorm:"column:error_msg;type:text" json:"error_msg,omitempty"`
	StartedAt   time.Time      `gorm:"column:started_at;not null" json:"started_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
}

func (Job) TableName() string {
	return "audit_jobs"
}
