package model

import (
	"time"

	"gorm.io/datatypes"
)

// CronRunStatus is the lifecycle of one scheduled job run.
type CronRunStatus string

const (
	CronRunRunning   CronRunStatus = "running"
	CronRunCompleted CronRunStatus = "completed"
	CronRunFailed    CronRunStatus = "failed"
)

// CronJobLog is one run of a maintenance job (quota pruning, store probes).
type CronJobLog struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	JobName    string         `gorm:"type:varchar(100);not null;index:idx_cron_job_started,priority:1" json:"job_name"`
	Status     CronRunStatus  `gorm:"type:varchar(20);not null" json:"status"`
	StartedAt  time.Time      `gorm:"not null;index:idx_cron_job_started,priority:2" json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Message    string         `gorm:"type:text" json:"message"`
	ErrorMsg   string         `gorm:"type:text" json:"error_msg,omitempty"`
	Result     datatypes.JSON `json:"result,omitempty"`
}

func (CronJobLog) TableName() string {
	return "cron_job_logs"
}
