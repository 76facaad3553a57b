// internal/models/job.go
package models

import (
	"time"
)

// Job is a deferred unit of work. Description is deterministic per unit of
// work and is what duplicate detection keys on.
type Job struct {
	BaseModel
	Description string     `json:"description" gorm:"size:255;not null;index"`
	Method      string     `json:"method" gorm:"size:50;not null"`
	Args        JSONB      `json:"args" gorm:"type:jsonb"`
	Priority    int        `json:"priority" gorm:"default:10;index"`
	NotBefore   time.Time  `json:"not_before" gorm:"index"`
	State       JobState   `json:"state" gorm:"type:varchar(20);default:'pending';index"`
	Attempts    int        `json:"attempts" gorm:"default:0"`
	MaxAttempts int        `json:"max_attempts" gorm:"default:5"`
	LastError   string     `json:"last_error,omitempty" gorm:"type:text"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
}
