// Package enrollment owns a subject's progress through a named schedule:
// the enrollment state machine, alert job planning, and defaultment
// detection.
package enrollment

import (
	"time"

	"github.com/google/uuid"

	"github.com/caretrack/caretrack/internal/domain/schedule"
)

// Status is an enrollment's lifecycle state.
type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusDefaulted  Status = "DEFAULTED"
	StatusUnenrolled Status = "UNENROLLED"
	StatusCompleted  Status = "COMPLETED"
)

// Enrollment maps to the enrollment table: one subject's active progress
// through one named schedule.
type Enrollment struct {
	ID                 uuid.UUID           `db:"id" json:"id"`
	SubjectID          string              `db:"subject_id" json:"subject_id"`
	ScheduleName       string              `db:"schedule_name" json:"schedule_name"`
	CurrentMilestone   string              `db:"current_milestone" json:"current_milestone"`
	PreferredAlertTime *schedule.TimeOfDay `db:"preferred_alert_time" json:"preferred_alert_time,omitempty"`
	ReferenceDate      time.Time           `db:"reference_date" json:"reference_date"`
	ReferenceTime      schedule.TimeOfDay  `db:"reference_time" json:"reference_time"`
	EnrolledOnDate     time.Time           `db:"enrolled_on_date" json:"enrolled_on_date"`
	EnrolledOnTime     schedule.TimeOfDay  `db:"enrolled_on_time" json:"enrolled_on_time"`
	Status             Status              `db:"status" json:"status"`
	Metadata           map[string]string   `db:"metadata" json:"metadata,omitempty"`
	CreatedAt          time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at" json:"updated_at"`
}

// ReferenceInstant combines the reference date and time of day: the instant
// the current milestone's windows are computed from.
func (e *Enrollment) ReferenceInstant() time.Time {
	return e.ReferenceTime.OnDate(e.ReferenceDate)
}

// lockKey serializes all transitions of one (subject, schedule) pair.
func lockKey(subjectID, scheduleName string) string {
	return subjectID + "\x00" + scheduleName
}
