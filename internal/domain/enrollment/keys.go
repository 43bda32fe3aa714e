package enrollment

import (
	"fmt"

	"github.com/google/uuid"
)

// AlertJobKey formats the scheduler key of one repeating alert job. The
// format is fixed for compatibility with existing scheduler integrations;
// index is the alert's position in the schedule-wide alert numbering.
func AlertJobKey(scheduleName string, enrollmentID uuid.UUID, index int) string {
	return fmt.Sprintf("%s.milestone.alert-%s.%d-repeat", scheduleName, enrollmentID, index)
}

// DefaultmentJobKey formats the scheduler key of the defaultment-capture
// check job, one per enrollment.
func DefaultmentJobKey(scheduleName string, enrollmentID uuid.UUID) string {
	return fmt.Sprintf("%s.milestone.defaultment-%s", scheduleName, enrollmentID)
}
