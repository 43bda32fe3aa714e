package enrollment

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists enrollments.
type Repository interface {
	Create(ctx context.Context, e *Enrollment) error
	Update(ctx context.Context, e *Enrollment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Enrollment, error)
	// GetActive returns the ACTIVE enrollment for the pair, or (nil, nil)
	// when none exists.
	GetActive(ctx context.Context, subjectID, scheduleName string) (*Enrollment, error)
	// GetLatest returns the most recently updated enrollment for the pair
	// regardless of status, or (nil, nil) when the subject was never
	// enrolled in the schedule.
	GetLatest(ctx context.Context, subjectID, scheduleName string) (*Enrollment, error)
	ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*Enrollment, int, error)
	// ListActive returns every ACTIVE enrollment, used to rebuild the
	// in-memory job schedule at boot.
	ListActive(ctx context.Context) ([]*Enrollment, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
