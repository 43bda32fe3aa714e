package schedule

import (
	"fmt"
	"time"
)

// MilestoneWindows are the concrete boundary instants of one milestone,
// computed from its reference instant. The earliest window spans
// [Reference, EarliestStart], the due window [EarliestStart, Due], the late
// window [Due, Late] and the max window [Late, Max].
type MilestoneWindows struct {
	Reference     time.Time
	EarliestStart time.Time
	Due           time.Time
	Late          time.Time
	Max           time.Time
}

// ComputeWindows maps a milestone's window durations onto concrete instants
// relative to the reference instant. Pure; fails only on a zero reference.
func ComputeWindows(m MilestoneDefinition, reference time.Time) (MilestoneWindows, error) {
	if reference.IsZero() {
		return MilestoneWindows{}, fmt.Errorf("%w: milestone %q has no reference instant", ErrInvalidScheduleState, m.Name)
	}
	return MilestoneWindows{
		Reference:     reference,
		EarliestStart: reference.Add(m.Windows.EarliestStart.Std()),
		Due:           reference.Add(m.Windows.Due.Std()),
		Late:          reference.Add(m.Windows.Late.Std()),
		Max:           reference.Add(m.Windows.Max.Std()),
	}, nil
}

// Start returns the instant the named window opens.
func (w MilestoneWindows) Start(name WindowName) time.Time {
	switch name {
	case WindowEarliest:
		return w.Reference
	case WindowDue:
		return w.EarliestStart
	case WindowLate:
		return w.Due
	default:
		return w.Late
	}
}

// End returns the instant the named window closes.
func (w MilestoneWindows) End(name WindowName) time.Time {
	switch name {
	case WindowEarliest:
		return w.EarliestStart
	case WindowDue:
		return w.Due
	case WindowLate:
		return w.Late
	default:
		return w.Max
	}
}
