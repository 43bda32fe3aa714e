// Package schedule holds the static schedule definitions a subject can be
// tracked against, and the pure window/alert-time computations over them.
// Definitions are loaded once at startup and never mutated.
package schedule

import (
	"errors"
	"fmt"
)

// ErrInvalidScheduleState marks a malformed schedule definition. It is
// detected at load time and prevents the schedule from being used.
var ErrInvalidScheduleState = errors.New("invalid schedule state")

// ErrUnknownSchedule is returned when a schedule name is not registered.
var ErrUnknownSchedule = errors.New("unknown schedule")

// WindowName identifies one of the four nested milestone windows.
type WindowName string

const (
	WindowEarliest WindowName = "earliest"
	WindowDue      WindowName = "due"
	WindowLate     WindowName = "late"
	WindowMax      WindowName = "max"
)

func (w WindowName) valid() bool {
	switch w {
	case WindowEarliest, WindowDue, WindowLate, WindowMax:
		return true
	}
	return false
}

// AlertDefinition describes one repeating reminder within a milestone
// window: up to Count instants spaced Interval apart, starting at the
// window's start.
type AlertDefinition struct {
	Window   WindowName `json:"window"`
	Interval Duration   `json:"interval"`
	Count    int        `json:"count"`
}

// WindowSet holds the four window durations of a milestone, each measured
// from the milestone's reference instant.
type WindowSet struct {
	EarliestStart Duration `json:"earliest_start"`
	Due           Duration `json:"due"`
	Late          Duration `json:"late"`
	Max           Duration `json:"max"`
}

// MilestoneDefinition is one named stage of a schedule.
type MilestoneDefinition struct {
	Name    string            `json:"name"`
	Windows WindowSet         `json:"windows"`
	Alerts  []AlertDefinition `json:"alerts,omitempty"`
}

// Definition is an immutable, named schedule: an ordered list of
// milestones. Order defines progression.
type Definition struct {
	Name       string                `json:"name"`
	Milestones []MilestoneDefinition `json:"milestones"`
}

// Validate checks the definition's structural invariants. Any violation is
// wrapped in ErrInvalidScheduleState.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: schedule has no name", ErrInvalidScheduleState)
	}
	if len(d.Milestones) == 0 {
		return fmt.Errorf("%w: schedule %q has no milestones", ErrInvalidScheduleState, d.Name)
	}
	seen := make(map[string]bool, len(d.Milestones))
	for _, m := range d.Milestones {
		if m.Name == "" {
			return fmt.Errorf("%w: schedule %q has an unnamed milestone", ErrInvalidScheduleState, d.Name)
		}
		if seen[m.Name] {
			return fmt.Errorf("%w: schedule %q repeats milestone %q", ErrInvalidScheduleState, d.Name, m.Name)
		}
		seen[m.Name] = true

		w := m.Windows
		if w.EarliestStart < 0 || w.EarliestStart > w.Due || w.Due > w.Late || w.Late > w.Max {
			return fmt.Errorf("%w: milestone %q of schedule %q violates earliest <= due <= late <= max",
				ErrInvalidScheduleState, m.Name, d.Name)
		}
		for i, a := range m.Alerts {
			if !a.Window.valid() {
				return fmt.Errorf("%w: milestone %q alert %d has unknown window %q",
					ErrInvalidScheduleState, m.Name, i, a.Window)
			}
			if a.Interval <= 0 {
				return fmt.Errorf("%w: milestone %q alert %d has non-positive interval",
					ErrInvalidScheduleState, m.Name, i)
			}
			if a.Count <= 0 {
				return fmt.Errorf("%w: milestone %q alert %d has non-positive count",
					ErrInvalidScheduleState, m.Name, i)
			}
		}
	}
	return nil
}

// Milestone returns the named milestone and its index in the progression
// order.
func (d *Definition) Milestone(name string) (MilestoneDefinition, int, bool) {
	for i, m := range d.Milestones {
		if m.Name == name {
			return m, i, true
		}
	}
	return MilestoneDefinition{}, 0, false
}

// NextMilestone returns the milestone following the named one, or ok=false
// when the named milestone is the last (the schedule completes).
func (d *Definition) NextMilestone(name string) (MilestoneDefinition, bool) {
	_, i, ok := d.Milestone(name)
	if !ok || i+1 >= len(d.Milestones) {
		return MilestoneDefinition{}, false
	}
	return d.Milestones[i+1], true
}

// FirstMilestone returns the starting milestone of the schedule.
func (d *Definition) FirstMilestone() MilestoneDefinition {
	return d.Milestones[0]
}

// AlertIndex returns the position of alert alertIdx of the named milestone
// in the schedule-wide alert numbering (alerts of earlier milestones count
// first). This running index is what appears in scheduler job keys.
func (d *Definition) AlertIndex(milestoneName string, alertIdx int) int {
	n := 0
	for _, m := range d.Milestones {
		if m.Name == milestoneName {
			return n + alertIdx
		}
		n += len(m.Alerts)
	}
	return n + alertIdx
}
