package schedule

import (
	"testing"
	"time"
)

func day(d int, hour, min int) time.Time {
	return time.Date(2050, time.May, d, hour, min, 0, 0, time.UTC)
}

func mustWindows(t *testing.T, m MilestoneDefinition, ref time.Time) MilestoneWindows {
	t.Helper()
	w, err := ComputeWindows(m, ref)
	if err != nil {
		t.Fatalf("ComputeWindows() error: %v", err)
	}
	return w
}

func checkupMilestone1() MilestoneDefinition {
	return MilestoneDefinition{
		Name: "milestone1",
		Windows: WindowSet{
			EarliestStart: Duration(5 * 24 * time.Hour),
			Due:           Duration(10 * 24 * time.Hour),
			Late:          Duration(15 * 24 * time.Hour),
			Max:           Duration(20 * 24 * time.Hour),
		},
		Alerts: []AlertDefinition{
			{Window: WindowDue, Interval: Duration(24 * time.Hour), Count: 5},
		},
	}
}

func checkupMilestone2() MilestoneDefinition {
	return MilestoneDefinition{
		Name: "milestone2",
		Windows: WindowSet{
			EarliestStart: Duration(3 * 24 * time.Hour),
			Due:           Duration(7 * 24 * time.Hour),
			Late:          Duration(10 * 24 * time.Hour),
			Max:           Duration(14 * 24 * time.Hour),
		},
		Alerts: []AlertDefinition{
			{Window: WindowEarliest, Interval: Duration(24 * time.Hour), Count: 3},
		},
	}
}

func assertTimes(t *testing.T, got, want []time.Time) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d fire times, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("fire[%d]: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestPlanAlertTimes_PreferredTimeAcrossDueWindow(t *testing.T) {
	// Enrolled with reference 2050-05-10, preferred time 08:20, planning
	// before the due window opens: one fire per day 05-15 through 05-19.
	m := checkupMilestone1()
	w := mustWindows(t, m, day(10, 0, 0))
	preferred := &TimeOfDay{Hour: 8, Minute: 20}
	now := day(10, 12, 0)

	got := PlanAlertTimes(m.Alerts[0], w, preferred, now)
	assertTimes(t, got, []time.Time{
		day(15, 8, 20), day(16, 8, 20), day(17, 8, 20), day(18, 8, 20), day(19, 8, 20),
	})
}

func TestPlanAlertTimes_TodayNotYetElapsed(t *testing.T) {
	// Reference 2050-05-17, preferred 10:00, now 09:00 the same day: the
	// first fire is today at 10:00.
	m := checkupMilestone2()
	w := mustWindows(t, m, day(17, 0, 0))
	preferred := &TimeOfDay{Hour: 10, Minute: 0}
	now := day(17, 9, 0)

	got := PlanAlertTimes(m.Alerts[0], w, preferred, now)
	assertTimes(t, got, []time.Time{
		day(17, 10, 0), day(18, 10, 0), day(19, 10, 0),
	})
}

func TestPlanAlertTimes_TodayAlreadyElapsed(t *testing.T) {
	// Preferred 08:00 has already passed at 11:00: today's slot is dropped
	// and the first fire is tomorrow.
	m := checkupMilestone2()
	w := mustWindows(t, m, day(17, 0, 0))
	preferred := &TimeOfDay{Hour: 8, Minute: 0}
	now := day(17, 11, 0)

	got := PlanAlertTimes(m.Alerts[0], w, preferred, now)
	assertTimes(t, got, []time.Time{
		day(18, 8, 0), day(19, 8, 0),
	})
}

func TestPlanAlertTimes_ReplanAfterFulfillment(t *testing.T) {
	// Milestone1 fulfilled 2050-05-20 09:00 with preferred 10:00: the next
	// milestone's fires start the same day at 10:00.
	m := checkupMilestone2()
	w := mustWindows(t, m, day(20, 9, 0))
	preferred := &TimeOfDay{Hour: 10, Minute: 0}
	now := day(20, 9, 0)

	got := PlanAlertTimes(m.Alerts[0], w, preferred, now)
	assertTimes(t, got, []time.Time{
		day(20, 10, 0), day(21, 10, 0), day(22, 10, 0),
	})
}

func TestPlanAlertTimes_HardClipAtWindowEnd(t *testing.T) {
	// Count would run past the window end; the end is a hard clip.
	m := checkupMilestone1()
	m.Alerts[0].Count = 10
	w := mustWindows(t, m, day(10, 0, 0))
	preferred := &TimeOfDay{Hour: 8, Minute: 20}

	got := PlanAlertTimes(m.Alerts[0], w, preferred, day(10, 12, 0))
	if len(got) != 5 {
		t.Fatalf("expected fires clipped to 5, got %d", len(got))
	}
	if last := got[len(got)-1]; !last.Equal(day(19, 8, 20)) {
		t.Errorf("expected last fire on 05-19, got %v", last)
	}
}

func TestPlanAlertTimes_WindowFullyElapsed(t *testing.T) {
	m := checkupMilestone1()
	w := mustWindows(t, m, day(1, 0, 0))
	now := time.Date(2050, time.June, 15, 0, 0, 0, 0, time.UTC)

	got := PlanAlertTimes(m.Alerts[0], w, &TimeOfDay{Hour: 8, Minute: 0}, now)
	if len(got) != 0 {
		t.Fatalf("expected no fires for elapsed window, got %v", got)
	}
}

func TestPlanAlertTimes_NoPreferredTimeKeepsWindowAnchor(t *testing.T) {
	m := checkupMilestone1()
	w := mustWindows(t, m, day(10, 14, 30))
	got := PlanAlertTimes(m.Alerts[0], w, nil, day(10, 15, 0))
	if len(got) != 5 {
		t.Fatalf("expected 5 fires, got %d", len(got))
	}
	if !got[0].Equal(day(15, 14, 30)) {
		t.Errorf("expected first fire to carry the reference time of day, got %v", got[0])
	}
}
