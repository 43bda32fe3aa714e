package schedule

import "time"

// PlanAlertTimes computes the concrete fire instants for one alert within a
// milestone's windows. The sequence is anchored at the alert window's start:
// the i-th candidate is windowStart + i*interval with its time of day
// replaced by the preferred alert time when one is set. Candidates that have
// already elapsed are dropped — which is also what skips "today's" slot when
// the preferred time has passed by planning time — and the window end is a
// hard clip. An empty result means the window has fully elapsed.
func PlanAlertTimes(a AlertDefinition, w MilestoneWindows, preferred *TimeOfDay, now time.Time) []time.Time {
	start := w.Start(a.Window)
	end := w.End(a.Window)

	var times []time.Time
	for i := 0; i < a.Count; i++ {
		at := start.Add(time.Duration(i) * a.Interval.Std())
		if preferred != nil {
			at = preferred.OnDate(at)
		}
		if !at.Before(end) {
			break
		}
		if !at.After(now) {
			continue
		}
		times = append(times, at)
	}
	return times
}
