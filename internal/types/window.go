package types

import "time"

// Window is a half-open time window [Start, End). Every aggregation window
// and billing period in the pipeline uses this convention.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow builds a window, normalizing both bounds to UTC
func NewWindow(start, end time.Time) Window {
	return Window{Start: start.UTC(), End: end.UTC()}
}

// Contains reports whether ts falls within [Start, End)
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && ts.Before(w.End)
}

// IsValid reports whether Start < End
func (w Window) IsValid() bool {
	return w.Start.Before(w.End)
}

// FloorToWindow rounds ts down to the nearest window boundary of the given
// size, aligned to the Unix epoch.
func FloorToWindow(ts time.Time, size time.Duration) time.Time {
	return ts.UTC().Truncate(size)
}

// WindowFor returns the window of the given size containing ts
func WindowFor(ts time.Time, size time.Duration) Window {
	start := FloorToWindow(ts, size)
	return Window{Start: start, End: start.Add(size)}
}

// FloorToMinute rounds ts down to the start of its minute
func FloorToMinute(ts time.Time) time.Time {
	return FloorToWindow(ts, time.Minute)
}

// DayWindow returns the [midnight, midnight+24h) window containing ts, in UTC
func DayWindow(ts time.Time) Window {
	t := ts.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// PreviousMonthWindow returns the calendar-month window preceding ts, in UTC
func PreviousMonthWindow(ts time.Time) Window {
	t := ts.UTC()
	firstOfThis := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Window{Start: firstOfThis.AddDate(0, -1, 0), End: firstOfThis}
}
