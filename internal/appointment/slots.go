package appointment

import (
	"fmt"
	"time"
)

const DefaultGranularity = 15 * time.Minute

type SlotStatus string

const (
	SlotAvailable   SlotStatus = "available"
	SlotBooked      SlotStatus = "booked"
	SlotBreak       SlotStatus = "break"
	SlotUnavailable SlotStatus = "unavailable"
)

// Slot is one annotated candidate start time.
type Slot struct {
	Time   ClockTime
	Status SlotStatus
	Reason string
}

// HourSummary aggregates the slots that start within one clock hour.
type HourSummary struct {
	Hour        int
	Total       int
	Available   int
	Booked      int
	Break       int
	Unavailable int
	Slots       []Slot
}

// SlotSummary aggregates every slot of a window.
type SlotSummary struct {
	Total       int
	Available   int
	Booked      int
	Break       int
	Unavailable int
}

// DaySlots is the annotated slot view for one doctor on one date.
type DaySlots struct {
	Window  Window
	Slots   []Slot
	Summary SlotSummary
	ByHour  []HourSummary
}

// validateWindowTimes checks the window invariants.
func validateWindowTimes(start, end ClockTime, breakStart, breakEnd *ClockTime) error {
	if !start.Valid() || !end.Valid() {
		return fmt.Errorf("%w: times must fall within one day", ErrValidation)
	}
	if start >= end {
		return fmt.Errorf("%w: start_time must be before end_time", ErrValidation)
	}
	if (breakStart == nil) != (breakEnd == nil) {
		return fmt.Errorf("%w: break_start and break_end must be given together", ErrValidation)
	}
	if breakStart == nil {
		return nil
	}
	if *breakStart >= *breakEnd {
		return fmt.Errorf("%w: break_start must be before break_end", ErrValidation)
	}
	if *breakStart < start || *breakEnd > end {
		return fmt.Errorf("%w: break must lie within the window", ErrValidation)
	}
	return nil
}

// Validate checks the window invariants.
func (w Window) Validate() error {
	return validateWindowTimes(w.StartTime, w.EndTime, w.BreakStart, w.BreakEnd)
}

// InBreak uses the half-open [break_start, break_end) comparison.
func (w Window) InBreak(t ClockTime) bool {
	return w.HasBreak() && t >= *w.BreakStart && t < *w.BreakEnd
}

// Covers reports whether t is inside [start, end).
func (w Window) Covers(t ClockTime) bool {
	return t >= w.StartTime && t < w.EndTime
}

// Candidates returns every start time from the window start stepping by
// granularity whose slot ends no later than the window end. Break slots are
// included.
func (w Window) Candidates(granularity time.Duration) []ClockTime {
	step := ClockTime(granularity / time.Second)
	if step <= 0 {
		return nil
	}

	var out []ClockTime
	for t := w.StartTime; t+step <= w.EndTime; t += step {
		out = append(out, t)
	}
	return out
}

// BookableSlots is Candidates without the break.
func (w Window) BookableSlots(granularity time.Duration) []ClockTime {
	all := w.Candidates(granularity)
	out := all[:0:0]
	for _, t := range all {
		if !w.InBreak(t) {
			out = append(out, t)
		}
	}
	return out
}

// OnGrid reports whether t is one of the window's candidate start times.
func (w Window) OnGrid(t ClockTime, granularity time.Duration) bool {
	step := ClockTime(granularity / time.Second)
	if step <= 0 || t < w.StartTime || t+step > w.EndTime {
		return false
	}
	return (t-w.StartTime)%step == 0
}

func summarize(slots []Slot) (SlotSummary, []HourSummary) {
	var sum SlotSummary
	var hours []HourSummary

	for _, s := range slots {
		if len(hours) == 0 || hours[len(hours)-1].Hour != s.Time.Hour() {
			hours = append(hours, HourSummary{Hour: s.Time.Hour()})
		}
		h := &hours[len(hours)-1]
		h.Total++
		h.Slots = append(h.Slots, s)
		sum.Total++

		switch s.Status {
		case SlotAvailable:
			h.Available++
			sum.Available++
		case SlotBooked:
			h.Booked++
			sum.Booked++
		case SlotBreak:
			h.Break++
			sum.Break++
		case SlotUnavailable:
			h.Unavailable++
			sum.Unavailable++
		}
	}

	return sum, hours
}
