package appointment

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"

	secondsPerDay = 24 * 60 * 60
)

// ClockTime is a wall-clock time of day in seconds since midnight,
// clinic-local.
type ClockTime int

// NewClockTime builds a ClockTime from its components. It does not validate.
func NewClockTime(hour, minute, second int) ClockTime {
	return ClockTime(hour*3600 + minute*60 + second)
}

// ParseClockTime accepts "HH:MM" or "HH:MM:SS".
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM or HH:MM:SS", s)
	}

	limits := []int{23, 59, 59}
	vals := make([]int, 3)
	for i, p := range parts {
		if len(p) != 2 {
			return 0, fmt.Errorf("invalid time %q: want HH:MM or HH:MM:SS", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("invalid time %q", s)
		}
		vals[i] = n
	}

	return NewClockTime(vals[0], vals[1], vals[2]), nil
}

func (c ClockTime) Hour() int   { return int(c) / 3600 }
func (c ClockTime) Minute() int { return int(c) % 3600 / 60 }
func (c ClockTime) Second() int { return int(c) % 60 }

// HourBounds returns the first and last second of the clock hour c falls in.
func (c ClockTime) HourBounds() (ClockTime, ClockTime) {
	start := NewClockTime(c.Hour(), 0, 0)
	return start, start + 3599
}

// Add moves c forward by d, truncated to whole seconds.
func (c ClockTime) Add(d time.Duration) ClockTime {
	return c + ClockTime(d/time.Second)
}

// Valid reports whether c lies within one day.
func (c ClockTime) Valid() bool {
	return c >= 0 && c < secondsPerDay
}

// Duration converts c to the offset from midnight.
func (c ClockTime) Duration() time.Duration {
	return time.Duration(c) * time.Second
}

// String renders HH:MM:SS.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour(), c.Minute(), c.Second())
}

// Short renders HH:MM.
func (c ClockTime) Short() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseDate parses a YYYY-MM-DD calendar date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

// DateOf truncates t to its calendar date in t's location, returned as UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ClockOf returns the time-of-day of t in t's location.
func ClockOf(t time.Time) ClockTime {
	return NewClockTime(t.Hour(), t.Minute(), t.Second())
}
