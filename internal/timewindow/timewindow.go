// Package timewindow implements daily clock-time send windows: membership
// checks and uniform random instants used to jitter sends so recipients are
// not all messaged at identical timestamps.
package timewindow

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

var ErrInvalidClock = errors.New("invalid clock time, expected HH:mm")

// ClockTime is a wall-clock time of day without a date.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:mm" (24h).
func ParseClock(s string) (ClockTime, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return ClockTime{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

// Minutes returns minutes since midnight.
func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

// On anchors the clock time to the calendar day of t, in t's location.
func (c ClockTime) On(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), c.Hour, c.Minute, 0, 0, t.Location())
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Window is a daily recurring send window [Start, End], boundaries inclusive.
// A window with Start > End spans midnight: it covers [Start, 24:00) of one
// day plus [00:00, End] of the next.
type Window struct {
	Start ClockTime
	End   ClockTime
}

// Parse builds a window from two "HH:mm" strings.
func Parse(start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}

// Contains reports whether the clock time of t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	target := t.Hour()*60 + t.Minute()
	start, end := w.Start.Minutes(), w.End.Minutes()
	if start <= end {
		return start <= target && target <= end
	}
	// Spans midnight.
	return target >= start || target <= end
}

// durationMinutes is the window length in minutes, inclusive of boundaries.
func (w Window) durationMinutes() int {
	start, end := w.Start.Minutes(), w.End.Minutes()
	if start <= end {
		return end - start
	}
	return 24*60 - start + end
}

// RandomInstant samples a uniform instant inside the window on the calendar
// day that contains the window's opening. The second-level offset is also
// randomized so repeated sends do not align on minute boundaries.
func (w Window) RandomInstant(day time.Time, rng *rand.Rand) time.Time {
	open := w.Start.On(day)
	span := time.Duration(w.durationMinutes()) * time.Minute
	if span <= 0 {
		return open
	}
	return open.Add(time.Duration(rng.Int63n(int64(span) / int64(time.Second))) * time.Second)
}

// NextOpen returns the next instant at or after t at which the window is
// open. If t is already inside the window, t itself is returned.
func (w Window) NextOpen(t time.Time) time.Time {
	if w.Contains(t) {
		return t
	}
	open := w.Start.On(t)
	if !open.After(t) {
		open = open.AddDate(0, 0, 1)
	}
	return open
}

// NextSendInstant computes the next eligible send instant from now: a random
// instant in the portion of today's window that is still ahead, or a random
// instant anywhere in the next day's window once today's has passed.
func (w Window) NextSendInstant(now time.Time, rng *rand.Rand) time.Time {
	if w.Contains(now) {
		// Sample the remainder of the current window.
		closeAt := w.End.On(now)
		if closeAt.Before(now) {
			// Midnight-spanning window whose end belongs to tomorrow.
			closeAt = closeAt.AddDate(0, 0, 1)
		}
		remaining := closeAt.Sub(now)
		if remaining <= time.Second {
			return now
		}
		return now.Add(time.Duration(rng.Int63n(int64(remaining) / int64(time.Second))) * time.Second)
	}

	open := w.Start.On(now)
	if !open.After(now) {
		open = open.AddDate(0, 0, 1)
	}
	return w.RandomInstant(open, rng)
}

// ClampToWindow defers t to the window if t falls outside it: an instant
// inside the window is returned unchanged, anything else moves forward to
// the nearest future window open.
func (w Window) ClampToWindow(t time.Time) time.Time {
	return w.NextOpen(t)
}
