package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QuietHours is a daily [start, end) window in minutes since midnight. A
// window whose start is after its end wraps past midnight. Equal bounds
// disable it.
type QuietHours struct {
	start, end int
}

// ParseQuietHours parses "HH:MM-HH:MM". An empty string disables quiet hours.
func ParseQuietHours(s string) (QuietHours, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return QuietHours{}, nil
	}
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return QuietHours{}, fmt.Errorf("quiet hours %q: want HH:MM-HH:MM", s)
	}
	start, err := parseClock(from)
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet hours %q: %w", s, err)
	}
	end, err := parseClock(to)
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet hours %q: %w", s, err)
	}
	return QuietHours{start: start, end: end}, nil
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour %q", hh)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute %q", mm)
	}
	return h*60 + m, nil
}

// Enabled reports whether the window has non-zero length.
func (q QuietHours) Enabled() bool { return q.start != q.end }

// Contains reports whether t's wall clock falls inside the window. Convert t
// to the display timezone first.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled() {
		return false
	}
	now := t.Hour()*60 + t.Minute()
	if q.start < q.end {
		return now >= q.start && now < q.end
	}
	return now >= q.start || now < q.end
}
