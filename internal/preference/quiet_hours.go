package preference

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"notification-orchestrator/internal/domain"
)

// QuietHoursStatus is the result of a quiet-hours check.
type QuietHoursStatus struct {
	InQuietHours bool
	EndsAt       time.Time
}

// IsInQuietHours reports whether now falls inside the [start, end) window in
// the preference's timezone. The window wraps across midnight when
// start > end. Any parse or timezone failure fails open: delivery is
// considered higher priority than perfect quiet-hours accuracy.
func IsInQuietHours(q *domain.QuietHours, now time.Time) (QuietHoursStatus, error) {
	if q == nil || q.Start == "" || q.End == "" {
		return QuietHoursStatus{}, nil
	}

	loc := time.UTC
	if q.Timezone != "" {
		l, err := time.LoadLocation(q.Timezone)
		if err != nil {
			return QuietHoursStatus{}, fmt.Errorf("load timezone %q: %w", q.Timezone, err)
		}
		loc = l
	}

	startMin, err := parseClock(q.Start)
	if err != nil {
		return QuietHoursStatus{}, err
	}
	endMin, err := parseClock(q.End)
	if err != nil {
		return QuietHoursStatus{}, err
	}
	if startMin == endMin {
		return QuietHoursStatus{}, nil
	}

	local := now.In(loc)
	nowMin := local.Hour()*60 + local.Minute()

	var inside bool
	var remaining int
	if startMin < endMin {
		inside = nowMin >= startMin && nowMin < endMin
		remaining = endMin - nowMin
	} else {
		// Window wraps midnight, e.g. 22:00 → 07:00.
		inside = nowMin >= startMin || nowMin < endMin
		if nowMin >= startMin {
			remaining = (24*60 - nowMin) + endMin
		} else {
			remaining = endMin - nowMin
		}
	}

	if !inside {
		return QuietHoursStatus{}, nil
	}
	return QuietHoursStatus{
		InQuietHours: true,
		EndsAt:       now.Add(time.Duration(remaining) * time.Minute).Truncate(time.Minute),
	}, nil
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
