package archivegroup

import (
	"fmt"
	"strconv"
	"time"

	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// ParseRetention parses spec.md §4.6's retention interval grammar:
// an integer followed by one of s|m|h|d|w|M|y (seconds, minutes,
// hours, days, weeks, 30-day months, 365-day years). Lowercase m is
// minutes; uppercase M is months — the one case-sensitive unit, since
// that is the only place the grammar's minute/month ambiguity is
// resolved.
func ParseRetention(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, mqtterr.New("archivegroup.ParseRetention", 0, fmt.Errorf("retention interval too short: %q", s))
	}
	unit := s[len(s)-1]
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || n < 0 {
		return 0, mqtterr.New("archivegroup.ParseRetention", 0, fmt.Errorf("invalid retention interval: %q", s))
	}

	const day = 24 * time.Hour
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * day, nil
	case 'w':
		return time.Duration(n) * 7 * day, nil
	case 'M':
		return time.Duration(n) * 30 * day, nil
	case 'y':
		return time.Duration(n) * 365 * day, nil
	default:
		return 0, mqtterr.New("archivegroup.ParseRetention", 0, fmt.Errorf("unknown retention unit %q in %q", unit, s))
	}
}
