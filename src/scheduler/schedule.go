package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is either a fixed interval or a 5-field cron expression, written
// as "interval(5m)" or "cron(*/5 * * * *)" on the collector row.
type Schedule struct {
	raw      string
	interval time.Duration
	cronExpr cron.Schedule
}

func ParseSchedule(raw string) (Schedule, error) {
	trimmed := strings.TrimSpace(raw)

	switch {
	case strings.HasPrefix(trimmed, "interval(") && strings.HasSuffix(trimmed, ")"):
		inner := trimmed[len("interval(") : len(trimmed)-1]
		d, err := time.ParseDuration(inner)
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid interval %q: %w", inner, err)
		}
		if d <= 0 {
			return Schedule{}, fmt.Errorf("interval must be positive, got %s", d)
		}
		return Schedule{raw: trimmed, interval: d}, nil

	case strings.HasPrefix(trimmed, "cron(") && strings.HasSuffix(trimmed, ")"):
		inner := trimmed[len("cron(") : len(trimmed)-1]
		expr, err := cron.ParseStandard(inner)
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid cron expression %q: %w", inner, err)
		}
		return Schedule{raw: trimmed, cronExpr: expr}, nil

	default:
		return Schedule{}, fmt.Errorf("schedule must be interval(...) or cron(...), got %q", raw)
	}
}

func (s Schedule) String() string {
	return s.raw
}

// Next returns the next firing after t.
func (s Schedule) Next(t time.Time) time.Time {
	if s.cronExpr != nil {
		return s.cronExpr.Next(t)
	}
	return t.Add(s.interval)
}
