package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule computes the next run from the end of the previous cycle.
// cron.Schedule satisfies it.
type Schedule interface {
	Next(time.Time) time.Time
}

// ParseSchedule returns a cron schedule for expr when set, otherwise a
// constant delay of interval. timezone applies to cron expressions without
// their own CRON_TZ prefix; empty means the local zone.
func ParseSchedule(interval time.Duration, expr, timezone string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		if interval < time.Second {
			return nil, fmt.Errorf("interval must be at least 1s, got %s", interval)
		}
		return cron.Every(interval), nil
	}
	if timezone != "" && !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		if _, err := time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone: %w", err)
		}
		expr = "CRON_TZ=" + timezone + " " + expr
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return schedule, nil
}
