package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field cron expressions (minute granularity).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// NextRun computes the next activation of a cron expression strictly after
// the given instant. The reference instant is always "now", never the
// previous scheduled time, so occurrences missed during downtime collapse
// into the single run that triggered and the rest are skipped.
func NextRun(expression string, after time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expression)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after), nil
}

// ValidateExpression reports whether a cron expression parses.
func ValidateExpression(expression string) error {
	_, err := cronParser.Parse(expression)
	return err
}
