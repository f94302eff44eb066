package relay

import (
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration returns the duration from now until the next fire time
// of expr. Returns 0 on parse error.
func nextCronDuration(expr string, now time.Time) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	d := sched.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
