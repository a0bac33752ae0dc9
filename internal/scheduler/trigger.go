package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger computes the firing times of a job. Next returns the first time
// strictly after the given instant, or the zero time when the trigger will
// never fire again.
type Trigger interface {
	Next(after time.Time) time.Time
	Description() string
}

type intervalTrigger struct {
	every time.Duration
}

// Every returns a trigger that fires repeatedly at a fixed interval,
// measured from the previous scheduled time.
func Every(d time.Duration) Trigger {
	return intervalTrigger{every: d}
}

func (t intervalTrigger) Next(after time.Time) time.Time {
	return after.Add(t.every)
}

func (t intervalTrigger) Description() string {
	return fmt.Sprintf("every %s", t.every)
}

type cronTrigger struct {
	spec  string
	sched cron.Schedule
}

// Cron returns a trigger driven by a standard five-field cron expression.
// Prefix the spec with CRON_TZ=<zone> to evaluate it in a fixed zone.
func Cron(spec string) (Trigger, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return cronTrigger{spec: spec, sched: sched}, nil
}

func (t cronTrigger) Next(after time.Time) time.Time {
	return t.sched.Next(after)
}

func (t cronTrigger) Description() string {
	return fmt.Sprintf("cron %q", t.spec)
}

type oneShotTrigger struct {
	at time.Time
}

// At returns a trigger that fires exactly once, at the given time. A time
// already in the past fires immediately.
func At(at time.Time) Trigger {
	return oneShotTrigger{at: at}
}

func (t oneShotTrigger) Next(after time.Time) time.Time {
	if after.Before(t.at) {
		return t.at
	}
	return time.Time{}
}

func (t oneShotTrigger) Description() string {
	return fmt.Sprintf("once at %s", t.at.Format(time.RFC3339))
}
