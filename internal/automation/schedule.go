package automation

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// scheduleDue reports whether a cron expression is due at the given instant,
// at minute granularity, in the trigger's timezone. The external scheduler is
// assumed to tick once a minute; two ticks landing in the same minute fire at
// most once because of the cooldown/lastRunAt path, not here.
func scheduleDue(trig *ScheduleTrigger, now time.Time) bool {
	sched, err := cron.ParseStandard(trig.Cron)
	if err != nil {
		return false
	}
	loc := time.UTC
	if trig.Timezone != "" {
		if l, lerr := time.LoadLocation(trig.Timezone); lerr == nil {
			loc = l
		}
	}
	minute := now.In(loc).Truncate(time.Minute)
	return sched.Next(minute.Add(-time.Second)).Equal(minute)
}

// DueSchedules returns the schedule-triggered automations due at now. This is
// the engine's half of the contract with the external cron/timer collaborator;
// the collaborator calls the tick endpoint, the endpoint calls RunDue.
func (e *Engine) DueSchedules(ctx context.Context, now time.Time) ([]*Automation, error) {
	all, err := e.automations.ListScheduled(ctx)
	if err != nil {
		return nil, err
	}
	var due []*Automation
	for _, a := range all {
		if a.Trigger.Schedule != nil && scheduleDue(a.Trigger.Schedule, now) {
			due = append(due, a)
		}
	}
	return due, nil
}
