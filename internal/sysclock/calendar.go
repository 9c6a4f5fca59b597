package sysclock

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fieldnode/nodecore"
	"github.com/fieldnode/nodecore/internal/task"
)

// ClockTime is the wall-clock weekday/hour/minute/second tuple from spec §3.
// A field value of -1 is a wildcard: it matches any value of that field.
// Weekday follows the spec's Monday=0 convention.
type ClockTime struct {
	Weekday int8
	Hour    int8
	Minute  int8
	Second  int8
}

// AnyField is the wildcard value for a ClockTime field.
const AnyField int8 = -1

// FromTime builds a fully concrete (no wildcards) ClockTime from t.
func FromTime(t time.Time) ClockTime {
	wd := int8(t.Weekday()) - 1 // time.Sunday == 0, spec wants Monday == 0
	if wd < 0 {
		wd = 6
	}
	return ClockTime{
		Weekday: wd,
		Hour:    int8(t.Hour()),
		Minute:  int8(t.Minute()),
		Second:  int8(t.Second()),
	}
}

// Matches reports whether current equals the pattern c on every field of c
// that is not a wildcard (spec §3: "compared by equality of matching
// fields"). current is assumed concrete.
func (c ClockTime) Matches(current ClockTime) bool {
	return (c.Weekday == AnyField || c.Weekday == current.Weekday) &&
		(c.Hour == AnyField || c.Hour == current.Hour) &&
		(c.Minute == AnyField || c.Minute == current.Minute) &&
		(c.Second == AnyField || c.Second == current.Second)
}

// Calendar maintains the 1Hz wall-clock tick and lets callers await it
// (secondTick, spec §4.B) or schedule against an arbitrary cron expression
// using the same field-matching primitives the teacher's scheduler module
// parses Job.Schedule with.
type Calendar struct {
	loc    *time.Location
	ticks  *task.Barrier
	parser cron.Parser
}

// NewCalendar returns a Calendar in the given location (time.Local if nil).
func NewCalendar(loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.Local
	}
	return &Calendar{
		loc:   loc,
		ticks: task.NewBarrier(),
		parser: cron.NewParser(
			cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		),
	}
}

// Name implements nodecore.Module.
func (c *Calendar) Name() string { return "sysclock.calendar" }

// Init implements nodecore.Module; the calendar has no dependencies to wire.
func (c *Calendar) Init(_ *nodecore.Node) error { return nil }

// Start runs the 1Hz tick loop until ctx is done, implementing
// nodecore.Startable.
func (c *Calendar) Start(ctx context.Context) error {
	task.Spawn(ctx, slog.Default(), "sysclock.calendar.tick", func(ctx context.Context) {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				c.ticks.ResumeAll(FromTime(now.In(c.loc)))
			}
		}
	})
	return nil
}

// Now returns the current wall-clock ClockTime.
func (c *Calendar) Now() ClockTime {
	return FromTime(time.Now().In(c.loc))
}

// SecondTick blocks until the next 1Hz tick fires or ctx is done, returning
// the ClockTime observed at that tick (spec §4.B secondTick()).
func (c *Calendar) SecondTick(ctx context.Context) (ClockTime, error) {
	v, err := c.ticks.Wait(ctx, nil)
	if err != nil {
		return ClockTime{}, err
	}
	return v.(ClockTime), nil
}

// ParseSchedule parses a 6-field (including seconds) cron expression into a
// cron.Schedule, the same parser the teacher's scheduler module uses to
// parse Job.Schedule.
func (c *Calendar) ParseSchedule(expr string) (cron.Schedule, error) {
	return c.parser.Parse(expr)
}

// NextAfter returns the next instant sched fires strictly after 'after'.
func (c *Calendar) NextAfter(sched cron.Schedule, after time.Time) time.Time {
	return sched.Next(after)
}

// RunSchedule parses expr and spawns a task (named via task.Spawn) that
// invokes fn at every firing, recomputing the next firing with NextAfter
// after each one — the same "run, then reschedule from Schedule.Next" loop
// the teacher's scheduler module drives from inside its cron.Cron callback
// (registerWithCron), here built directly on Calendar instead of a second
// cron.Cron instance. Used by internal/function to drive calendar-scheduled
// function inputs (e.g. Heating Control's night-mode window).
func (c *Calendar) RunSchedule(ctx context.Context, logger *slog.Logger, name, expr string, fn func(context.Context)) error {
	sched, err := c.ParseSchedule(expr)
	if err != nil {
		return err
	}
	task.Spawn(ctx, logger, name, func(ctx context.Context) {
		next := c.NextAfter(sched, time.Now().In(c.loc))
		for {
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				fn(ctx)
				next = c.NextAfter(sched, time.Now().In(c.loc))
			}
		}
	})
	return nil
}
