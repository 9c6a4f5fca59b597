package sysclock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockTimeMatchesWildcards(t *testing.T) {
	pattern := ClockTime{Weekday: AnyField, Hour: 7, Minute: 30, Second: AnyField}
	require.True(t, pattern.Matches(ClockTime{Weekday: 2, Hour: 7, Minute: 30, Second: 59}))
	require.False(t, pattern.Matches(ClockTime{Weekday: 2, Hour: 7, Minute: 31, Second: 0}))
}

func TestFromTimeMondayIsZero(t *testing.T) {
	monday := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC) // a Monday
	require.Equal(t, int8(0), FromTime(monday).Weekday)
	sunday := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	require.Equal(t, int8(6), FromTime(sunday).Weekday)
}

func TestCalendarParseScheduleMatchesRobfigCron(t *testing.T) {
	cal := NewCalendar(time.UTC)
	sched, err := cal.ParseSchedule("0 30 7 * * MON")
	require.NoError(t, err)

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) // a Saturday
	next := cal.NextAfter(sched, from)
	require.Equal(t, time.Monday, next.Weekday())
	require.Equal(t, 7, next.Hour())
	require.Equal(t, 30, next.Minute())
}

func TestCalendarRunScheduleFiresOnEverySecond(t *testing.T) {
	cal := NewCalendar(time.UTC)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 4)
	err := cal.RunSchedule(ctx, nil, "test.schedule", "* * * * * *", func(context.Context) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("schedule never fired")
	}
}

func TestCalendarRunScheduleRejectsInvalidExpression(t *testing.T) {
	cal := NewCalendar(time.UTC)
	err := cal.RunSchedule(context.Background(), nil, "test.schedule", "not a cron expression", func(context.Context) {})
	require.Error(t, err)
}
