// Package cron evaluates workflow cron schedules: given a 5- or 6-field cron
// expression and an IANA timezone, it computes next and previous fire times
// with wall-clock (DST-correct) semantics.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/errors"
)

// parser accepts both the classic 5-field form and an optional leading
// seconds field.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule is one parsed cron expression bound to a timezone.
type Schedule struct {
	Expr     string
	Location *time.Location

	sched cron.Schedule
}

// Parse builds a schedule from a cron expression and an IANA timezone name.
// An empty timezone means UTC.
func Parse(expr, timezone string) (*Schedule, error) {
	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, errors.New(errors.KindSchedule, errors.CodeScheduleInvalid,
				fmt.Sprintf("unknown timezone %q", timezone), err)
		}
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, errors.New(errors.KindSchedule, errors.CodeScheduleInvalid,
			fmt.Sprintf("invalid cron expression %q", expr), err)
	}
	return &Schedule{Expr: expr, Location: loc, sched: sched}, nil
}

// Next returns the first fire time strictly after t, in the schedule's
// timezone.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.sched.Next(t.In(s.Location))
}

// Prev returns the last fire time strictly before t, searching backwards in
// daily windows (bounded at one year). The zero time means no prior fire.
func (s *Schedule) Prev(t time.Time) time.Time {
	t = t.In(s.Location)
	for days := 1; days <= 366; days++ {
		windowStart := t.AddDate(0, 0, -days)
		var last time.Time
		for cur := s.sched.Next(windowStart); cur.Before(t); cur = s.sched.Next(cur) {
			last = cur
		}
		if !last.IsZero() {
			return last
		}
	}
	return time.Time{}
}

// Matches reports whether t, truncated to the minute, is a fire time.
func (s *Schedule) Matches(t time.Time) bool {
	minute := t.In(s.Location).Truncate(time.Minute)
	return s.sched.Next(minute.Add(-time.Second)).Equal(minute)
}
