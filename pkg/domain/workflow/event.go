package workflow

import (
	"gopkg.in/yaml.v3"
)

// CronSchedule is one cron entry of an event block.
type CronSchedule struct {
	Cronjob  string `yaml:"cronjob"`
	Timezone string `yaml:"timezone,omitempty"`
}

// Event is the schedule configuration attached to a workflow: an ordered set
// of cron schedules plus names of workflows whose completion releases this one.
type Event struct {
	Schedule  []CronSchedule `yaml:"schedule,omitempty" validate:"max=10"`
	ReleaseOn []string       `yaml:"release,omitempty"`
}

// UnmarshalYAML accepts the common shorthand list form:
//
//	on:
//	  - cronjob: "0 * * * *"
//	    timezone: Asia/Bangkok
//
// as well as the full mapping form with schedule/release keys.
func (e *Event) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var entries []CronSchedule
		if err := node.Decode(&entries); err != nil {
			return err
		}
		e.Schedule = entries
		return nil
	}
	type raw Event
	var v raw
	if err := node.Decode(&v); err != nil {
		return err
	}
	*e = Event(v)
	return nil
}

// TimezoneOf returns the shared timezone of the event's schedules, defaulting
// to the given fallback when none declare one.
func (e *Event) TimezoneOf(fallback string) string {
	for _, s := range e.Schedule {
		if s.Timezone != "" {
			return s.Timezone
		}
	}
	return fallback
}
