package scheduler

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSleep is the pause between ticks when the document names none.
const DefaultSleep = 100 * time.Millisecond

// Schedule is one periodic action.
type Schedule struct {
	// Period in seconds; zero or negative means due on every tick.
	Period float64 `yaml:"period" json:"period"`
	Action string  `yaml:"action" json:"action"`
	// OnStart adds one invocation when the scheduler starts, on top of the
	// periodic ones.
	OnStart bool `yaml:"on_start" json:"on_start"`

	// LastPerformed starts at load time and advances only on success.
	LastPerformed time.Time `yaml:"-" json:"last_performed"`
}

// Due reports whether more than Period seconds have passed since the last
// successful invocation.
func (s Schedule) Due(now time.Time) bool {
	return now.Sub(s.LastPerformed).Seconds() > s.Period
}

// Document is the schedule file. JSON documents parse as YAML.
//
//	sleep: 100
//	schedules:
//	  - action: log_registers
//	    period: 60
//	  - action: initialise
//	    on_start: true
//	    period: 3600
type Document struct {
	// Sleep between ticks, in milliseconds.
	Sleep int `yaml:"sleep"`
	// Settings carries the older nested form of the sleep setting.
	Settings struct {
		Sleep int `yaml:"sleep"`
	} `yaml:"settings"`
	Schedules []Schedule `yaml:"schedules"`
}

// SleepDuration returns the tick interval, preferring the top level setting.
func (d Document) SleepDuration() time.Duration {
	switch {
	case d.Sleep > 0:
		return time.Duration(d.Sleep) * time.Millisecond
	case d.Settings.Sleep > 0:
		return time.Duration(d.Settings.Sleep) * time.Millisecond
	default:
		return DefaultSleep
	}
}

// Load reads and checks the schedule document at path.
func Load(path string) (Document, error) {
	var doc Document
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("%w: %w", ErrConfigLoad, err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("%w: parsing %s: %w", ErrConfigLoad, path, err)
	}
	if doc.Sleep < 0 || doc.Settings.Sleep < 0 {
		return doc, fmt.Errorf("%w: %s: sleep must not be negative", ErrConfigLoad, path)
	}
	for i, s := range doc.Schedules {
		if s.Action == "" {
			return doc, fmt.Errorf("%w: %s: schedule %d has no action", ErrConfigLoad, path, i)
		}
	}
	return doc, nil
}
