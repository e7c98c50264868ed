package types

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an experiment or trial.
type Status string

// Statuses. Every experiment and trial starts as StatusPending.
const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
	StatusTimedOut Status = "timed_out"
	StatusSkipped  Status = "skipped"
)

// transitions is the only path between statuses. Terminal statuses map to an
// empty set.
var transitions = map[Status][]Status{
	StatusPending:  {StatusRunning, StatusSkipped},
	StatusRunning:  {StatusFinished, StatusTimedOut, StatusPaused},
	StatusPaused:   {StatusRunning},
	StatusFinished: {},
	StatusTimedOut: {},
	StatusSkipped:  {},
}

// statusDescriptions are shown by the CLI.
var statusDescriptions = map[Status]string{
	StatusPending:  "scheduled to run later",
	StatusRunning:  "running right now",
	StatusPaused:   "temporarily paused",
	StatusFinished: "ended as expected",
	StatusTimedOut: "went on too long and has ended",
	StatusSkipped:  "will not run",
}

// Statuses returns every known status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusPending, StatusRunning, StatusPaused, StatusFinished, StatusTimedOut, StatusSkipped}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Description returns a short human-readable explanation of s.
func (s Status) Description() string {
	return statusDescriptions[s]
}

// AllowedTransitions returns the statuses reachable from s in one step.
func AllowedTransitions(s Status) []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StatusChange is one entry of a status history.
type StatusChange struct {
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	Timestamp time.Time `json:"timestamp"`
}

// Interval is a closed pause, from the moment of pausing to the moment of
// resuming.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Length returns End - Start.
func (i Interval) Length() time.Duration {
	return i.End.Sub(i.Start)
}

// Event is a free-form entry of an event history. expflow never writes
// events; they are for the caller's own bookkeeping.
type Event map[string]any

// StatusMachine is the status model embedded in experiments and trials.
// The zero value is a pending machine with empty histories. CurrentStatus is
// exported for serialization only: change it through SetStatus, which is the
// single place that enforces the transition table and keeps the timestamps
// consistent.
type StatusMachine struct {
	CurrentStatus   Status         `json:"current_status"`
	StatusHistory   []StatusChange `json:"status_history"`
	EventHistory    []Event        `json:"event_history"`
	StartedAt       *time.Time     `json:"started_at"`
	FinishedAt      *time.Time     `json:"finished_at"`
	LastPausedAt    *time.Time     `json:"last_paused_at"`
	PausedIntervals []Interval     `json:"paused_intervals"`

	// Duration is the active time in seconds, set when the machine reaches
	// finished or timed_out.
	Duration *float64 `json:"duration"`
}

// Status returns the current status.
func (m *StatusMachine) Status() Status {
	if m.CurrentStatus == "" {
		return StatusPending
	}
	return m.CurrentStatus
}

// SetStatus moves the machine to next. Unknown statuses fail with
// ErrInvalidStatus and transitions the table does not allow fail with
// ErrIllegalTransition; in both cases nothing changes.
func (m *StatusMachine) SetStatus(next Status) error {
	prev := m.Status()
	if !next.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, next)
	}
	if !CanTransition(prev, next) {
		return fmt.Errorf("%w: cannot switch from %s to %s", ErrIllegalTransition, prev, next)
	}

	now := Now()
	m.StatusHistory = append(m.StatusHistory, StatusChange{OldStatus: prev, NewStatus: next, Timestamp: now})
	m.CurrentStatus = next

	switch next {
	case StatusRunning:
		switch prev {
		case StatusPaused:
			start := now
			if m.LastPausedAt != nil {
				start = *m.LastPausedAt
			}
			m.PausedIntervals = append(m.PausedIntervals, Interval{Start: start, End: now})
		case StatusPending:
			m.StartedAt = &now
		}
	case StatusFinished, StatusTimedOut:
		m.FinishedAt = &now
		if d, err := m.Elapsed(); err == nil {
			secs := d.Seconds()
			m.Duration = &secs
		}
	case StatusPaused:
		m.LastPausedAt = &now
	}
	return nil
}

// Elapsed returns the active time: finished_at - started_at minus every
// paused interval. It fails with ErrDurationUnavailable until the machine has
// finished. The result is not clamped; a negative value means the timestamps
// were edited by hand.
func (m *StatusMachine) Elapsed() (time.Duration, error) {
	if m.FinishedAt == nil {
		return 0, ErrDurationUnavailable
	}
	var started time.Time
	if m.StartedAt != nil {
		started = *m.StartedAt
	} else {
		// Timed out or finished without ever running is impossible through
		// SetStatus; treat a missing start as an empty run.
		started = *m.FinishedAt
	}
	d := m.FinishedAt.Sub(started)
	for _, p := range m.PausedIntervals {
		d -= p.Length()
	}
	return d, nil
}

// Run moves the machine to running.
func (m *StatusMachine) Run() error { return m.SetStatus(StatusRunning) }

// Start is an alias for Run.
func (m *StatusMachine) Start() error { return m.Run() }

// Resume is an alias for Run.
func (m *StatusMachine) Resume() error { return m.Run() }

// Unpause is an alias for Run.
func (m *StatusMachine) Unpause() error { return m.Run() }

// Pause moves the machine to paused.
func (m *StatusMachine) Pause() error { return m.SetStatus(StatusPaused) }

// Finish moves the machine to finished.
func (m *StatusMachine) Finish() error { return m.SetStatus(StatusFinished) }

// FinishNormally is an alias for Finish.
func (m *StatusMachine) FinishNormally() error { return m.Finish() }

// Skip moves the machine to skipped.
func (m *StatusMachine) Skip() error { return m.SetStatus(StatusSkipped) }

// TimeOut moves the machine to timed_out. The status is an application
// signal; no timer is involved.
func (m *StatusMachine) TimeOut() error { return m.SetStatus(StatusTimedOut) }

func (m *StatusMachine) IsPending() bool  { return m.Status() == StatusPending }
func (m *StatusMachine) IsRunning() bool  { return m.Status() == StatusRunning }
func (m *StatusMachine) IsPaused() bool   { return m.Status() == StatusPaused }
func (m *StatusMachine) IsFinished() bool { return m.Status() == StatusFinished }
func (m *StatusMachine) IsTimedOut() bool { return m.Status() == StatusTimedOut }
func (m *StatusMachine) IsSkipped() bool  { return m.Status() == StatusSkipped }

// IsTerminal reports whether the machine is finished, timed out, or skipped.
func (m *StatusMachine) IsTerminal() bool { return m.Status().Terminal() }
