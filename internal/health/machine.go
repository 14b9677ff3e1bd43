// Package health tracks per-service reachability. Each checker owns a
// Registry of states; transitions are pure functions of (state, probe
// result) and return the follow-up probe to schedule, if any.
package health

import (
	"time"

	"hostwatch/internal/models"
)

// ProbeResult is one observation. Status is offline when the probe failed.
type ProbeResult struct {
	Status       models.ServiceStatus
	ResponseTime *int64
	Code         int
	Err          error
}

func (r ProbeResult) OK() bool { return r.Status != models.StatusOffline }

type State struct {
	Failures         int                  `json:"consecutive_failures"`
	ConfirmedOffline bool                 `json:"confirmed_offline"`
	RecoveryMode     bool                 `json:"recovery_mode"`
	Confirming       bool                 `json:"confirming"`
	LastConfirmed    models.ServiceStatus `json:"last_confirmed_status,omitempty"`
}

type EventKind string

const (
	EventOffline     EventKind = "offline"
	EventRecovered   EventKind = "recovered"
	EventDegraded    EventKind = "degraded"
	EventUnreachable EventKind = "unreachable"
)

type NextKind int

const (
	NextNone NextKind = iota
	NextRetry
	NextRecoveryProbe
	NextConfirm
)

// Next is the follow-up probe a transition asks for.
type Next struct {
	Kind  NextKind
	Delay time.Duration
}

type Machine interface {
	Transition(s State, r ProbeResult) (State, []EventKind, Next)
}

// InternalMachine confirms an outage after Threshold consecutive failures,
// retrying after RetryDelay while below it.
type InternalMachine struct {
	Threshold  int
	RetryDelay time.Duration
}

func (m InternalMachine) Transition(s State, r ProbeResult) (State, []EventKind, Next) {
	if !r.OK() {
		if s.Failures < m.Threshold {
			s.Failures++
		}
		if s.Failures < m.Threshold {
			return s, nil, Next{Kind: NextRetry, Delay: m.RetryDelay}
		}
		if s.ConfirmedOffline {
			return s, nil, Next{}
		}
		s.ConfirmedOffline = true
		s.LastConfirmed = models.StatusOffline
		return s, []EventKind{EventOffline}, Next{}
	}

	var events []EventKind
	switch {
	case s.ConfirmedOffline:
		events = append(events, EventRecovered)
	case r.Status == models.StatusDegraded && s.LastConfirmed != models.StatusDegraded:
		events = append(events, EventDegraded)
	}
	s.Failures = 0
	s.ConfirmedOffline = false
	s.LastConfirmed = r.Status
	return s, events, Next{}
}

// PublicMachine enters recovery mode after Threshold consecutive failures.
// Leaving it takes a success followed by a confirming success
// RecoveryInterval later.
type PublicMachine struct {
	Threshold        int
	RetryDelay       time.Duration
	RecoveryInterval time.Duration
}

func (m PublicMachine) Transition(s State, r ProbeResult) (State, []EventKind, Next) {
	recoveryProbe := Next{Kind: NextRecoveryProbe, Delay: m.RecoveryInterval}

	if s.RecoveryMode {
		switch {
		case s.Confirming && r.OK():
			s = State{LastConfirmed: r.Status}
			return s, []EventKind{EventRecovered}, Next{}
		case s.Confirming:
			s.Confirming = false
			s.Failures = 1
			return s, nil, recoveryProbe
		case r.OK():
			s.Confirming = true
			return s, nil, Next{Kind: NextConfirm, Delay: m.RecoveryInterval}
		default:
			return s, nil, recoveryProbe
		}
	}

	if r.OK() {
		s.Failures = 0
		s.LastConfirmed = r.Status
		return s, nil, Next{}
	}
	s.Failures++
	if s.Failures < m.Threshold {
		return s, nil, Next{Kind: NextRetry, Delay: m.RetryDelay}
	}
	s.Failures = m.Threshold
	s.RecoveryMode = true
	s.ConfirmedOffline = true
	s.LastConfirmed = models.StatusOffline
	return s, []EventKind{EventUnreachable}, recoveryProbe
}
