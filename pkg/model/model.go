// Package model defines the flat, explicit-field data model shared by
// every arbiter2d component. A UserSlice owns its Badness, Status and
// event Ring exclusively; nothing in this package holds a pointer back
// up to its owner, so the collector/aggregator/scorer/status graph is
// acyclic by construction.
package model

import "time"

// ProcessSample is one process observed during one collector sub-tick.
type ProcessSample struct {
	PID       int
	Comm      string // kernel comm, truncated to 15 bytes
	UIDOwner  int
	CPUTimeNS uint64 // utime+stime converted to nanoseconds
	MemBytes  uint64
}

// UsageSample is one moment of observed consumption for a single user's
// cgroup, produced by the Collector and consumed by the Aggregator in
// the same tick.
type UsageSample struct {
	TS           time.Time
	UID          int
	CPUUserNS    uint64
	CPUSystemNS  uint64
	MemRSSBytes  uint64
	MemFileBytes uint64
	Procs        []ProcessSample
}

// ProcessUsage is one process's contribution to an averaged Event.
type ProcessUsage struct {
	PID         int
	Name        string
	UIDOwner    int
	CPUPct      float64
	MemBytes    uint64
	Whitelisted bool
}

// Event is a sub-sample average over one aggregation interval.
type Event struct {
	TSStart, TSEnd time.Time
	CPUPct         float64 // cgroup-wide, whitelisted+accounted
	MemBytes       uint64
	Processes      []ProcessUsage
}

// TrackedCPUPct and TrackedMemBytes sum the per-process contributions
// recorded for this Event; see OtherProcessesCPUPct/MemBytes for the
// nonnegative remainder the cgroup counters attribute to processes the
// per-pid walk never captured. The accounted/whitelisted split of that
// remainder depends on the whitelist_other_processes policy, which
// lives in configuration, not in this data-only type — see
// pkg/aggregator.AccountedUsage.
func (e Event) TrackedCPUPct() float64 {
	var tracked float64
	for _, p := range e.Processes {
		tracked += p.CPUPct
	}
	return tracked
}

func (e Event) TrackedMemBytes() uint64 {
	var tracked uint64
	for _, p := range e.Processes {
		tracked += p.MemBytes
	}
	return tracked
}

// OtherProcessesCPUPct is max(0, cgroup_usage - sum(process_usage)),
// per spec.md §3's invariant that a cgroup's usage is always >= the
// sum of its tracked pids' usage.
func (e Event) OtherProcessesCPUPct() float64 {
	if other := e.CPUPct - e.TrackedCPUPct(); other > 0 {
		return other
	}
	return 0
}

func (e Event) OtherProcessesMemBytes() uint64 {
	tracked := e.TrackedMemBytes()
	if e.MemBytes > tracked {
		return e.MemBytes - tracked
	}
	return 0
}

// Badness is a user's bounded, per-axis score in [0,100].
type Badness struct {
	CPUScore     float64
	MemScore     float64
	LastUpdateTS time.Time
	ExpiryTS     time.Time
}

// Total returns the combined, clamped badness used for penalty
// promotion decisions.
func (b Badness) Total() float64 {
	t := b.CPUScore + b.MemScore
	if t > 100 {
		return 100
	}
	if t < 0 {
		return 0
	}
	return t
}

// Status is a user's place in the status state machine.
type Status struct {
	CurrentGroup  string
	DefaultGroup  string
	Occurrences   int
	PenaltyExpiry time.Time
	OccurExpiry   time.Time
	Authority     string // hostname that promoted the current penalty; empty outside penalty
}

// InPenalty reports whether the user is currently serving a penalty
// tier (current group differs from their default group).
func (s Status) InPenalty() bool {
	return s.CurrentGroup != s.DefaultGroup
}

// StatusGroup is an immutable policy tier loaded from configuration.
type StatusGroup struct {
	Name        string
	CPUQuotaPct float64 // percent of one core's worth per core, e.g. 400 = 4 cores
	// MemQuotaBytes is a byte count for an absolute group, or a
	// fraction of the default group's MemQuotaBytes for a Relative
	// one; ResolveQuota always returns the resolved, absolute byte
	// value. float64 rather than uint64 so a relative group's fraction
	// (e.g. 0.5) can be stored before resolution.
	MemQuotaBytes float64
	Whitelist     []string // glob patterns from configuration; cmd/arbiter2d does not pass them to the aggregator, so only the global whitelist is applied
	Timeout       time.Duration
	Relative      bool // cpu/mem quotas are fractions of the user's default group
}

// UserSlice is the sole owner of one tracked user's mutable state.
type UserSlice struct {
	UID      int
	Username string
	Ring     []Event // bounded; oldest evicted first
	Badness  Badness
	Status   Status
}

// PushEvent appends an Event to the ring, evicting the oldest entries
// once the ring exceeds maxHistory.
func (u *UserSlice) PushEvent(e Event, maxHistory int) {
	u.Ring = append(u.Ring, e)
	if over := len(u.Ring) - maxHistory; over > 0 {
		u.Ring = u.Ring[over:]
	}
}

// LatestEvent returns the most recently pushed Event, if any.
func (u *UserSlice) LatestEvent() (Event, bool) {
	if len(u.Ring) == 0 {
		return Event{}, false
	}
	return u.Ring[len(u.Ring)-1], true
}

// Idle reports whether a user can be safely forgotten: no residual
// badness, no occurrence history, and currently in their default
// group. Used by the collector/control loop to decide whether a
// vanished cgroup should drop the UserSlice entirely.
func (u *UserSlice) Idle() bool {
	return u.Badness.CPUScore == 0 && u.Badness.MemScore == 0 &&
		u.Status.Occurrences == 0 && !u.Status.InPenalty()
}

// ClampScore logs and clamps an out-of-range badness axis score,
// implementing the "invariant violation: log loud, clamp, continue"
// error-handling rule shared by the scorer and the synchronizer's
// bootstrap rehydration path.
func ClampScore(warn func(msg string, args ...any), axis string, v float64) float64 {
	switch {
	case v < 0:
		warn("badness score below zero, clamping", "axis", axis, "value", v)
		return 0
	case v > 100:
		warn("badness score above max, clamping", "axis", axis, "value", v)
		return 100
	default:
		return v
	}
}
