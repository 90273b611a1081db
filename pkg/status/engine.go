// Package status implements spec.md §4.4: the per-user state machine
// that promotes users into escalating penalty tiers on a badness
// crossing and restores them to default on timeout, with a forgiveness
// counter that decays occurrences during sustained good behavior.
package status

import (
	"time"

	"github.com/chpc-uofu/arbiter2d/pkg/model"
)

// Kind distinguishes the two notification-worthy transitions the
// engine can produce.
type Kind int

const (
	// Violation: a user was just promoted into a penalty tier.
	Violation Kind = iota
	// Release: a user's penalty expired and they returned to default.
	Release
)

// Transition is emitted whenever the engine moves a user between
// states in a way spec.md §4.4 says is notification-worthy. The
// Notifier/Logger phase (outside this package) decides what to do
// with it; the engine itself never touches email or SQL.
type Transition struct {
	Kind Kind
	UID  int
}

// Engine runs the status state machine.
type Engine struct{}

// New builds a status Engine. It is stateless; all mutable state
// lives on the UserSlice passed to Tick.
func New() *Engine { return &Engine{} }

// Tick advances one user's Status by one control-loop tick and
// returns any Transitions that occurred. occurTimeout is the
// forgiveness-clock duration (spec.md's occur_timeout).
func (e *Engine) Tick(now time.Time, us *model.UserSlice, gs GroupSet, localHostname string, occurTimeout time.Duration) ([]Transition, error) {
	var transitions []Transition

	switch {
	case !us.Status.InPenalty() && us.Badness.Total() >= 100:
		if _, err := e.promote(now, us, gs, localHostname); err != nil {
			return nil, err
		}
		transitions = append(transitions, Transition{Kind: Violation, UID: us.UID})

	case us.Status.InPenalty() && !now.Before(us.Status.PenaltyExpiry):
		wasAuthority := us.Status.Authority == localHostname
		e.release(now, us, occurTimeout)
		if wasAuthority {
			transitions = append(transitions, Transition{Kind: Release, UID: us.UID})
		}

	case !us.Status.InPenalty():
		e.tickForgiveness(now, us, occurTimeout)
	}

	return transitions, nil
}

func (e *Engine) promote(now time.Time, us *model.UserSlice, gs GroupSet, localHostname string) (string, error) {
	if us.Status.Occurrences < len(gs.PenaltyOrder) {
		us.Status.Occurrences++
	}
	tier, err := gs.PenaltyTierFor(us.Status.Occurrences)
	if err != nil {
		return "", err
	}
	group, ok := gs.Groups[tier]
	if !ok {
		return "", ErrUnknownGroup
	}

	us.Status.CurrentGroup = tier
	us.Badness = model.Badness{LastUpdateTS: now}
	us.Status.PenaltyExpiry = now.Add(group.Timeout)
	us.Status.Authority = localHostname
	return tier, nil
}

func (e *Engine) release(now time.Time, us *model.UserSlice, occurTimeout time.Duration) {
	us.Status.CurrentGroup = us.Status.DefaultGroup
	us.Status.OccurExpiry = now.Add(occurTimeout)
	us.Status.Authority = ""
	us.Status.PenaltyExpiry = time.Time{}
}

func (e *Engine) tickForgiveness(now time.Time, us *model.UserSlice, occurTimeout time.Duration) {
	if us.Badness.Total() > 0 {
		// Any nonzero badness while in default state restarts the
		// forgiveness clock — the v1.4+ semantics spec.md's Open
		// Questions section resolves this to.
		us.Status.OccurExpiry = now.Add(occurTimeout)
		return
	}
	if us.Status.Occurrences > 0 && !now.Before(us.Status.OccurExpiry) {
		us.Status.Occurrences--
		us.Status.OccurExpiry = now.Add(occurTimeout)
	}
}
