// Package score implements spec.md §4.3: the per-axis badness rate
// law that accumulates a bounded [0,100] score from instantaneous
// accounted usage relative to a user's current quota.
package score

import (
	"log/slog"
	"time"

	"github.com/chpc-uofu/arbiter2d/pkg/model"
)

// Thresholds holds the per-axis badness thresholds T_cpu, T_mem in
// (0,1], the axis time constants, and the cap-badness-increase flag.
type Thresholds struct {
	CPU            float64
	Mem            float64
	TimeToMaxBad   time.Duration
	TimeToMinBad   time.Duration
	CapBadnessIncr bool
}

// Scorer mutates a UserSlice's Badness from its latest Event.
type Scorer struct {
	logger *slog.Logger
}

// New builds a Scorer.
func New(logger *slog.Logger) *Scorer {
	return &Scorer{logger: logger}
}

// Update applies the rate law for both axes. accountedCPUPct is a
// percentage (0-100 per core, summed across cores — comparable units
// to quotaCPUPct); accountedMemBytes/quotaMemBytes are both bytes.
// When inPenalty is true, the Scorer is short-circuited: the stored
// scores are left at zero, per spec.md's invariant that badness does
// not accumulate inside a penalty tier.
func (s *Scorer) Update(b *model.Badness, now time.Time, accountedCPUPct float64, quotaCPUPct float64, accountedMemBytes float64, quotaMemBytes float64, th Thresholds, refresh time.Duration, inPenalty bool) {
	if inPenalty {
		b.CPUScore = 0
		b.MemScore = 0
		b.LastUpdateTS = now
		return
	}

	b.CPUScore = s.updateAxis("cpu", b.CPUScore, ratio(accountedCPUPct, quotaCPUPct), th.CPU, th, refresh)
	b.MemScore = s.updateAxis("mem", b.MemScore, ratio(accountedMemBytes, quotaMemBytes), th.Mem, th, refresh)
	b.LastUpdateTS = now
}

func (s *Scorer) updateAxis(axis string, score float64, r, threshold float64, th Thresholds, refresh time.Duration) float64 {
	switch {
	case r > threshold:
		delta := (r - threshold) * (100 / (th.TimeToMaxBad.Seconds() * threshold)) * refresh.Seconds()
		if th.CapBadnessIncr {
			capDelta := (1 - threshold) * (100 / (th.TimeToMaxBad.Seconds() * threshold)) * refresh.Seconds()
			if delta > capDelta {
				delta = capDelta
			}
		}
		score += delta
	case r < threshold:
		delta := (threshold - r) * (100 / th.TimeToMinBad.Seconds()) * refresh.Seconds()
		score -= delta
		if score < 0 {
			// An idle user's score routinely decays past zero every
			// tick; that's expected, not an invariant violation, so
			// it's clamped here rather than through ClampScore's warn.
			return 0
		}
	}
	return model.ClampScore(s.logf, axis, score)
}

func (s *Scorer) logf(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

// ratio computes u/Q, treating a zero or negative quota as "unlimited"
// (ratio 0, never triggers a penalty) rather than dividing by zero.
func ratio(usage, quota float64) float64 {
	if quota <= 0 {
		return 0
	}
	return usage / quota
}
