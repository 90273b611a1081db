package status

import (
	"fmt"

	"github.com/chpc-uofu/arbiter2d/pkg/config"
	"github.com/chpc-uofu/arbiter2d/pkg/model"
)

// GroupSet is the resolved, immutable policy the Status engine
// consults every tick: every configured StatusGroup, the ordered
// uid/gid match list for default-group resolution, and the ordered
// penalty tier list.
type GroupSet struct {
	Groups       map[string]model.StatusGroup
	Order        []config.GroupMatch
	Fallback     string
	PenaltyOrder []string
}

// NewGroupSet converts a loaded config.Config into a GroupSet.
func NewGroupSet(c *config.Config) GroupSet {
	groups := make(map[string]model.StatusGroup, len(c.Status.Groups))
	for name, g := range c.Status.Groups {
		groups[name] = model.StatusGroup{
			Name:          name,
			CPUQuotaPct:   g.CPUQuota,
			MemQuotaBytes: g.MemQuota,
			Whitelist:     g.Whitelist,
			Timeout:       g.Timeout,
			Relative:      g.Relative,
		}
	}
	return GroupSet{
		Groups:       groups,
		Order:        c.Status.Order,
		Fallback:     c.Status.FallbackStatus,
		PenaltyOrder: c.Penalty.Order,
	}
}

// DefaultGroupFor resolves a user's default status group by matching
// their uid/gid against the ordered Order list, falling back to
// Fallback. Per spec.md §4.4.
func (gs GroupSet) DefaultGroupFor(uid int, gids []int) (string, error) {
	for _, m := range gs.Order {
		for _, u := range m.UIDs {
			if u == uid {
				return m.Group, nil
			}
		}
		for _, g := range m.GIDs {
			for _, have := range gids {
				if g == have {
					return m.Group, nil
				}
			}
		}
	}
	if gs.Fallback == "" {
		return "", ErrNoDefaultGroup
	}
	if _, ok := gs.Groups[gs.Fallback]; !ok {
		return "", fmt.Errorf("%w: fallback %q", ErrUnknownGroup, gs.Fallback)
	}
	return gs.Fallback, nil
}

// PenaltyTierFor returns the status group name for a given
// occurrences count, clamped to the last configured tier, per
// spec.md §3's invariant on occurrences.
func (gs GroupSet) PenaltyTierFor(occurrences int) (string, error) {
	if len(gs.PenaltyOrder) == 0 {
		return "", fmt.Errorf("%w: no penalty tiers configured", ErrUnknownGroup)
	}
	idx := occurrences - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(gs.PenaltyOrder) {
		idx = len(gs.PenaltyOrder) - 1
	}
	return gs.PenaltyOrder[idx], nil
}

// ResolveQuota returns the effective, absolute StatusGroup for a
// user's current status: for penalty tiers configured as Relative, cpu
// and mem quotas are interpreted as fractions of the user's default
// group's quotas, per spec.md §4.4. divByThreadsPerCore implements
// div_cpu_quotas_by_threads_per_core.
func (gs GroupSet) ResolveQuota(defaultGroup, currentGroup string, divByThreadsPerCore bool, threadsPerCore int) (model.StatusGroup, error) {
	def, ok := gs.Groups[defaultGroup]
	if !ok {
		return model.StatusGroup{}, fmt.Errorf("%w: %q", ErrUnknownGroup, defaultGroup)
	}
	cur, ok := gs.Groups[currentGroup]
	if !ok {
		return model.StatusGroup{}, fmt.Errorf("%w: %q", ErrUnknownGroup, currentGroup)
	}

	effective := cur
	if cur.Relative {
		// Relative tiers store their cpu/mem quotas as fractions (e.g.
		// 0.5 == half) of the default group's quotas, per spec.md §4.4.
		effective.CPUQuotaPct = def.CPUQuotaPct * cur.CPUQuotaPct
		effective.MemQuotaBytes = def.MemQuotaBytes * cur.MemQuotaBytes
	}
	if divByThreadsPerCore && threadsPerCore > 0 {
		effective.CPUQuotaPct = effective.CPUQuotaPct / float64(threadsPerCore)
	}
	return effective, nil
}
