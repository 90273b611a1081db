package status

import (
	"testing"

	"github.com/chpc-uofu/arbiter2d/pkg/config"
	"github.com/stretchr/testify/require"
)

func relativeGroupSet() GroupSet {
	c := config.Default()
	c.Status.Order = []config.GroupMatch{{Group: "normal", UIDs: []int{100}}}
	c.Status.Groups = map[string]config.Group{
		"normal":   {CPUQuota: 400, MemQuota: 32 << 30},
		"penalty1": {CPUQuota: 0.5, MemQuota: 0.5, Relative: true},
	}
	c.Penalty.Order = []string{"penalty1"}
	return NewGroupSet(c)
}

func TestDefaultGroupForMatchesByUID(t *testing.T) {
	gs := relativeGroupSet()
	g, err := gs.DefaultGroupFor(100, nil)
	require.NoError(t, err)
	require.Equal(t, "normal", g)
}

func TestDefaultGroupForFallsBackWhenNoMatch(t *testing.T) {
	gs := relativeGroupSet()
	g, err := gs.DefaultGroupFor(999, nil)
	require.NoError(t, err)
	require.Equal(t, gs.Fallback, g)
}

func TestPenaltyTierForClampsToLastTier(t *testing.T) {
	gs := relativeGroupSet()
	tier, err := gs.PenaltyTierFor(50)
	require.NoError(t, err)
	require.Equal(t, "penalty1", tier)
}

func TestPenaltyTierForRejectsEmptyOrder(t *testing.T) {
	gs := relativeGroupSet()
	gs.PenaltyOrder = nil
	_, err := gs.PenaltyTierFor(1)
	require.Error(t, err)
}

func TestResolveQuotaAppliesRelativeFractions(t *testing.T) {
	gs := relativeGroupSet()
	q, err := gs.ResolveQuota("normal", "penalty1", false, 1)
	require.NoError(t, err)
	require.Equal(t, 200.0, q.CPUQuotaPct)
	require.Equal(t, float64(16<<30), q.MemQuotaBytes)
}

func TestResolveQuotaDividesByThreadsPerCoreWhenEnabled(t *testing.T) {
	gs := relativeGroupSet()
	q, err := gs.ResolveQuota("normal", "normal", true, 2)
	require.NoError(t, err)
	require.Equal(t, 200.0, q.CPUQuotaPct)
}

func TestResolveQuotaRejectsUnknownGroup(t *testing.T) {
	gs := relativeGroupSet()
	_, err := gs.ResolveQuota("normal", "ghost", false, 1)
	require.ErrorIs(t, err, ErrUnknownGroup)
}
