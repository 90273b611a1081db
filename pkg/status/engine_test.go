package status

import (
	"testing"
	"time"

	"github.com/chpc-uofu/arbiter2d/pkg/config"
	"github.com/chpc-uofu/arbiter2d/pkg/model"
	"github.com/stretchr/testify/require"
)

func testGroupSet() GroupSet {
	c := config.Default()
	c.Status.Groups = map[string]config.Group{
		"normal": {CPUQuota: 400, MemQuota: 32 << 30},
		"penalty1": {Timeout: time.Hour},
		"penalty2": {Timeout: 2 * time.Hour},
	}
	c.Penalty.Order = []string{"penalty1", "penalty2"}
	return NewGroupSet(c)
}

func TestTickPromotesOnBadnessCeiling(t *testing.T) {
	gs := testGroupSet()
	e := New()
	now := time.Now()

	us := &model.UserSlice{
		UID:    42,
		Status: model.Status{CurrentGroup: "normal", DefaultGroup: "normal"},
		Badness: model.Badness{CPUScore: 60, MemScore: 45},
	}

	trans, err := e.Tick(now, us, gs, "nodeA", time.Hour)
	require.NoError(t, err)
	require.Len(t, trans, 1)
	require.Equal(t, Violation, trans[0].Kind)
	require.Equal(t, "penalty1", us.Status.CurrentGroup)
	require.Equal(t, 1, us.Status.Occurrences)
	require.Equal(t, "nodeA", us.Status.Authority)
	require.True(t, us.Status.InPenalty())
	require.Zero(t, us.Badness.Total())
}

func TestTickOccurrencesSaturateAtPenaltyOrderLength(t *testing.T) {
	gs := testGroupSet()
	e := New()
	now := time.Now()

	us := &model.UserSlice{
		UID: 1,
		Status: model.Status{
			CurrentGroup: "normal", DefaultGroup: "normal", Occurrences: 2,
		},
		Badness: model.Badness{CPUScore: 100},
	}

	_, err := e.Tick(now, us, gs, "nodeA", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, us.Status.Occurrences)
	require.Equal(t, "penalty2", us.Status.CurrentGroup)
}

func TestTickReleasesOnPenaltyExpiryAndNotifiesOnlyAuthority(t *testing.T) {
	gs := testGroupSet()
	e := New()
	now := time.Now()

	us := &model.UserSlice{
		UID: 1,
		Status: model.Status{
			CurrentGroup: "penalty1", DefaultGroup: "normal",
			Occurrences: 1, PenaltyExpiry: now.Add(-time.Second), Authority: "nodeA",
		},
	}

	trans, err := e.Tick(now, us, gs, "nodeA", 6*time.Hour)
	require.NoError(t, err)
	require.Len(t, trans, 1)
	require.Equal(t, Release, trans[0].Kind)
	require.Equal(t, "normal", us.Status.CurrentGroup)
	require.Equal(t, "", us.Status.Authority)
	require.False(t, us.Status.InPenalty())

	// A peer node observing the same expiry, but that never held
	// authority over this penalty, must not emit a duplicate notification.
	us2 := &model.UserSlice{
		UID: 2,
		Status: model.Status{
			CurrentGroup: "penalty1", DefaultGroup: "normal",
			Occurrences: 1, PenaltyExpiry: now.Add(-time.Second), Authority: "nodeA",
		},
	}
	trans2, err := e.Tick(now, us2, gs, "nodeB", 6*time.Hour)
	require.NoError(t, err)
	require.Empty(t, trans2)
	require.Equal(t, "normal", us2.Status.CurrentGroup)
}

func TestTickForgivenessDecaysOccurrencesAfterTimeout(t *testing.T) {
	gs := testGroupSet()
	e := New()
	now := time.Now()

	us := &model.UserSlice{
		UID: 1,
		Status: model.Status{
			CurrentGroup: "normal", DefaultGroup: "normal",
			Occurrences: 2, OccurExpiry: now.Add(-time.Minute),
		},
	}

	trans, err := e.Tick(now, us, gs, "nodeA", time.Hour)
	require.NoError(t, err)
	require.Empty(t, trans)
	require.Equal(t, 1, us.Status.Occurrences)
	require.True(t, us.Status.OccurExpiry.After(now))
}

func TestTickForgivenessClockResetsOnAnyNonzeroBadnessWhileDefault(t *testing.T) {
	gs := testGroupSet()
	e := New()
	now := time.Now()
	staleExpiry := now.Add(-time.Minute)

	us := &model.UserSlice{
		UID: 1,
		Status: model.Status{
			CurrentGroup: "normal", DefaultGroup: "normal",
			Occurrences: 1, OccurExpiry: staleExpiry,
		},
		Badness: model.Badness{CPUScore: 1},
	}

	_, err := e.Tick(now, us, gs, "nodeA", time.Hour)
	require.NoError(t, err)
	// Nonzero badness takes priority over the expired forgiveness
	// timer: occurrences must not decay this tick, and the clock
	// restarts from now.
	require.Equal(t, 1, us.Status.Occurrences)
	require.True(t, us.Status.OccurExpiry.After(now))
}

func TestTickNoOpWhenDefaultBadnessZeroAndTimerNotExpired(t *testing.T) {
	gs := testGroupSet()
	e := New()
	now := time.Now()

	us := &model.UserSlice{
		UID: 1,
		Status: model.Status{
			CurrentGroup: "normal", DefaultGroup: "normal",
			Occurrences: 1, OccurExpiry: now.Add(time.Hour),
		},
	}

	trans, err := e.Tick(now, us, gs, "nodeA", time.Hour)
	require.NoError(t, err)
	require.Empty(t, trans)
	require.Equal(t, 1, us.Status.Occurrences)
}
