package sync

import (
	"context"
	"testing"
	"time"

	"github.com/chpc-uofu/arbiter2d/pkg/model"
	"github.com/chpc-uofu/arbiter2d/pkg/statusdb"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsEmptySyncGroup(t *testing.T) {
	_, err := New(NewFakeStore(), "", "nodeA", time.Hour, nil)
	require.ErrorIs(t, err, ErrSyncGroupUnset)
}

func TestReconcileKeepsLocalWhenLocalHasMoreOccurrences(t *testing.T) {
	now := time.Now()
	store := NewFakeStore(statusdb.Row{
		Hostname: "nodeB", UID: 1, SyncGroup: "g",
		CurrentGroup: "penalty1", DefaultGroup: "normal",
		Occurrences: 1, ModifiedTS: now,
	})
	s, err := New(store, "g", "nodeA", time.Hour, nil)
	require.NoError(t, err)

	us := &model.UserSlice{
		UID: 1,
		Status: model.Status{CurrentGroup: "penalty2", DefaultGroup: "normal", Occurrences: 2},
	}

	peers, adopted, err := s.Reconcile(context.Background(), now, us)
	require.NoError(t, err)
	require.False(t, adopted)
	require.Equal(t, "penalty2", us.Status.CurrentGroup)
	require.Equal(t, []string{"nodeB"}, peers)
}

func TestReconcileAdoptsPeerWithHigherOccurrences(t *testing.T) {
	now := time.Now()
	store := NewFakeStore(statusdb.Row{
		Hostname: "nodeB", UID: 1, SyncGroup: "g",
		CurrentGroup: "penalty2", DefaultGroup: "normal",
		Occurrences: 3, ModifiedTS: now, Authority: "nodeB",
	})
	s, err := New(store, "g", "nodeA", time.Hour, nil)
	require.NoError(t, err)

	us := &model.UserSlice{
		UID: 1,
		Status: model.Status{CurrentGroup: "normal", DefaultGroup: "normal", Occurrences: 1},
	}

	_, adopted, err := s.Reconcile(context.Background(), now, us)
	require.NoError(t, err)
	require.True(t, adopted)
	require.Equal(t, "penalty2", us.Status.CurrentGroup)
	require.Equal(t, 3, us.Status.Occurrences)
	require.Equal(t, "nodeB", us.Status.Authority)
}

func TestReconcileIgnoresStaleRowEvenWithHigherOccurrences(t *testing.T) {
	now := time.Now()
	store := NewFakeStore(statusdb.Row{
		Hostname: "nodeB", UID: 1, SyncGroup: "g",
		CurrentGroup: "normal", DefaultGroup: "normal",
		Occurrences: 5, ModifiedTS: now.Add(-time.Hour),
	})
	s, err := New(store, "g", "nodeA", 5*time.Minute, nil)
	require.NoError(t, err)

	us := &model.UserSlice{
		UID: 1,
		Status: model.Status{CurrentGroup: "normal", DefaultGroup: "normal", Occurrences: 1},
	}

	_, adopted, err := s.Reconcile(context.Background(), now, us)
	require.NoError(t, err)
	require.False(t, adopted)
	require.Equal(t, 1, us.Status.Occurrences)
}

func TestReconcileValidUnexpiredPenaltyBeatsStaleModifiedTS(t *testing.T) {
	now := time.Now()
	store := NewFakeStore(statusdb.Row{
		Hostname: "nodeB", UID: 1, SyncGroup: "g",
		CurrentGroup: "penalty1", DefaultGroup: "normal",
		Occurrences: 1, PenaltyExpiry: now.Add(time.Hour),
		ModifiedTS: now.Add(-time.Hour), Authority: "nodeB",
	})
	s, err := New(store, "g", "nodeA", 5*time.Minute, nil)
	require.NoError(t, err)

	us := &model.UserSlice{
		UID: 1,
		Status: model.Status{CurrentGroup: "normal", DefaultGroup: "normal", Occurrences: 1},
	}

	_, adopted, err := s.Reconcile(context.Background(), now, us)
	require.NoError(t, err)
	require.True(t, adopted)
	require.Equal(t, "penalty1", us.Status.CurrentGroup)
}

func TestPickWinnerTieBreaksLexicographicallyOnHostname(t *testing.T) {
	now := time.Now()
	a := statusdb.Row{Hostname: "nodeA", ModifiedTS: now, CurrentGroup: "normal", DefaultGroup: "normal"}
	b := statusdb.Row{Hostname: "nodeZ", ModifiedTS: now, CurrentGroup: "normal", DefaultGroup: "normal"}

	winner := pickWinner([]statusdb.Row{a, b}, now, time.Hour)
	require.Equal(t, "nodeZ", winner.Hostname)
}

func TestReconcilePropagatesUpsertError(t *testing.T) {
	store := NewFakeStore()
	store.UpsertErr = context.DeadlineExceeded
	s, err := New(store, "g", "nodeA", time.Hour, nil)
	require.NoError(t, err)

	_, _, err = s.Reconcile(context.Background(), time.Now(), &model.UserSlice{UID: 1})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
