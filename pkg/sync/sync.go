// Package sync implements spec.md §4.6: reconciling one node's view of
// a user's status against every peer sharing the same sync group
// through a shared SQL status table, via the deterministic total
// order spec.md §4.6 step 3 defines.
package sync

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/chpc-uofu/arbiter2d/pkg/model"
	"github.com/chpc-uofu/arbiter2d/pkg/statusdb"
)

// StatusStore is the persistence capability the Synchronizer needs,
// satisfied by *statusdb.Store in production and a recording fake in
// tests.
type StatusStore interface {
	Upsert(ctx context.Context, r statusdb.Row) error
	SelectPeers(ctx context.Context, uid int, syncGroup, localHostname string) ([]statusdb.Row, error)
}

// Synchronizer reconciles local UserSlice state against peer nodes
// sharing a sync group.
type Synchronizer struct {
	store                  StatusStore
	syncGroup              string
	localHostname          string
	importedBadnessTimeout time.Duration
	logger                 *slog.Logger
}

// New builds a Synchronizer. Returns ErrSyncGroupUnset if syncGroup is
// empty — callers should treat that as "synchronization disabled" and
// not call Reconcile at all, per spec.md §4.6's "optional" framing.
func New(store StatusStore, syncGroup, localHostname string, importedBadnessTimeout time.Duration, logger *slog.Logger) (*Synchronizer, error) {
	if syncGroup == "" {
		return nil, ErrSyncGroupUnset
	}
	return &Synchronizer{
		store:                  store,
		syncGroup:              syncGroup,
		localHostname:          localHostname,
		importedBadnessTimeout: importedBadnessTimeout,
		logger:                 logger,
	}, nil
}

// Reconcile upserts us's local row, selects peer rows for the same
// uid, and adopts the winning row if it isn't the local one. It
// returns the sorted set of peer hostnames observed this tick (for the
// Notifier's "this penalty applies on: ..." line) and whether an
// adoption happened.
func (s *Synchronizer) Reconcile(ctx context.Context, now time.Time, us *model.UserSlice) (peerHosts []string, adopted bool, err error) {
	local := rowFromSlice(s.localHostname, s.syncGroup, *us, now)
	if err := s.store.Upsert(ctx, local); err != nil {
		return nil, false, err
	}

	peers, err := s.store.SelectPeers(ctx, us.UID, s.syncGroup, s.localHostname)
	if err != nil {
		return nil, false, err
	}

	candidates := append([]statusdb.Row{local}, peers...)
	winner := pickWinner(candidates, now, s.importedBadnessTimeout)

	hosts := make([]string, 0, len(peers))
	for _, p := range peers {
		hosts = append(hosts, p.Hostname)
	}
	sort.Strings(hosts)

	if winner.Hostname == s.localHostname {
		return hosts, false, nil
	}

	ApplyRow(us, winner, s.logf)
	return hosts, true, nil
}

func (s *Synchronizer) logf(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func rowFromSlice(hostname, syncGroup string, us model.UserSlice, now time.Time) statusdb.Row {
	return statusdb.Row{
		Hostname:      hostname,
		UID:           us.UID,
		SyncGroup:     syncGroup,
		CurrentGroup:  us.Status.CurrentGroup,
		DefaultGroup:  us.Status.DefaultGroup,
		Occurrences:   us.Status.Occurrences,
		PenaltyExpiry: us.Status.PenaltyExpiry,
		OccurExpiry:   us.Status.OccurExpiry,
		Authority:     us.Status.Authority,
		CPUScore:      us.Badness.CPUScore,
		MemScore:      us.Badness.MemScore,
		BadnessExpiry: us.Badness.ExpiryTS,
		ModifiedTS:    now,
	}
}

// ApplyRow copies a status store row's fields onto us, clamping its
// badness scores through model.ClampScore since a row adopted from a
// peer — or, via cmd/arbiter2d's startup bootstrap, from this host's
// own prior run — is external input and may be out of range.
func ApplyRow(us *model.UserSlice, r statusdb.Row, warn func(string, ...any)) {
	us.Status.CurrentGroup = r.CurrentGroup
	us.Status.DefaultGroup = r.DefaultGroup
	us.Status.Occurrences = r.Occurrences
	us.Status.PenaltyExpiry = r.PenaltyExpiry
	us.Status.OccurExpiry = r.OccurExpiry
	us.Status.Authority = r.Authority
	us.Badness.CPUScore = model.ClampScore(warn, "cpu", r.CPUScore)
	us.Badness.MemScore = model.ClampScore(warn, "mem", r.MemScore)
	us.Badness.ExpiryTS = r.BadnessExpiry
}

// pickWinner applies spec.md §4.6 step 3's total order: valid beats
// stale, then higher occurrences, then penalty beats default, then
// later modified_ts, then lexicographically greater hostname.
func pickWinner(rows []statusdb.Row, now time.Time, importedBadnessTimeout time.Duration) statusdb.Row {
	best := rows[0]
	for _, r := range rows[1:] {
		if less(best, r, now, importedBadnessTimeout) {
			best = r
		}
	}
	return best
}

// less reports whether a loses to b under the total order (b should
// replace a as the current best).
func less(a, b statusdb.Row, now time.Time, importedBadnessTimeout time.Duration) bool {
	aValid := rowValid(a, now, importedBadnessTimeout)
	bValid := rowValid(b, now, importedBadnessTimeout)
	if aValid != bValid {
		return bValid
	}
	if a.Occurrences != b.Occurrences {
		return b.Occurrences > a.Occurrences
	}
	aPenalty := a.CurrentGroup != a.DefaultGroup
	bPenalty := b.CurrentGroup != b.DefaultGroup
	if aPenalty != bPenalty {
		return bPenalty
	}
	if !a.ModifiedTS.Equal(b.ModifiedTS) {
		return b.ModifiedTS.After(a.ModifiedTS)
	}
	return b.Hostname > a.Hostname
}

// rowValid mirrors statusdb.Row.Valid but also treats an unexpired
// penalty as valid regardless of recency, per spec.md §4.6 step 3(a).
func rowValid(r statusdb.Row, now time.Time, importedBadnessTimeout time.Duration) bool {
	if !r.PenaltyExpiry.IsZero() && r.PenaltyExpiry.After(now) {
		return true
	}
	return r.Valid(now, importedBadnessTimeout)
}
