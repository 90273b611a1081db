package sync

import (
	"context"

	"github.com/chpc-uofu/arbiter2d/pkg/statusdb"
)

// FakeStore is an in-memory StatusStore for tests.
type FakeStore struct {
	Rows    map[string]statusdb.Row // keyed by hostname
	UpsertErr error
	SelectErr error
}

// NewFakeStore builds a FakeStore preloaded with peer rows.
func NewFakeStore(peers ...statusdb.Row) *FakeStore {
	f := &FakeStore{Rows: make(map[string]statusdb.Row)}
	for _, p := range peers {
		f.Rows[p.Hostname] = p
	}
	return f
}

func (f *FakeStore) Upsert(ctx context.Context, r statusdb.Row) error {
	if f.UpsertErr != nil {
		return f.UpsertErr
	}
	f.Rows[r.Hostname] = r
	return nil
}

func (f *FakeStore) SelectPeers(ctx context.Context, uid int, syncGroup, localHostname string) ([]statusdb.Row, error) {
	if f.SelectErr != nil {
		return nil, f.SelectErr
	}
	var out []statusdb.Row
	for host, r := range f.Rows {
		if host == localHostname {
			continue
		}
		if r.UID != uid || r.SyncGroup != syncGroup {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
