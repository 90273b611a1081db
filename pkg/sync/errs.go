package sync

import "errors"

// ErrSyncGroupUnset is returned by New when called with an empty sync
// group — the Synchronizer is meant to be entirely skipped in that
// case, not constructed and then no-op'd.
var ErrSyncGroupUnset = errors.New("sync: sync group not configured")
