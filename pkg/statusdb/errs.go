package statusdb

import "errors"

// ErrRowNotFound means no status/badness row exists for the requested
// hostname/uid/sync_group triple.
var ErrRowNotFound = errors.New("statusdb: row not found")
