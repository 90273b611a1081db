package status

import "errors"

// ErrNoDefaultGroup means no entry in the configured order matched a
// user's uid/gid and no fallback_status was configured — a
// configuration error that is fatal at startup per spec.md §7.
var ErrNoDefaultGroup = errors.New("status: no default group resolved for user")

// ErrUnknownGroup is returned when a status group name (e.g. recovered
// from a synchronized StatusDB row) does not exist in the loaded
// configuration. Per spec.md §4.7/§7 this is an invariant violation:
// log loud, fall back to computed default, continue.
var ErrUnknownGroup = errors.New("status: unknown status group name")
