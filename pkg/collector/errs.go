package collector

import "errors"

// ErrMalformedStat mirrors the teacher's ErrNoStat: a /proc/<pid>/stat
// line didn't have the expected ") " separator or enough fields.
var ErrMalformedStat = errors.New("collector: malformed proc stat")
