package enforcer

import "errors"

// ErrCgroupGone means a user's cgroup no longer exists at apply time —
// the user logged out between the status tick and the enforcement
// pass. It is a soft failure: Apply clears its idempotency cache entry
// for the uid, so the next Apply writes again if the cgroup reappears.
var ErrCgroupGone = errors.New("enforcer: cgroup vanished before quota could be applied")

// ErrPrivilegeRequired is returned when a write needs root and no
// Privileged helper was configured.
var ErrPrivilegeRequired = errors.New("enforcer: write requires privilege escalation")
