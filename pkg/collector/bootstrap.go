// bootstrap.go implements the --account-uid CLI surface named in
// spec.md §6: forcing systemd-logind to start cgroup accounting for a
// uid before they have an interactive session, by running a
// throwaway unit in that uid's slice.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

// EnsureAccounting starts a trivial unit under user-<uid>.slice so the
// kernel creates the cgroup hierarchy arbiter2d reads from. A failure
// is logged and returned to the caller; cmd/arbiter2d runs this in
// place of the daemon loop for --account-uid, so the process exits
// after it either way.
func EnsureAccounting(ctx context.Context, uid int, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "systemd-run",
		"--uid="+strconv.Itoa(uid),
		"--slice=user-"+strconv.Itoa(uid)+".slice",
		"--collect",
		"--quiet",
		"true",
	)
	if err := cmd.Run(); err != nil {
		logger.Warn("bootstrap accounting slice failed", "uid", uid, "err", err)
		return fmt.Errorf("collector: bootstrap uid %d: %w", uid, err)
	}
	return nil
}
