// Package enforcer writes resolved quotas into the cgroup v1 cpu and
// memory controllers, per spec.md §4.5. It never decides what a
// quota should be — that is pkg/status's job — it only applies the
// StatusGroup it is handed, idempotently, and reports failures rather
// than panicking on a vanished cgroup.
package enforcer

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"

	"github.com/chpc-uofu/arbiter2d/pkg/model"
)

const userSliceFmt = "user-%d.slice"

// cfsPeriodUS is fixed at one second per spec.md §4.5; cpu.cfs_quota_us
// is then CPUQuotaPct * (cfsPeriodUS / 100), i.e. CPUQuotaPct * 10000.
const cfsPeriodUS = 1000000

// cpuRoot and memoryRoot are package variables rather than constants
// so tests can point them at a temporary directory tree instead of
// the real cgroup hierarchy.
var (
	cpuRoot    = "/sys/fs/cgroup/cpu/user.slice"
	memoryRoot = "/sys/fs/cgroup/memory/user.slice"
)

// Privileged abstracts the single write every enforcement step needs:
// putting a value into a cgroup control file. The default
// implementation (Direct) assumes the daemon runs as root; cmd/arbiter2d
// wires a sudo-backed implementation when --sudo is set and the daemon
// itself is unprivileged.
type Privileged interface {
	WriteFile(path, value string) error
}

// Direct writes cgroup control files with a plain os.WriteFile, for a
// daemon already running as root.
type Direct struct{}

func (Direct) WriteFile(path, value string) error {
	return writeCgroupFile(path, value)
}

// Enforcer applies resolved quotas to cgroup v1 controllers.
type Enforcer struct {
	priv        Privileged
	logger      *slog.Logger
	debugMode   bool
	lastApplied map[int]model.StatusGroup
}

// New builds an Enforcer. In debugMode, Apply computes the same
// decisions but never writes to the filesystem, per spec.md §4.5's
// debug-mode requirement.
func New(priv Privileged, logger *slog.Logger, debugMode bool) *Enforcer {
	return &Enforcer{
		priv:        priv,
		logger:      logger,
		debugMode:   debugMode,
		lastApplied: make(map[int]model.StatusGroup),
	}
}

// Apply writes quota to the uid's cpu and memory cgroup controllers.
// It is a no-op if the same StatusGroup was already applied last call
// (idempotent), and returns ErrCgroupGone if the cgroup no longer
// exists rather than treating that as a hard failure.
func (e *Enforcer) Apply(uid int, quota model.StatusGroup, memswEnabled bool) error {
	if last, ok := e.lastApplied[uid]; ok && quotaUnchanged(last, quota) {
		return nil
	}

	if !cgroupDirExists(userSliceDir(cpuRoot, uid)) || !cgroupDirExists(userSliceDir(memoryRoot, uid)) {
		delete(e.lastApplied, uid)
		return fmt.Errorf("%w: uid %d", ErrCgroupGone, uid)
	}

	if e.debugMode {
		e.logger.Info("debug mode: would apply quota", "uid", uid, "cpu_pct", quota.CPUQuotaPct, "mem_bytes", quota.MemQuotaBytes)
		e.lastApplied[uid] = quota
		return nil
	}

	quotaUS := int64(float64(cfsPeriodUS) * quota.CPUQuotaPct / 100.0)
	cpuDir := userSliceDir(cpuRoot, uid)
	if err := e.priv.WriteFile(filepath.Join(cpuDir, "cpu.cfs_period_us"), strconv.Itoa(cfsPeriodUS)); err != nil {
		return fmt.Errorf("enforcer: set cfs_period_us for uid %d: %w", uid, err)
	}
	if err := e.priv.WriteFile(filepath.Join(cpuDir, "cpu.cfs_quota_us"), strconv.FormatInt(quotaUS, 10)); err != nil {
		return fmt.Errorf("enforcer: set cfs_quota_us for uid %d: %w", uid, err)
	}

	memDir := userSliceDir(memoryRoot, uid)
	limit := strconv.FormatUint(uint64(math.Round(quota.MemQuotaBytes)), 10)
	if err := e.priv.WriteFile(filepath.Join(memDir, "memory.limit_in_bytes"), limit); err != nil {
		return fmt.Errorf("enforcer: set memory.limit_in_bytes for uid %d: %w", uid, err)
	}
	if memswEnabled {
		if err := e.priv.WriteFile(filepath.Join(memDir, "memory.memsw.limit_in_bytes"), limit); err != nil {
			e.logger.Warn("memsw limit write failed, continuing without it", "uid", uid, "err", err)
		}
	}

	e.lastApplied[uid] = quota
	return nil
}

// Forget drops any idempotency cache entry for a user whose UserSlice
// was evicted, so a fresh login starts from a clean apply.
func (e *Enforcer) Forget(uid int) {
	delete(e.lastApplied, uid)
}

// quotaUnchanged reports whether two resolved quotas would produce the
// same cgroup writes. StatusGroup carries a Whitelist slice, so it
// can't be compared with ==; only CPUQuotaPct and MemQuotaBytes ever
// reach a control file.
func quotaUnchanged(a, b model.StatusGroup) bool {
	return a.CPUQuotaPct == b.CPUQuotaPct && a.MemQuotaBytes == b.MemQuotaBytes
}

func userSliceDir(root string, uid int) string {
	return filepath.Join(root, fmt.Sprintf(userSliceFmt, uid))
}
