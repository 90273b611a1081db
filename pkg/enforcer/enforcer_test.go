//go:build linux

package enforcer

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/chpc-uofu/arbiter2d/pkg/model"
	"github.com/stretchr/testify/require"
)

func withTempCgroupRoots(t *testing.T, uid int) {
	t.Helper()
	cpuDir := t.TempDir()
	memDir := t.TempDir()
	origCPU, origMem := cpuRoot, memoryRoot
	cpuRoot, memoryRoot = cpuDir, memDir
	t.Cleanup(func() { cpuRoot, memoryRoot = origCPU, origMem })

	require.NoError(t, os.MkdirAll(userSliceDir(cpuRoot, uid), 0o755))
	require.NoError(t, os.MkdirAll(userSliceDir(memoryRoot, uid), 0o755))
}

func TestApplyWritesCPUAndMemoryControlFiles(t *testing.T) {
	withTempCgroupRoots(t, 5000)
	priv := NewRecordingPrivileged()
	e := New(priv, slog.Default(), false)

	quota := model.StatusGroup{CPUQuotaPct: 200, MemQuotaBytes: 8 << 30}
	require.NoError(t, e.Apply(5000, quota, false))

	cpuDir := userSliceDir(cpuRoot, 5000)
	memDir := userSliceDir(memoryRoot, 5000)
	require.Equal(t, "1000000", priv.Writes[filepath.Join(cpuDir, "cpu.cfs_period_us")])
	require.Equal(t, "2000000", priv.Writes[filepath.Join(cpuDir, "cpu.cfs_quota_us")])
	require.Equal(t, "8589934592", priv.Writes[filepath.Join(memDir, "memory.limit_in_bytes")])
	require.NotContains(t, priv.Writes, filepath.Join(memDir, "memory.memsw.limit_in_bytes"))
}

func TestApplyIsIdempotentForUnchangedQuota(t *testing.T) {
	withTempCgroupRoots(t, 5001)
	priv := NewRecordingPrivileged()
	e := New(priv, slog.Default(), false)
	quota := model.StatusGroup{CPUQuotaPct: 100, MemQuotaBytes: 1 << 30}

	require.NoError(t, e.Apply(5001, quota, false))
	require.Len(t, priv.Writes, 3)

	priv.Writes = make(map[string]string)
	require.NoError(t, e.Apply(5001, quota, false))
	require.Empty(t, priv.Writes, "second identical Apply should not rewrite any control file")
}

func TestApplyWritesMemswWhenEnabled(t *testing.T) {
	withTempCgroupRoots(t, 5002)
	priv := NewRecordingPrivileged()
	e := New(priv, slog.Default(), false)
	quota := model.StatusGroup{CPUQuotaPct: 100, MemQuotaBytes: 1 << 30}

	require.NoError(t, e.Apply(5002, quota, true))
	memDir := userSliceDir(memoryRoot, 5002)
	require.Contains(t, priv.Writes, filepath.Join(memDir, "memory.memsw.limit_in_bytes"))
}

func TestApplyReturnsCgroupGoneWhenDirMissing(t *testing.T) {
	priv := NewRecordingPrivileged()
	e := New(priv, slog.Default(), false)

	err := e.Apply(999999, model.StatusGroup{CPUQuotaPct: 100, MemQuotaBytes: 1 << 30}, false)
	require.ErrorIs(t, err, ErrCgroupGone)
	require.Empty(t, priv.Writes)
}

func TestApplyDebugModeNeverWrites(t *testing.T) {
	withTempCgroupRoots(t, 5003)
	priv := NewRecordingPrivileged()
	e := New(priv, slog.Default(), true)

	require.NoError(t, e.Apply(5003, model.StatusGroup{CPUQuotaPct: 100, MemQuotaBytes: 1 << 30}, false))
	require.Empty(t, priv.Writes)
}

func TestForgetClearsIdempotencyCache(t *testing.T) {
	withTempCgroupRoots(t, 5004)
	priv := NewRecordingPrivileged()
	e := New(priv, slog.Default(), false)
	quota := model.StatusGroup{CPUQuotaPct: 100, MemQuotaBytes: 1 << 30}

	require.NoError(t, e.Apply(5004, quota, false))
	e.Forget(5004)

	priv.Writes = make(map[string]string)
	require.NoError(t, e.Apply(5004, quota, false))
	require.NotEmpty(t, priv.Writes, "Forget should force a rewrite on next Apply")
}
