package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesSingleFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.toml", `
[general]
hostname = "node1"
arbiter_refresh = "15s"
poll = 3

[status]
fallback_status = "normal"
[status.groups.normal]
cpu_quota = 400
mem_quota = 34359738368

[penalty]
order = []
`)

	cfg, err := Load([]string{path})
	require.NoError(t, err)
	require.Equal(t, "node1", cfg.General.Hostname)
	require.Equal(t, 15*time.Second, cfg.General.ArbiterRefresh)
	require.Equal(t, 3, cfg.General.Poll)
}

func TestLoadCascadesLaterFilesOverEarlier(t *testing.T) {
	dir := t.TempDir()
	base := writeConfigFile(t, dir, "base.toml", `
[general]
hostname = "node1"
arbiter_refresh = "10s"

[status]
fallback_status = "normal"
[status.groups.normal]
cpu_quota = 400
mem_quota = 34359738368
`)
	override := writeConfigFile(t, dir, "override.toml", `
[general]
arbiter_refresh = "20s"
`)

	cfg, err := Load([]string{base, override})
	require.NoError(t, err)
	require.Equal(t, "node1", cfg.General.Hostname, "unset field in later file must not clobber earlier value")
	require.Equal(t, 20*time.Second, cfg.General.ArbiterRefresh)
}

func TestLoadRejectsUnreadableFile(t *testing.T) {
	_, err := Load([]string{filepath.Join(t.TempDir(), "missing.toml")})
	require.Error(t, err)
}

func TestLoadRejectsInvalidThreshold(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.toml", `
[general]
hostname = "node1"
cpu_badness_threshold = 1.5

[status]
fallback_status = "normal"
[status.groups.normal]
cpu_quota = 400
mem_quota = 34359738368
`)

	_, err := Load([]string{path})
	require.Error(t, err)
}

func TestLoadRejectsUnknownFallbackStatus(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.toml", `
[general]
hostname = "node1"

[status]
fallback_status = "ghost"
[status.groups.normal]
cpu_quota = 400
mem_quota = 34359738368
`)

	_, err := Load([]string{path})
	require.Error(t, err)
}

func TestLoadRejectsRelativeGroupQuotaOutsideFractionRange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.toml", `
[general]
hostname = "node1"

[status]
fallback_status = "normal"
[status.groups.normal]
cpu_quota = 400
mem_quota = 34359738368
[status.groups.penalty1]
relative = true
cpu_quota = 50
mem_quota = 0.5

[penalty]
order = ["penalty1"]
`)

	_, err := Load([]string{path})
	require.Error(t, err, "a relative cpu_quota of 50 looks like a percentage, not the fraction the spec requires")
}

func TestSubstituteExpandsHostnameAndEnvVar(t *testing.T) {
	t.Setenv("ARBITER_TEST_DSN", "sqlite:///tmp/x.db")
	out := substitute("host=%H dsn=${ARBITER_TEST_DSN}", "nodeA")
	require.Equal(t, "host=nodeA dsn=sqlite:///tmp/x.db", out)
}

func TestSubstituteLeavesUnsetVarEmpty(t *testing.T) {
	out := substitute("dsn=${ARBITER_TEST_UNSET_VAR}", "nodeA")
	require.Equal(t, "dsn=", out)
}
