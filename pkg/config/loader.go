package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig mirrors Config's shape but in TOML-friendly primitive
// types (string durations, etc.) so BurntSushi/toml can unmarshal
// directly; Load converts it into the typed Config the rest of the
// daemon consumes.
type fileConfig struct {
	General struct {
		Hostname                     string   `toml:"hostname"`
		ArbiterRefresh               string   `toml:"arbiter_refresh"`
		HistoryPerRefresh            int      `toml:"history_per_refresh"`
		Poll                         int      `toml:"poll"`
		MaxHistoryKept               int      `toml:"max_history_kept"`
		MinUID                       int      `toml:"min_uid"`
		DebugMode                    bool     `toml:"debug_mode"`
		CPUBadnessThreshold          float64  `toml:"cpu_badness_threshold"`
		MemBadnessThreshold          float64  `toml:"mem_badness_threshold"`
		TimeToMaxBad                 string   `toml:"time_to_max_bad"`
		TimeToMinBad                 string   `toml:"time_to_min_bad"`
		CapBadnessIncr               bool     `toml:"cap_badness_incr"`
		OccurTimeout                 string   `toml:"occur_timeout"`
		ProcOwnerWhitelist           []int    `toml:"proc_owner_whitelist"`
		GlobalWhitelist              []string `toml:"global_whitelist"`
		WhitelistOtherProcesses      bool     `toml:"whitelist_other_processes"`
		DivCPUQuotasByThreadsPerCore bool     `toml:"div_cpu_quotas_by_threads_per_core"`
		PSSEnabled                   bool     `toml:"pss_enabled"`
		PSSThreshold                 uint64   `toml:"pss_threshold"`
		MemswEnabled                 bool     `toml:"memsw_enabled"`
		HighUsageLogInterval         string   `toml:"high_usage_log_interval"`
	} `toml:"general"`
	Status struct {
		FallbackStatus string `toml:"fallback_status"`
		Order          []struct {
			Group string `toml:"group"`
			UIDs  []int  `toml:"uids"`
			GIDs  []int  `toml:"gids"`
		} `toml:"order"`
		Groups map[string]struct {
			CPUQuota  float64  `toml:"cpu_quota"`
			MemQuota  float64  `toml:"mem_quota"`
			Whitelist []string `toml:"whitelist"`
			Timeout   string   `toml:"timeout"`
			Relative  bool     `toml:"relative"`
		} `toml:"groups"`
	} `toml:"status"`
	Penalty struct {
		Order []string `toml:"order"`
	} `toml:"penalty"`
	SyncGroup struct {
		SyncGroup              string `toml:"sync_group"`
		ImportedBadnessTimeout string `toml:"imported_badness_timeout"`
	} `toml:"sync_group"`
	Database struct {
		Driver  string `toml:"driver"`
		DSN     string `toml:"dsn"`
		Timeout string `toml:"timeout"`
	} `toml:"database"`
}

// Load cascades the given config file paths in order — later files
// override earlier ones, field by field — applies %H and ${VAR}
// substitutions to string values, validates the result, and returns
// an immutable Config. Paths must be non-empty; CLI argument parsing
// and default-path discovery are the caller's (external) concern.
func Load(paths []string) (*Config, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("config: no config paths given")
	}

	merged := Default()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", p, err)
		}

		hostname := merged.General.Hostname
		if hostname == "" {
			hostname, _ = os.Hostname()
		}
		substituted := substitute(string(data), hostname)

		var fc fileConfig
		if err := toml.Unmarshal([]byte(substituted), &fc); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", p, err)
		}
		if err := applyOverrides(merged, &fc); err != nil {
			return nil, fmt.Errorf("config: apply %s: %w", p, err)
		}
	}

	if merged.General.Hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("config: determine hostname: %w", err)
		}
		merged.General.Hostname = h
	}

	if err := Validate(merged); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return merged, nil
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substitute applies the two recognised substitutions from spec.md §6:
// %H expands to the machine hostname, and ${VAR} expands to the named
// environment variable's contents (or empty string if unset).
func substitute(s, hostname string) string {
	s = strings.ReplaceAll(s, "%H", hostname)
	return varPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := varPattern.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})
}

func applyOverrides(dst *Config, fc *fileConfig) error {
	g := &fc.General
	if g.Hostname != "" {
		dst.General.Hostname = g.Hostname
	}
	if g.ArbiterRefresh != "" {
		d, err := time.ParseDuration(g.ArbiterRefresh)
		if err != nil {
			return fmt.Errorf("general.arbiter_refresh: %w", err)
		}
		dst.General.ArbiterRefresh = d
	}
	if g.HistoryPerRefresh > 0 {
		dst.General.HistoryPerRefresh = g.HistoryPerRefresh
	}
	if g.Poll > 0 {
		dst.General.Poll = g.Poll
	}
	if g.MaxHistoryKept > 0 {
		dst.General.MaxHistoryKept = g.MaxHistoryKept
	}
	if g.MinUID > 0 {
		dst.General.MinUID = g.MinUID
	}
	dst.General.DebugMode = dst.General.DebugMode || g.DebugMode
	if g.CPUBadnessThreshold > 0 {
		dst.General.CPUBadnessThreshold = g.CPUBadnessThreshold
	}
	if g.MemBadnessThreshold > 0 {
		dst.General.MemBadnessThreshold = g.MemBadnessThreshold
	}
	if g.TimeToMaxBad != "" {
		d, err := time.ParseDuration(g.TimeToMaxBad)
		if err != nil {
			return fmt.Errorf("general.time_to_max_bad: %w", err)
		}
		dst.General.TimeToMaxBad = d
	}
	if g.TimeToMinBad != "" {
		d, err := time.ParseDuration(g.TimeToMinBad)
		if err != nil {
			return fmt.Errorf("general.time_to_min_bad: %w", err)
		}
		dst.General.TimeToMinBad = d
	}
	dst.General.CapBadnessIncr = g.CapBadnessIncr
	if g.OccurTimeout != "" {
		d, err := time.ParseDuration(g.OccurTimeout)
		if err != nil {
			return fmt.Errorf("general.occur_timeout: %w", err)
		}
		dst.General.OccurTimeout = d
	}
	if len(g.ProcOwnerWhitelist) > 0 {
		dst.General.ProcOwnerWhitelist = g.ProcOwnerWhitelist
	}
	if len(g.GlobalWhitelist) > 0 {
		dst.General.GlobalWhitelist = g.GlobalWhitelist
	}
	dst.General.WhitelistOtherProcesses = g.WhitelistOtherProcesses
	dst.General.DivCPUQuotasByThreadsPerCore = g.DivCPUQuotasByThreadsPerCore
	dst.General.PSSEnabled = g.PSSEnabled
	if g.PSSThreshold > 0 {
		dst.General.PSSThreshold = g.PSSThreshold
	}
	dst.General.MemswEnabled = g.MemswEnabled
	if g.HighUsageLogInterval != "" {
		d, err := time.ParseDuration(g.HighUsageLogInterval)
		if err != nil {
			return fmt.Errorf("general.high_usage_log_interval: %w", err)
		}
		dst.General.HighUsageLogInterval = d
	}

	if fc.Status.FallbackStatus != "" {
		dst.Status.FallbackStatus = fc.Status.FallbackStatus
	}
	for _, o := range fc.Status.Order {
		dst.Status.Order = append(dst.Status.Order, GroupMatch{Group: o.Group, UIDs: o.UIDs, GIDs: o.GIDs})
	}
	if dst.Status.Groups == nil {
		dst.Status.Groups = map[string]Group{}
	}
	for name, g := range fc.Status.Groups {
		timeout, err := parseOptionalDuration(g.Timeout)
		if err != nil {
			return fmt.Errorf("status.groups.%s.timeout: %w", name, err)
		}
		dst.Status.Groups[name] = Group{
			CPUQuota:  g.CPUQuota,
			MemQuota:  g.MemQuota,
			Whitelist: g.Whitelist,
			Timeout:   timeout,
			Relative:  g.Relative,
		}
	}

	if len(fc.Penalty.Order) > 0 {
		dst.Penalty.Order = fc.Penalty.Order
	}

	if fc.SyncGroup.SyncGroup != "" {
		dst.SyncGroup.SyncGroup = fc.SyncGroup.SyncGroup
	}
	if fc.SyncGroup.ImportedBadnessTimeout != "" {
		d, err := time.ParseDuration(fc.SyncGroup.ImportedBadnessTimeout)
		if err != nil {
			return fmt.Errorf("sync_group.imported_badness_timeout: %w", err)
		}
		dst.SyncGroup.ImportedBadnessTimeout = d
	}

	if fc.Database.Driver != "" {
		dst.Database.Driver = fc.Database.Driver
	}
	if fc.Database.DSN != "" {
		dst.Database.DSN = fc.Database.DSN
	}
	if fc.Database.Timeout != "" {
		d, err := time.ParseDuration(fc.Database.Timeout)
		if err != nil {
			return fmt.Errorf("database.timeout: %w", err)
		}
		dst.Database.Timeout = d
	}

	return nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Validate checks the cross-field invariants spec.md requires: a
// refresh period of at least 5 seconds, thresholds in (0,1], a
// penalty order (possibly empty) that references only known groups, a
// fallback status that actually resolves to a configured group, and
// relative groups whose quotas are fractions in (0,1].
func Validate(c *Config) error {
	if c.General.ArbiterRefresh < 5*time.Second {
		return fmt.Errorf("general.arbiter_refresh must be >= 5s, got %s", c.General.ArbiterRefresh)
	}
	if c.General.Poll <= 0 {
		return fmt.Errorf("general.poll must be > 0")
	}
	if c.General.HistoryPerRefresh <= 0 {
		return fmt.Errorf("general.history_per_refresh must be > 0")
	}
	if c.General.CPUBadnessThreshold <= 0 || c.General.CPUBadnessThreshold > 1 {
		return fmt.Errorf("general.cpu_badness_threshold must be in (0,1]")
	}
	if c.General.MemBadnessThreshold <= 0 || c.General.MemBadnessThreshold > 1 {
		return fmt.Errorf("general.mem_badness_threshold must be in (0,1]")
	}
	if _, ok := c.Status.Groups[c.Status.FallbackStatus]; !ok {
		return fmt.Errorf("status.fallback_status %q is not a configured group", c.Status.FallbackStatus)
	}
	for _, name := range c.Penalty.Order {
		if _, ok := c.Status.Groups[name]; !ok {
			return fmt.Errorf("penalty.order references unknown group %q", name)
		}
	}
	for name, g := range c.Status.Groups {
		if !g.Relative {
			continue
		}
		if g.CPUQuota <= 0 || g.CPUQuota > 1 {
			return fmt.Errorf("status.groups.%s.cpu_quota is relative and must be a fraction in (0,1], got %v", name, g.CPUQuota)
		}
		if g.MemQuota <= 0 || g.MemQuota > 1 {
			return fmt.Errorf("status.groups.%s.mem_quota is relative and must be a fraction in (0,1], got %v", name, g.MemQuota)
		}
	}
	return nil
}
