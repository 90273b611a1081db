// Package config builds the immutable Config value threaded through
// every arbiter2d component constructor. There is no package-level
// mutable configuration singleton; Load returns a value, and callers
// pass it (or the pieces it owns) explicitly.
package config

import "time"

// Config is the fully resolved, validated daemon configuration.
type Config struct {
	General   General
	Status    StatusConfig
	Penalty   PenaltyConfig
	SyncGroup SyncConfig
	Database  DatabaseConfig
}

// General holds the core tick/collector knobs from spec.md §2 and §4.1.
type General struct {
	Hostname          string
	ArbiterRefresh    time.Duration // >= 5s
	HistoryPerRefresh int
	Poll              int
	MaxHistoryKept    int
	MinUID            int
	DebugMode         bool

	CPUBadnessThreshold float64 // T_cpu in (0,1]
	MemBadnessThreshold float64
	TimeToMaxBad        time.Duration
	TimeToMinBad        time.Duration
	CapBadnessIncr      bool

	OccurTimeout time.Duration

	ProcOwnerWhitelist       []int
	GlobalWhitelist          []string
	WhitelistOtherProcesses  bool
	DivCPUQuotasByThreadsPerCore bool

	PSSEnabled     bool
	PSSThreshold   uint64
	MemswEnabled   bool

	HighUsageLogInterval time.Duration
}

// StatusConfig is the ordered set of default status groups, matched by
// uid/gid, with a fallback.
type StatusConfig struct {
	Order          []GroupMatch
	FallbackStatus string
	Groups         map[string]Group
}

// GroupMatch binds a status group name to the uids/gids that default
// into it. GIDs match only when the caller passes the user's gids to
// status.GroupSet.DefaultGroupFor; cmd/arbiter2d passes none, so its
// users default by uid alone.
type GroupMatch struct {
	Group string
	UIDs  []int
	GIDs  []int
}

// PenaltyConfig is the ordered list of escalating penalty tiers.
type PenaltyConfig struct {
	Order []string // names into StatusConfig.Groups
}

// Group mirrors model.StatusGroup at the configuration layer (before
// relative quotas are resolved against a user's default group).
//
// When Relative is true, CPUQuota and MemQuota are both fractions of
// the user's default group's quotas rather than absolute percent-of-core
// / byte values — e.g. CPUQuota: 0.5 means "half of whatever the user's
// default cpu quota is". In absolute (non-relative) groups, CPUQuota
// stays a percent-of-core value (400 == 4 cores) and MemQuota a byte
// count; only relative groups read these fields as fractions.
type Group struct {
	CPUQuota  float64
	MemQuota  float64
	Whitelist []string
	Timeout   time.Duration
	Relative  bool
}

// SyncConfig configures the cross-node Synchronizer. SyncGroup == ""
// disables synchronization entirely.
type SyncConfig struct {
	SyncGroup             string
	ImportedBadnessTimeout time.Duration
}

// DatabaseConfig configures the shared SQL status store.
type DatabaseConfig struct {
	Driver string // "sqlite" by default; any database/sql driver name works
	DSN    string
	Timeout time.Duration
}

// Default returns a Config with the same conservative defaults the
// upstream daemon ships, before any file or environment override is
// applied.
func Default() *Config {
	return &Config{
		General: General{
			ArbiterRefresh:      10 * time.Second,
			HistoryPerRefresh:   2,
			Poll:                2,
			MaxHistoryKept:      30,
			MinUID:              1000,
			CPUBadnessThreshold: 0.9,
			MemBadnessThreshold: 0.9,
			TimeToMaxBad:        30 * time.Minute,
			TimeToMinBad:        30 * time.Minute,
			CapBadnessIncr:      true,
			OccurTimeout:        12 * time.Hour,
			ProcOwnerWhitelist:  []int{0},
			WhitelistOtherProcesses: false,
			PSSThreshold:        0,
		},
		Status: StatusConfig{
			FallbackStatus: "normal",
			Groups: map[string]Group{
				"normal": {CPUQuota: 400, MemQuota: 32 << 30},
			},
		},
		SyncGroup: SyncConfig{ImportedBadnessTimeout: 5 * time.Minute},
		Database:  DatabaseConfig{Driver: "sqlite", Timeout: 5 * time.Second},
	}
}
