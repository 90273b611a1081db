// Package collector implements spec.md §4.1: periodic sampling of
// per-user cgroup counters and per-process /proc counters, tolerant of
// PID reuse and cgroup/pid evanescence. It never fails globally when an
// individual identifier's files vanish mid-read.
//
// Collector emits raw, monotonic UsageSamples only — it does not
// compute percentages. Converting two consecutive samples of the same
// identifier into a CPU percentage, and dropping identifiers whose
// second reading goes backwards (PID reuse, cgroup recreation), is the
// Aggregator's job (pkg/aggregator), since that is the first component
// that ever holds two samples of the same uid side by side.
package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/chpc-uofu/arbiter2d/pkg/model"
)

// Collector samples usage for a set of tracked uids once per sub-tick.
type Collector interface {
	// DiscoverUIDs lists uid-slices currently present under
	// user.slice, filtered to uid >= minUID.
	DiscoverUIDs() ([]int, error)
	// Sample returns one UsageSample per uid that could be read this
	// sub-tick; uids whose cgroup vanished are silently omitted.
	Sample(ctx context.Context, uids []int) ([]model.UsageSample, error)
}

// Options configures the production collector.
type Options struct {
	MinUID       int
	PSSEnabled   bool
	PSSThreshold uint64
	MemswEnabled bool
	Clock        func() time.Time
}

type cgroupCollector struct {
	opts   Options
	logger *slog.Logger
}

// New builds the production, Linux cgroup-v1-backed Collector.
func New(opts Options, logger *slog.Logger) Collector {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &cgroupCollector{opts: opts, logger: logger}
}

func (c *cgroupCollector) DiscoverUIDs() ([]int, error) {
	return discoverUIDs(c.opts.MinUID)
}

func (c *cgroupCollector) Sample(ctx context.Context, uids []int) ([]model.UsageSample, error) {
	now := c.opts.Clock()
	samples := make([]model.UsageSample, 0, len(uids))

	for _, uid := range uids {
		select {
		case <-ctx.Done():
			return samples, ctx.Err()
		default:
		}

		userNS, sysNS, err := cpuacctUsage(uid)
		if err != nil {
			c.logger.Debug("cpuacct read failed, skipping uid this tick", "uid", uid, "err", err)
			continue
		}
		memBytes, err := memoryUsage(uid, c.opts.MemswEnabled)
		if err != nil {
			c.logger.Debug("memory.stat read failed, skipping uid this tick", "uid", uid, "err", err)
			continue
		}
		pids, err := userCgroupProcs(uid)
		if err != nil {
			c.logger.Debug("cgroup.procs read failed, skipping uid this tick", "uid", uid, "err", err)
			continue
		}

		samples = append(samples, model.UsageSample{
			TS:           now,
			UID:          uid,
			CPUUserNS:    userNS,
			CPUSystemNS:  sysNS,
			MemRSSBytes:  memBytes,
			MemFileBytes: 0,
			Procs:        c.sampleProcs(pids),
		})
	}
	return samples, nil
}

func (c *cgroupCollector) sampleProcs(pids []int) []model.ProcessSample {
	tickNS := uint64(1e9 / clockTicks())
	procs := make([]model.ProcessSample, 0, len(pids))

	for _, pid := range pids {
		if !pidExists(pid) {
			continue
		}
		utime, stime, err := procStat(pid)
		if err != nil {
			continue
		}
		comm, err := procComm(pid)
		if err != nil {
			comm = ""
		}
		uidOwner, err := procStatusUID(pid)
		if err != nil {
			uidOwner = -1
		}
		memBytes, err := c.memForPID(pid)
		if err != nil {
			memBytes = 0
		}

		procs = append(procs, model.ProcessSample{
			PID:       pid,
			Comm:      comm,
			UIDOwner:  uidOwner,
			CPUTimeNS: (utime + stime) * tickNS,
			MemBytes:  memBytes,
		})
	}
	return procs
}

func (c *cgroupCollector) memForPID(pid int) (uint64, error) {
	rss, err := procRSSBytes(pid)
	if err != nil {
		return 0, err
	}
	if c.opts.PSSEnabled && rss >= c.opts.PSSThreshold {
		if pss, err := procPSSBytes(pid); err == nil {
			return pss, nil
		}
	}
	return rss, nil
}
