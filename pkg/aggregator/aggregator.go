// Package aggregator implements spec.md §4.2: turning consecutive raw
// UsageSamples into CPU percentages (dropping any identifier whose
// second reading goes backwards — PID reuse or cgroup recreation),
// averaging `poll` sub-samples into one Event, and performing the
// whitelist-vs-accounted usage decomposition.
package aggregator

import (
	"github.com/chpc-uofu/arbiter2d/pkg/model"
)

// Whitelist is the glob/uid whitelist configuration an Aggregator
// consults every tick. GlobalPatterns and StatusGroupPatterns are
// unioned per spec.md §4.2; OwnerUIDs is a set of uids (default
// {0}) whose processes are always whitelisted regardless of name.
type Whitelist struct {
	OwnerUIDs             map[int]bool
	GlobalPatterns        []string
	StatusGroupPatterns   []string
	WhitelistOtherProcess bool
}

func (w Whitelist) isProcessWhitelisted(uidOwner int, name string) bool {
	if w.OwnerUIDs[uidOwner] {
		return true
	}
	if matchAny(w.GlobalPatterns, name) || matchAny(w.StatusGroupPatterns, name) {
		return true
	}
	return false
}

// perUIDState is the Aggregator's private, per-user bookkeeping: the
// last raw sample (for computing a CPU-percent delta) and the partial
// average accumulated so far this aggregation window.
type perUIDState struct {
	prevSample  model.UsageSample
	havePrev    bool
	prevProcCPU map[int]uint64

	pendingCPUPct   []float64
	pendingMemBytes []uint64
	pendingProcs    map[int]*pendingProc
	windowStart     model.UsageSample
	haveWindowStart bool
}

type pendingProc struct {
	name        string
	uidOwner    int
	cpuPctSum   float64
	cpuPctCount int
	memBytesSum uint64
	memCount    int
}

// Aggregator absorbs raw samples and yields averaged Events.
type Aggregator struct {
	poll           int
	maxHistoryKept int
	whitelist      Whitelist
	perUID         map[int]*perUIDState
}

// New builds an Aggregator that averages `poll` consecutive samples
// per user into one Event. maxHistoryKept is stored but not used by
// the Aggregator; the per-user event ring is kept and bounded by
// model.UserSlice.PushEvent.
func New(poll, maxHistoryKept int, whitelist Whitelist) *Aggregator {
	return &Aggregator{
		poll:           poll,
		maxHistoryKept: maxHistoryKept,
		whitelist:      whitelist,
		perUID:         map[int]*perUIDState{},
	}
}

// Absorb feeds one raw UsageSample for a uid into its aggregation
// window. It returns a completed Event and true once `poll` samples
// have been absorbed since the last Event; otherwise it returns the
// zero Event and false.
func (a *Aggregator) Absorb(sample model.UsageSample) (model.Event, bool) {
	st := a.perUID[sample.UID]
	if st == nil {
		st = &perUIDState{prevProcCPU: map[int]uint64{}}
		a.perUID[sample.UID] = st
	}

	if !st.havePrev {
		// First-ever sample for this uid: no delta possible yet.
		st.prevSample = sample
		st.havePrev = true
		return model.Event{}, false
	}

	dtNS := sample.TS.Sub(st.prevSample.TS).Nanoseconds()
	if dtNS <= 0 {
		st.prevSample = sample
		return model.Event{}, false
	}

	prevCPU := st.prevSample.CPUUserNS + st.prevSample.CPUSystemNS
	curCPU := sample.CPUUserNS + sample.CPUSystemNS
	if curCPU < prevCPU {
		// Cgroup torn down and recreated between samples: drop this
		// instant, per spec.md §4.1 step 5, but keep the new counters
		// as the new baseline.
		st.prevSample = sample
		return model.Event{}, false
	}

	cpuPct := 100 * float64(curCPU-prevCPU) / float64(dtNS)

	if !st.haveWindowStart {
		st.windowStart = st.prevSample
		st.haveWindowStart = true
		st.pendingProcs = map[int]*pendingProc{}
	}

	st.pendingCPUPct = append(st.pendingCPUPct, cpuPct)
	st.pendingMemBytes = append(st.pendingMemBytes, sample.MemRSSBytes+sample.MemFileBytes)

	a.absorbProcs(st, sample, dtNS)

	st.prevSample = sample

	if len(st.pendingCPUPct) < a.poll {
		return model.Event{}, false
	}

	event := a.finishEvent(st, sample)
	st.pendingCPUPct = nil
	st.pendingMemBytes = nil
	st.haveWindowStart = false
	return event, true
}

func (a *Aggregator) absorbProcs(st *perUIDState, sample model.UsageSample, dtNS int64) {
	seen := map[int]bool{}
	for _, p := range sample.Procs {
		seen[p.PID] = true
		prev, ok := st.prevProcCPU[p.PID]
		st.prevProcCPU[p.PID] = p.CPUTimeNS
		if !ok || p.CPUTimeNS < prev {
			// New pid this window, or a reused pid whose counter went
			// backwards: skip its CPU contribution this instant but
			// still start tracking memory.
			pp := st.pendingProcs[p.PID]
			if pp == nil {
				pp = &pendingProc{name: p.Comm, uidOwner: p.UIDOwner}
				st.pendingProcs[p.PID] = pp
			}
			pp.memBytesSum += p.MemBytes
			pp.memCount++
			continue
		}

		pct := 100 * float64(p.CPUTimeNS-prev) / float64(dtNS)
		pp := st.pendingProcs[p.PID]
		if pp == nil {
			pp = &pendingProc{name: p.Comm, uidOwner: p.UIDOwner}
			st.pendingProcs[p.PID] = pp
		}
		pp.cpuPctSum += pct
		pp.cpuPctCount++
		pp.memBytesSum += p.MemBytes
		pp.memCount++
	}
	// Pids that vanished entirely are dropped from prevProcCPU so a
	// later reused pid starts a fresh baseline rather than comparing
	// against a stale counter.
	for pid := range st.prevProcCPU {
		if !seen[pid] {
			delete(st.prevProcCPU, pid)
		}
	}
}

func (a *Aggregator) finishEvent(st *perUIDState, last model.UsageSample) model.Event {
	event := model.Event{
		TSStart:  st.windowStart.TS,
		TSEnd:    last.TS,
		CPUPct:   average(st.pendingCPUPct),
		MemBytes: averageU64(st.pendingMemBytes),
	}

	for pid, pp := range st.pendingProcs {
		var cpuPct float64
		if pp.cpuPctCount > 0 {
			cpuPct = pp.cpuPctSum / float64(pp.cpuPctCount)
		}
		var memBytes uint64
		if pp.memCount > 0 {
			memBytes = pp.memBytesSum / uint64(pp.memCount)
		}
		event.Processes = append(event.Processes, model.ProcessUsage{
			PID:         pid,
			Name:        pp.name,
			UIDOwner:    pp.uidOwner,
			CPUPct:      cpuPct,
			MemBytes:    memBytes,
			Whitelisted: a.whitelist.isProcessWhitelisted(pp.uidOwner, pp.name),
		})
	}

	return event
}

// AccountedUsage computes the CPU%/memory actually fed to the Scorer:
// the sum of non-whitelisted processes, plus the "other processes"
// remainder when whitelistOtherProcesses is false (it is folded into
// the whitelisted bucket, and so excluded, when true).
func AccountedUsage(e model.Event, whitelistOtherProcesses bool) (cpuPct float64, memBytes uint64) {
	for _, p := range e.Processes {
		if !p.Whitelisted {
			cpuPct += p.CPUPct
			memBytes += p.MemBytes
		}
	}
	if !whitelistOtherProcesses {
		cpuPct += e.OtherProcessesCPUPct()
		memBytes += e.OtherProcessesMemBytes()
	}
	return cpuPct, memBytes
}

// Forget drops all aggregation state for a uid, called once a
// UserSlice is torn down (cgroup gone, badness and occurrences zero).
func (a *Aggregator) Forget(uid int) {
	delete(a.perUID, uid)
}

func average(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func averageU64(vs []uint64) uint64 {
	if len(vs) == 0 {
		return 0
	}
	var sum uint64
	for _, v := range vs {
		sum += v
	}
	return sum / uint64(len(vs))
}
