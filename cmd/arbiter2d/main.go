// Command arbiter2d is the node-local daemon: it watches logged-in
// users' cgroups, scores badness, and enforces time-decayed quotas,
// per spec.md. The control loop shape (cobra root command, flags into
// a runOptions struct, signal.NotifyContext + time.Ticker tick loop)
// follows cmd/consumption/main.go.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chpc-uofu/arbiter2d/pkg/aggregator"
	"github.com/chpc-uofu/arbiter2d/pkg/collector"
	"github.com/chpc-uofu/arbiter2d/pkg/config"
	"github.com/chpc-uofu/arbiter2d/pkg/enforcer"
	"github.com/chpc-uofu/arbiter2d/pkg/histlog"
	"github.com/chpc-uofu/arbiter2d/pkg/model"
	"github.com/chpc-uofu/arbiter2d/pkg/notify"
	"github.com/chpc-uofu/arbiter2d/pkg/score"
	"github.com/chpc-uofu/arbiter2d/pkg/status"
	"github.com/chpc-uofu/arbiter2d/pkg/statusdb"
	arbsync "github.com/chpc-uofu/arbiter2d/pkg/sync"
	"github.com/chpc-uofu/arbiter2d/pkg/system/cgroup"
)

// version is overridden at build time via -ldflags.
var version = "dev"

type runOptions struct {
	configPaths []string
	etcDir      string
	sudo        bool
	accountUID  int
	exitFile    string
	printOnly   bool
	verbose     bool
	quiet       bool
}

func main() {
	var o runOptions

	root := &cobra.Command{
		Use:   "arbiter2d",
		Short: "Node-local usage-based quota enforcement daemon",
		Long: `arbiter2d watches interactive login nodes, attributes CPU and
memory usage to logged-in users via cgroups, scores badness, and
enforces time-decayed quotas on repeat offenders.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}

	root.Flags().StringArrayVar(&o.configPaths, "config", nil, "config file path, repeatable; later files override earlier ones")
	root.Flags().StringVar(&o.etcDir, "etc", "/etc/arbiter2", "directory to search for a default config.toml if --config is unset")
	root.Flags().BoolVar(&o.sudo, "sudo", false, "use a sudo-backed helper for privileged cgroup writes instead of writing directly")
	root.Flags().IntVar(&o.accountUID, "account-uid", 0, "bootstrap cgroup accounting for this uid and exit")
	root.Flags().StringVar(&o.exitFile, "exit-file", "", "watch this file's mtime each tick; exit(78) on change for coordinated restarts")
	root.Flags().BoolVar(&o.printOnly, "print", false, "print the resolved configuration and exit")
	root.Flags().BoolVar(&o.verbose, "verbose", false, "enable debug-level logging")
	root.Flags().BoolVar(&o.quiet, "quiet", false, "only log warnings and errors")
	root.Version = version

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, o runOptions) error {
	logger := newLogger(o)

	if o.accountUID > 0 {
		return collector.EnsureAccounting(ctx, o.accountUID, logger)
	}

	paths := o.configPaths
	if len(paths) == 0 {
		paths = []string{o.etcDir + "/config.toml"}
	}
	cfg, err := config.Load(paths)
	if err != nil {
		return fmt.Errorf("arbiter2d: %w", err)
	}

	if o.printOnly {
		fmt.Printf("%+v\n", cfg)
		return nil
	}

	if err := cgroup.EnsureV1(); err != nil {
		return fmt.Errorf("arbiter2d: %w", err)
	}

	d, err := newDaemon(cfg, o, logger)
	if err != nil {
		return fmt.Errorf("arbiter2d: %w", err)
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}

func newLogger(o runOptions) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case o.verbose:
		level = slog.LevelDebug
	case o.quiet:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// daemon owns the full component graph and runs the tick loop.
type daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	col        collector.Collector
	agg        *aggregator.Aggregator
	scorer     *score.Scorer
	engine     *status.Engine
	groups     status.GroupSet
	enf        *enforcer.Enforcer
	db         *statusdb.Store
	sync       *arbsync.Synchronizer
	notifier   *notify.Notifier
	hist       histlog.Recorder
	histThrot  *histlog.Throttle
	exitFile   string
	exitFileMT time.Time

	threadsPerCore int
	users          map[int]*model.UserSlice
}

func newDaemon(cfg *config.Config, o runOptions, logger *slog.Logger) (*daemon, error) {
	var priv enforcer.Privileged = enforcer.Direct{}
	if o.sudo {
		priv = sudoPrivileged{}
	}

	d := &daemon{
		cfg:            cfg,
		logger:         logger,
		col:            collector.New(collector.Options{MinUID: cfg.General.MinUID, PSSEnabled: cfg.General.PSSEnabled, PSSThreshold: cfg.General.PSSThreshold, MemswEnabled: cfg.General.MemswEnabled}, logger),
		agg:            aggregator.New(cfg.General.Poll, cfg.General.MaxHistoryKept, buildWhitelist(cfg)),
		scorer:         score.New(logger),
		engine:         status.New(),
		groups:         status.NewGroupSet(cfg),
		enf:            enforcer.New(priv, logger, cfg.General.DebugMode),
		notifier:       notify.New(noopIntegrations{}, noopSender{logger}, logger),
		hist:           &histlog.RecordingRecorder{},
		histThrot:      histlog.NewThrottle(cfg.General.HighUsageLogInterval),
		exitFile:       o.exitFile,
		threadsPerCore: runtime.NumCPU(),
		users:          make(map[int]*model.UserSlice),
	}

	if cfg.Database.DSN != "" {
		db, err := statusdb.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.Timeout)
		if err != nil {
			return nil, err
		}
		d.db = db
	}

	if cfg.SyncGroup.SyncGroup != "" && d.db != nil {
		s, err := arbsync.New(d.db, cfg.SyncGroup.SyncGroup, cfg.General.Hostname, cfg.SyncGroup.ImportedBadnessTimeout, logger)
		if err != nil {
			return nil, err
		}
		d.sync = s
	}

	return d, nil
}

func buildWhitelist(cfg *config.Config) aggregator.Whitelist {
	owners := make(map[int]bool, len(cfg.General.ProcOwnerWhitelist))
	for _, uid := range cfg.General.ProcOwnerWhitelist {
		owners[uid] = true
	}
	return aggregator.Whitelist{
		OwnerUIDs:             owners,
		GlobalPatterns:        cfg.General.GlobalWhitelist,
		WhitelistOtherProcess: cfg.General.WhitelistOtherProcesses,
	}
}

func (d *daemon) Close() {
	if d.db != nil {
		d.db.Close()
	}
}

// Run executes phases 1-7 every arbiter_refresh tick until ctx is
// canceled, flushing statusdb once more on exit. Late-tick detection
// (spec.md §5) fires the next tick immediately by resetting the ticker
// to a near-zero period when a tick overran its period; each tick
// restores the arbiter_refresh period before it runs.
func (d *daemon) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.General.ArbiterRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down, flushing status store")
			d.flush(context.Background())
			return nil
		case <-ticker.C:
			ticker.Reset(d.cfg.General.ArbiterRefresh)
			start := time.Now()
			d.tick(ctx, start)
			if time.Since(start) > d.cfg.General.ArbiterRefresh {
				d.logger.Warn("tick overran refresh period, firing next tick immediately", "elapsed", time.Since(start))
				ticker.Reset(time.Nanosecond)
			}
			if d.exitFileChanged() {
				d.logger.Info("exit file changed, exiting for coordinated restart")
				os.Exit(78)
			}
		}
	}
}

func (d *daemon) tick(ctx context.Context, now time.Time) {
	uids, err := d.col.DiscoverUIDs()
	if err != nil {
		d.logger.Warn("discover uids failed", "err", err)
		return
	}
	d.reconcileTrackedUsers(ctx, now, uids)

	subInterval := d.cfg.General.ArbiterRefresh / time.Duration(d.cfg.General.Poll)
	for i := 0; i < d.cfg.General.Poll; i++ {
		samples, err := d.col.Sample(ctx, uids)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("sample failed", "err", err)
		}
		for _, sample := range samples {
			d.absorbSample(now, sample)
		}
		if i < d.cfg.General.Poll-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(subInterval):
			}
		}
	}

	for uid, us := range d.users {
		d.tickUser(ctx, now, uid, us)
	}
}

func (d *daemon) reconcileTrackedUsers(ctx context.Context, now time.Time, uids []int) {
	present := make(map[int]bool, len(uids))
	for _, uid := range uids {
		present[uid] = true
		if _, ok := d.users[uid]; !ok {
			d.users[uid] = d.bootstrapUserSlice(ctx, now, uid)
		}
	}
	for uid, us := range d.users {
		if !present[uid] && us.Idle() {
			delete(d.users, uid)
			d.agg.Forget(uid)
			d.enf.Forget(uid)
			d.histThrot.Forget(uid)
		}
	}
}

// bootstrapUserSlice rehydrates a newly-discovered uid's penalty tier,
// occurrences, and badness from this host's own prior row in the
// status store, per spec.md §4.7 — a daemon restart must not silently
// forget state recent enough to still matter. It falls back to a bare
// UserSlice when sync isn't configured, no row exists, or the row is
// older than imported_badness_timeout. When the row's stored default or
// current group isn't known to this config, both are replaced by the
// uid's computed default group (the rest of the row is still applied);
// only if no default resolves does it fall back to a bare UserSlice.
func (d *daemon) bootstrapUserSlice(ctx context.Context, now time.Time, uid int) *model.UserSlice {
	us := &model.UserSlice{UID: uid}
	if d.db == nil || d.cfg.SyncGroup.SyncGroup == "" {
		return us
	}

	row, err := d.db.SelectBootstrap(ctx, uid, d.cfg.SyncGroup.SyncGroup, d.cfg.General.Hostname)
	if err != nil {
		if !errors.Is(err, statusdb.ErrRowNotFound) {
			d.logger.Warn("bootstrap select failed, starting cold", "uid", uid, "err", err)
		}
		return us
	}
	if !row.Valid(now, d.cfg.SyncGroup.ImportedBadnessTimeout) {
		d.logger.Info("bootstrap row too stale, starting cold", "uid", uid)
		return us
	}
	_, defKnown := d.groups.Groups[row.DefaultGroup]
	_, curKnown := d.groups.Groups[row.CurrentGroup]
	if !defKnown || !curKnown {
		def, err := d.groups.DefaultGroupFor(uid, nil)
		if err != nil {
			d.logger.Warn("bootstrap: stored group unknown and no default resolved, starting cold", "uid", uid, "stored_default", row.DefaultGroup, "stored_current", row.CurrentGroup, "err", err)
			return us
		}
		d.logger.Warn("bootstrap: stored group unknown, falling back to computed default", "uid", uid, "stored_default", row.DefaultGroup, "stored_current", row.CurrentGroup, "default", def)
		row.DefaultGroup, row.CurrentGroup = def, def
	}

	arbsync.ApplyRow(us, row, d.logger.Warn)
	d.logger.Info("rehydrated user state from status store", "uid", uid, "current_group", us.Status.CurrentGroup, "occurrences", us.Status.Occurrences)
	return us
}

func (d *daemon) absorbSample(now time.Time, sample model.UsageSample) {
	event, ok := d.agg.Absorb(sample)
	if !ok {
		return
	}
	us, tracked := d.users[sample.UID]
	if !tracked {
		return
	}
	us.PushEvent(event, d.cfg.General.MaxHistoryKept)
}

func (d *daemon) tickUser(ctx context.Context, now time.Time, uid int, us *model.UserSlice) {
	if us.Status.DefaultGroup == "" {
		def, err := d.groups.DefaultGroupFor(uid, nil)
		if err != nil {
			d.logger.Warn("no default group resolved", "uid", uid, "err", err)
			return
		}
		us.Status.DefaultGroup = def
		us.Status.CurrentGroup = def
	}

	quota, err := d.groups.ResolveQuota(us.Status.DefaultGroup, us.Status.CurrentGroup, d.cfg.General.DivCPUQuotasByThreadsPerCore, d.threadsPerCore)
	if err != nil {
		d.logger.Warn("quota resolution failed", "uid", uid, "err", err)
		return
	}

	var overQuota bool
	if ev, ok := us.LatestEvent(); ok {
		accCPU, accMem := aggregator.AccountedUsage(ev, d.cfg.General.WhitelistOtherProcesses)
		th := score.Thresholds{
			CPU: d.cfg.General.CPUBadnessThreshold, Mem: d.cfg.General.MemBadnessThreshold,
			TimeToMaxBad: d.cfg.General.TimeToMaxBad, TimeToMinBad: d.cfg.General.TimeToMinBad,
			CapBadnessIncr: d.cfg.General.CapBadnessIncr,
		}
		d.scorer.Update(&us.Badness, now, accCPU, quota.CPUQuotaPct, float64(accMem), quota.MemQuotaBytes, th, d.cfg.General.ArbiterRefresh, us.Status.InPenalty())

		overQuota = accCPU > quota.CPUQuotaPct || float64(accMem) > quota.MemQuotaBytes
		if overQuota && d.histThrot.Allow(uid, now) {
			_ = d.hist.Record(ctx, uid, us.Ring)
			if err := d.notifier.Notify(notify.HighUsage, *us, nil); err != nil {
				d.logger.Warn("high usage notify failed", "uid", uid, "err", err)
			}
		}
	}

	transitions, err := d.engine.Tick(now, us, d.groups, d.cfg.General.Hostname, d.cfg.General.OccurTimeout)
	if err != nil {
		d.logger.Warn("status tick failed", "uid", uid, "err", err)
	}

	// Enforcement applies the decision this tick's Status engine made,
	// before any cross-node adoption below can change CurrentGroup —
	// otherwise a peer's penalty could get written to this node's
	// cgroups in place of (or on top of) the local decision.
	quota, err = d.groups.ResolveQuota(us.Status.DefaultGroup, us.Status.CurrentGroup, d.cfg.General.DivCPUQuotasByThreadsPerCore, d.threadsPerCore)
	if err != nil {
		d.logger.Warn("post-transition quota resolution failed", "uid", uid, "err", err)
		return
	}
	if err := d.enf.Apply(uid, quota, d.cfg.General.MemswEnabled); err != nil {
		d.logger.Warn("enforcement apply failed", "uid", uid, "err", err)
	}

	var peers []string
	if d.sync != nil {
		p, adopted, err := d.sync.Reconcile(ctx, now, us)
		if err != nil {
			d.logger.Warn("sync reconcile failed, continuing with local state", "uid", uid, "err", err)
		} else {
			peers = p
			if adopted {
				d.logger.Info("adopted peer status", "uid", uid, "current_group", us.Status.CurrentGroup)
			}
		}
	}

	for _, t := range transitions {
		kind := notify.Violation
		if t.Kind == status.Release {
			kind = notify.Release
		}
		if err := d.notifier.Notify(kind, *us, peers); err != nil {
			d.logger.Warn("notify failed", "uid", uid, "err", err)
		}
	}
}

func (d *daemon) flush(ctx context.Context) {
	if d.sync == nil {
		return
	}
	for uid, us := range d.users {
		if _, _, err := d.sync.Reconcile(ctx, time.Now(), us); err != nil {
			d.logger.Warn("final flush reconcile failed", "uid", uid, "err", err)
		}
	}
}

func (d *daemon) exitFileChanged() bool {
	if d.exitFile == "" {
		return false
	}
	info, err := os.Stat(d.exitFile)
	if err != nil {
		return false
	}
	if d.exitFileMT.IsZero() {
		d.exitFileMT = info.ModTime()
		return false
	}
	if info.ModTime().After(d.exitFileMT) {
		d.exitFileMT = info.ModTime()
		return true
	}
	return false
}

// sudoPrivileged shells out through sudo for cgroup control-file
// writes, for a daemon that does not itself run as root.
type sudoPrivileged struct{}

func (sudoPrivileged) WriteFile(path, value string) error {
	return runSudoTee(path, value)
}

// noopIntegrations is the zero-configuration Integrations: it never
// resolves an email address, so Notify always skips delivery. Real
// deployments wire a site-specific Integrations implementation here.
type noopIntegrations struct{}

func (noopIntegrations) EmailAddressOf(uid int) (string, error) { return "", nil }
func (noopIntegrations) WarningSubject(us model.UserSlice, kind notify.Kind) string {
	return "arbiter2: usage notice"
}
func (noopIntegrations) WarningBody(us model.UserSlice, peers []string, kind notify.Kind) string {
	return ""
}

type noopSender struct{ logger *slog.Logger }

func (n noopSender) Send(to, subject, body string) error {
	n.logger.Debug("notification suppressed: no Sender configured", "to", to, "subject", subject)
	return nil
}
