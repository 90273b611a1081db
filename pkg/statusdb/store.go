// Package statusdb wraps database/sql over the shared SQL status table
// spec.md §4.6 calls for, the way the bridge example's ErrorStore wraps
// modernc.org/sqlite for node-local state: a Store holding *sql.DB, a
// migrate() issuing CREATE TABLE IF NOT EXISTS, and a handful of single-
// statement methods bounded by a short context timeout.
package statusdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists and reconciles Rows through a database/sql driver.
// Any driver registered under the configured name works; arbiter2d
// ships modernc.org/sqlite as the zero-dependency-to-operate default.
type Store struct {
	db      *sql.DB
	timeout time.Duration
}

// Open opens (creating if necessary) the backing database and runs
// migrations. driverName/dsn come straight from config.DatabaseConfig.
func Open(driverName, dsn string, timeout time.Duration) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("statusdb: open %s: %w", driverName, err)
	}
	s := &Store{db: db, timeout: timeout}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS status (
			hostname          TEXT NOT NULL,
			uid               INTEGER NOT NULL,
			sync_group        TEXT NOT NULL,
			current_group     TEXT NOT NULL,
			default_group     TEXT NOT NULL,
			occurrences       INTEGER NOT NULL DEFAULT 0,
			penalty_expiry_ts INTEGER,
			occur_expiry_ts   INTEGER,
			authority         TEXT,
			modified_ts       INTEGER NOT NULL,
			PRIMARY KEY (hostname, uid, sync_group)
		);

		CREATE TABLE IF NOT EXISTS badness (
			hostname    TEXT NOT NULL,
			uid         INTEGER NOT NULL,
			sync_group  TEXT NOT NULL,
			cpu_score   REAL NOT NULL DEFAULT 0,
			mem_score   REAL NOT NULL DEFAULT 0,
			expiry_ts   INTEGER,
			modified_ts INTEGER NOT NULL,
			PRIMARY KEY (hostname, uid, sync_group)
		);

		CREATE INDEX IF NOT EXISTS idx_status_uid_group ON status(uid, sync_group);
		CREATE INDEX IF NOT EXISTS idx_badness_uid_group ON badness(uid, sync_group);
	`)
	if err != nil {
		return fmt.Errorf("statusdb: migrate: %w", err)
	}
	return nil
}

// Upsert writes a node's current Row for one user, replacing whatever
// was there before under the same (hostname, uid, sync_group) key.
func (s *Store) Upsert(ctx context.Context, r Row) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("statusdb: begin upsert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO status (hostname, uid, sync_group, current_group, default_group, occurrences, penalty_expiry_ts, occur_expiry_ts, authority, modified_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hostname, uid, sync_group) DO UPDATE SET
			current_group=excluded.current_group,
			default_group=excluded.default_group,
			occurrences=excluded.occurrences,
			penalty_expiry_ts=excluded.penalty_expiry_ts,
			occur_expiry_ts=excluded.occur_expiry_ts,
			authority=excluded.authority,
			modified_ts=excluded.modified_ts
	`, r.Hostname, r.UID, r.SyncGroup, r.CurrentGroup, r.DefaultGroup, r.Occurrences,
		nullUnixMilli(r.PenaltyExpiry), nullUnixMilli(r.OccurExpiry), r.Authority, r.ModifiedTS.UnixMilli())
	if err != nil {
		return fmt.Errorf("statusdb: upsert status: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO badness (hostname, uid, sync_group, cpu_score, mem_score, expiry_ts, modified_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hostname, uid, sync_group) DO UPDATE SET
			cpu_score=excluded.cpu_score,
			mem_score=excluded.mem_score,
			expiry_ts=excluded.expiry_ts,
			modified_ts=excluded.modified_ts
	`, r.Hostname, r.UID, r.SyncGroup, r.CPUScore, r.MemScore, nullUnixMilli(r.BadnessExpiry), r.ModifiedTS.UnixMilli())
	if err != nil {
		return fmt.Errorf("statusdb: upsert badness: %w", err)
	}

	return tx.Commit()
}

// SelectPeers returns every row for a uid within a sync group except
// the given local hostname's own row, for the Synchronizer's
// reconciliation pass.
func (s *Store) SelectPeers(ctx context.Context, uid int, syncGroup, localHostname string) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT st.hostname, st.uid, st.sync_group, st.current_group, st.default_group,
		       st.occurrences, st.penalty_expiry_ts, st.occur_expiry_ts, st.authority, st.modified_ts,
		       b.cpu_score, b.mem_score, b.expiry_ts
		FROM status st
		JOIN badness b ON b.hostname = st.hostname AND b.uid = st.uid AND b.sync_group = st.sync_group
		WHERE st.uid = ? AND st.sync_group = ? AND st.hostname != ?
	`, uid, syncGroup, localHostname)
	if err != nil {
		return nil, fmt.Errorf("statusdb: select peers: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// SelectBootstrap returns the row this node wrote for a uid in the sync
// group (ErrRowNotFound if there is none), for rehydrating a
// UserSlice's state across a daemon restart.
func (s *Store) SelectBootstrap(ctx context.Context, uid int, syncGroup, localHostname string) (Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT st.hostname, st.uid, st.sync_group, st.current_group, st.default_group,
		       st.occurrences, st.penalty_expiry_ts, st.occur_expiry_ts, st.authority, st.modified_ts,
		       b.cpu_score, b.mem_score, b.expiry_ts
		FROM status st
		JOIN badness b ON b.hostname = st.hostname AND b.uid = st.uid AND b.sync_group = st.sync_group
		WHERE st.uid = ? AND st.sync_group = ? AND st.hostname = ?
	`, uid, syncGroup, localHostname)

	r, err := scanRow(row)
	if err == sql.ErrNoRows {
		return Row{}, ErrRowNotFound
	}
	if err != nil {
		return Row{}, fmt.Errorf("statusdb: select bootstrap: %w", err)
	}
	return r, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullUnixMilli(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRow(sc scanner) (Row, error) {
	var r Row
	var penaltyExpiry, occurExpiry, badnessExpiry sql.NullInt64
	var modifiedTS int64

	err := sc.Scan(&r.Hostname, &r.UID, &r.SyncGroup, &r.CurrentGroup, &r.DefaultGroup,
		&r.Occurrences, &penaltyExpiry, &occurExpiry, &r.Authority, &modifiedTS,
		&r.CPUScore, &r.MemScore, &badnessExpiry)
	if err != nil {
		return Row{}, err
	}

	r.ModifiedTS = time.UnixMilli(modifiedTS)
	if penaltyExpiry.Valid {
		r.PenaltyExpiry = time.UnixMilli(penaltyExpiry.Int64)
	}
	if occurExpiry.Valid {
		r.OccurExpiry = time.UnixMilli(occurExpiry.Int64)
	}
	if badnessExpiry.Valid {
		r.BadnessExpiry = time.UnixMilli(badnessExpiry.Int64)
	}
	return r, nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("statusdb: scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
