// Package store persists prerequisite runs and cycle records in a sqlite database so reports
// can be regenerated and the suspend hooks can hand state to each other.
package store

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"s2idle/internal/model"
	"s2idle/internal/prereq"
	"s2idle/internal/util"
)

// SchemaVersion is the user_version of a fully migrated database.
const SchemaVersion = 2

const timestampLayout = "20060102150405"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS prereq_data (t0 INTEGER, id INTEGER, message TEXT, symbol TEXT, name TEXT, detail TEXT, PRIMARY KEY(t0, id))`,
	`CREATE TABLE IF NOT EXISTS prereq_debug (t0 INTEGER, id INTEGER, message TEXT, PRIMARY KEY(t0, id))`,
	`CREATE TABLE IF NOT EXISTS debug (t0 INTEGER, id INTEGER, message TEXT, priority INTEGER, PRIMARY KEY(t0, id))`,
	`CREATE TABLE IF NOT EXISTS cycle (t0 INTEGER PRIMARY KEY, t1 INTEGER, requested INTEGER, gpio TEXT, wake_irq TEXT, kernel REAL, hw REAL, incomplete INTEGER DEFAULT 0, premature INTEGER DEFAULT 0, reason TEXT)`,
	`CREATE TABLE IF NOT EXISTS cycle_data (t0 INTEGER, id INTEGER, message TEXT, symbol TEXT, PRIMARY KEY(t0, id))`,
	`CREATE TABLE IF NOT EXISTS failure (t0 INTEGER, id INTEGER, problem TEXT, data TEXT, PRIMARY KEY(t0, id))`,
	`CREATE TABLE IF NOT EXISTS battery (t0 INTEGER, name TEXT, b0 INTEGER, b1 INTEGER, full INTEGER, unit TEXT, PRIMARY KEY(t0, name))`,
}

// columns added after the first release, applied to databases created by older versions
var migrations = []struct {
	version int
	table   string
	column  string
	def     string
}{
	{1, "debug", "priority", "INTEGER"},
	{2, "prereq_data", "name", "TEXT"},
	{2, "prereq_data", "detail", "TEXT"},
	{2, "cycle", "incomplete", "INTEGER DEFAULT 0"},
	{2, "cycle", "premature", "INTEGER DEFAULT 0"},
	{2, "cycle", "reason", "TEXT"},
}

// Store is a handle to the cycle database.
type Store struct {
	db   *sql.DB
	Path string
}

// DefaultPath returns the database location used when --db isn't given.
func DefaultPath() string {
	if exists, _ := util.DirectoryExists("/var/lib"); exists {
		return "/var/lib/amd-s2idle/data.db"
	}
	return "/var/local/lib/amd-s2idle/data.db"
}

// Open opens or creates the database at path and migrates its schema.
func Open(path string) (*Store, error) {
	if err := util.CreateDirectoryIfNotExists(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory for %s", path)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, Path: path}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return errors.Wrap(err, "failed to read schema version")
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to create schema")
		}
	}
	for _, m := range migrations {
		if version >= m.version {
			continue
		}
		exists, err := s.columnExists(ctx, m.table, m.column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		slog.Info("migrating database", slog.String("table", m.table), slog.String("column", m.column), slog.Int("version", m.version))
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.def)); err != nil {
			return errors.Wrapf(err, "failed to add %s.%s", m.table, m.column)
		}
	}
	if version < SchemaVersion {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
			return errors.Wrap(err, "failed to set schema version")
		}
	}
	return nil
}

func (s *Store) columnExists(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, errors.Wrapf(err, "failed to read columns of %s", table)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Timestamp encodes t as the YYYYMMDDHHMMSS key used by every table.
func Timestamp(t time.Time) int64 {
	v, _ := strconv.ParseInt(t.Local().Format(timestampLayout), 10, 64)
	return v
}

// ParseTimestamp decodes a YYYYMMDDHHMMSS key in local time.
func ParseTimestamp(v int64) (time.Time, error) {
	return time.ParseInLocation(timestampLayout, strconv.FormatInt(v, 10), time.Local)
}

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// RecordPrerequisites stores one prerequisite evaluation pass keyed by its time.
func (s *Store) RecordPrerequisites(res prereq.Result) error {
	t0 := Timestamp(res.Time)
	return s.withTx(func(tx *sql.Tx) error {
		for _, table := range []string{"prereq_data", "prereq_debug"} {
			if _, err := tx.Exec("DELETE FROM "+table+" WHERE t0 = ?", t0); err != nil {
				return errors.Wrapf(err, "failed to clear %s", table)
			}
		}
		for i, c := range res.Checks {
			if _, err := tx.Exec("INSERT INTO prereq_data (t0, id, message, symbol, name, detail) VALUES (?, ?, ?, ?, ?, ?)",
				t0, i, c.Text, c.Verdict.String(), c.Name, c.Debug); err != nil {
				return errors.Wrap(err, "failed to insert prerequisite")
			}
		}
		for i, line := range res.Debug {
			if _, err := tx.Exec("INSERT INTO prereq_debug (t0, id, message) VALUES (?, ?, ?)", t0, i, line); err != nil {
				return errors.Wrap(err, "failed to insert prerequisite debug data")
			}
		}
		return nil
	})
}

// HasPrerequisites reports whether a prerequisite pass was stored at or after since.
func (s *Store) HasPrerequisites(since time.Time) (bool, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM prereq_data WHERE t0 >= ?", Timestamp(since)).Scan(&n); err != nil {
		return false, errors.Wrap(err, "failed to query prerequisites")
	}
	return n > 0, nil
}

// PrereqRun is a stored prerequisite pass.
type PrereqRun struct {
	Time   time.Time
	Checks []model.CheckResult
	Debug  []string
}

// LatestPrerequisites returns the most recent prerequisite pass within [since, until]. ok is
// false when there is none.
func (s *Store) LatestPrerequisites(since, until time.Time) (PrereqRun, bool, error) {
	var run PrereqRun
	var t0 int64
	err := s.db.QueryRow("SELECT t0 FROM prereq_data WHERE t0 >= ? AND t0 <= ? ORDER BY t0 DESC LIMIT 1",
		Timestamp(since), Timestamp(until)).Scan(&t0)
	if errors.Is(err, sql.ErrNoRows) {
		return run, false, nil
	}
	if err != nil {
		return run, false, errors.Wrap(err, "failed to query prerequisites")
	}
	if run.Time, err = ParseTimestamp(t0); err != nil {
		return run, false, errors.Wrap(err, "invalid prerequisite timestamp")
	}
	rows, err := s.db.Query("SELECT message, symbol, COALESCE(name, ''), COALESCE(detail, '') FROM prereq_data WHERE t0 = ? ORDER BY id", t0)
	if err != nil {
		return run, false, errors.Wrap(err, "failed to read prerequisites")
	}
	defer rows.Close()
	for rows.Next() {
		var c model.CheckResult
		var symbol string
		if err := rows.Scan(&c.Text, &symbol, &c.Name, &c.Debug); err != nil {
			return run, false, err
		}
		c.Verdict = parseVerdict(symbol)
		run.Checks = append(run.Checks, c)
	}
	if err := rows.Err(); err != nil {
		return run, false, err
	}
	if run.Debug, err = s.queryStrings("SELECT message FROM prereq_debug WHERE t0 = ? ORDER BY id", t0); err != nil {
		return run, false, err
	}
	return run, true, nil
}

func parseVerdict(v string) model.Verdict {
	for _, verdict := range []model.Verdict{model.VerdictPass, model.VerdictFail, model.VerdictWarn, model.VerdictInfo} {
		if verdict.String() == v {
			return verdict
		}
	}
	return model.VerdictInfo
}

func (s *Store) queryStrings(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query failed")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// BeginCycle records the start of a cycle whose end is filled in by RecordCycle.
func (s *Store) BeginCycle(start time.Time, battery model.BatterySample) error {
	return s.withTx(func(tx *sql.Tx) error {
		t0, err := freeCycleKey(tx, start)
		if err != nil {
			return err
		}
		if _, err := tx.Exec("INSERT OR REPLACE INTO cycle (t0, t1) VALUES (?, NULL)", t0); err != nil {
			return errors.Wrap(err, "failed to insert cycle start")
		}
		return insertBattery(tx, t0, battery)
	})
}

func insertBattery(tx *sql.Tx, t0 int64, b model.BatterySample) error {
	if !b.Exists {
		return nil
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO battery (t0, name, b0, b1, full, unit) VALUES (?, ?, ?, ?, ?, ?)",
		t0, b.Name, b.Start, b.End, b.Full, b.Unit); err != nil {
		return errors.Wrap(err, "failed to insert battery")
	}
	return nil
}

// PendingCycle returns the most recent cycle start without an end.
func (s *Store) PendingCycle() (time.Time, model.BatterySample, bool, error) {
	var t0 int64
	err := s.db.QueryRow("SELECT t0 FROM cycle WHERE t1 IS NULL ORDER BY t0 DESC LIMIT 1").Scan(&t0)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, model.BatterySample{}, false, nil
	}
	if err != nil {
		return time.Time{}, model.BatterySample{}, false, errors.Wrap(err, "failed to query pending cycle")
	}
	start, err := ParseTimestamp(t0)
	if err != nil {
		return time.Time{}, model.BatterySample{}, false, errors.Wrap(err, "invalid cycle timestamp")
	}
	battery, err := s.battery(t0)
	return start, battery, err == nil, err
}

func (s *Store) battery(t0 int64) (model.BatterySample, error) {
	var b model.BatterySample
	err := s.db.QueryRow("SELECT name, b0, COALESCE(b1, 0), full, unit FROM battery WHERE t0 = ? ORDER BY name LIMIT 1", t0).
		Scan(&b.Name, &b.Start, &b.End, &b.Full, &b.Unit)
	if errors.Is(err, sql.ErrNoRows) {
		return b, nil
	}
	if err != nil {
		return b, errors.Wrap(err, "failed to read battery")
	}
	b.Exists = true
	return b, nil
}

// CycleCount returns the number of finished cycles that started at or after since.
func (s *Store) CycleCount(since time.Time) (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM cycle WHERE t1 IS NOT NULL AND t0 >= ?", Timestamp(since)).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count cycles")
	}
	return n, nil
}

// RecordCycle stores a finished cycle. A pending row with the same start is completed; a
// finished cycle that started in the same second moves the new one to the next free second.
func (s *Store) RecordCycle(rec model.CycleRecord) error {
	return s.withTx(func(tx *sql.Tx) error {
		t0, err := freeCycleKey(tx, rec.Start)
		if err != nil {
			return err
		}
		t1 := max(Timestamp(rec.End), t0)
		for _, table := range []string{"debug", "cycle_data", "failure"} {
			if _, err := tx.Exec("DELETE FROM "+table+" WHERE t0 = ?", t0); err != nil {
				return errors.Wrapf(err, "failed to clear %s", table)
			}
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO cycle (t0, t1, requested, gpio, wake_irq, kernel, hw, incomplete, premature, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t0, t1, int64(rec.RequestedDuration/time.Second),
			strings.Join(util.IntSliceToStringSlice(rec.ActiveGPIOs), ","),
			strings.Join(util.IntSliceToStringSlice(rec.WakeIRQs), ","),
			rec.KernelSleep.Seconds(), rec.HardwareSleep.Seconds(),
			boolInt(rec.Incomplete), boolInt(rec.PrematureWake), rec.AbortReason); err != nil {
			return errors.Wrap(err, "failed to insert cycle")
		}
		for i, m := range rec.Messages {
			if _, err := tx.Exec("INSERT INTO debug (t0, id, message, priority) VALUES (?, ?, ?, ?)", t0, i, m.Text, m.Severity.Priority()); err != nil {
				return errors.Wrap(err, "failed to insert message")
			}
		}
		for i, n := range rec.Notes {
			if _, err := tx.Exec("INSERT INTO cycle_data (t0, id, message, symbol) VALUES (?, ?, ?, ?)", t0, i, n.Text, n.Verdict.String()); err != nil {
				return errors.Wrap(err, "failed to insert cycle data")
			}
		}
		for i, f := range rec.Failures {
			if _, err := tx.Exec("INSERT INTO failure (t0, id, problem, data) VALUES (?, ?, ?, ?)", t0, i, f.Problem, f.Data); err != nil {
				return errors.Wrap(err, "failed to insert failure")
			}
		}
		return insertBattery(tx, t0, rec.Battery)
	})
}

// freeCycleKey returns the key for a cycle starting at start: its own second unless a finished
// cycle already holds it.
func freeCycleKey(tx *sql.Tx, start time.Time) (int64, error) {
	for {
		t0 := Timestamp(start)
		var finished bool
		err := tx.QueryRow("SELECT t1 IS NOT NULL FROM cycle WHERE t0 = ?", t0).Scan(&finished)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !finished) {
			return t0, nil
		}
		if err != nil {
			return 0, errors.Wrap(err, "failed to look up cycle start")
		}
		slog.Debug("cycle start already recorded, using the next second", slog.Int64("t0", t0))
		start = start.Add(time.Second)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Cycles returns the finished cycles that started within [since, until], oldest first and
// numbered from zero.
func (s *Store) Cycles(since, until time.Time) ([]model.CycleRecord, error) {
	rows, err := s.db.Query(`SELECT t0, t1, COALESCE(requested, 0), COALESCE(gpio, ''), COALESCE(wake_irq, ''),
		COALESCE(kernel, 0), COALESCE(hw, 0), COALESCE(incomplete, 0), COALESCE(premature, 0), COALESCE(reason, '')
		FROM cycle WHERE t1 IS NOT NULL AND t0 >= ? AND t0 <= ? ORDER BY t0`, Timestamp(since), Timestamp(until))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query cycles")
	}
	type row struct {
		t0, t1, requested int64
		gpio, irq, reason string
		kernel, hw        float64
		incomplete, early int
	}
	var found []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.t0, &r.t1, &r.requested, &r.gpio, &r.irq, &r.kernel, &r.hw, &r.incomplete, &r.early, &r.reason); err != nil {
			rows.Close()
			return nil, err
		}
		found = append(found, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cycles := make([]model.CycleRecord, 0, len(found))
	for num, r := range found {
		rec := model.CycleRecord{
			CycleNum:          num,
			RequestedDuration: time.Duration(r.requested) * time.Second,
			KernelSleep:       time.Duration(r.kernel * float64(time.Second)),
			HardwareSleep:     time.Duration(r.hw * float64(time.Second)),
			WakeIRQs:          splitInts(r.irq),
			ActiveGPIOs:       splitInts(r.gpio),
			Incomplete:        r.incomplete != 0,
			PrematureWake:     r.early != 0,
			AbortReason:       r.reason,
		}
		if rec.Start, err = ParseTimestamp(r.t0); err != nil {
			return nil, errors.Wrap(err, "invalid cycle timestamp")
		}
		if rec.End, err = ParseTimestamp(r.t1); err != nil {
			return nil, errors.Wrap(err, "invalid cycle timestamp")
		}
		if err := s.loadCycleDetails(&rec, r.t0); err != nil {
			return nil, err
		}
		cycles = append(cycles, rec)
	}
	return cycles, nil
}

func (s *Store) loadCycleDetails(rec *model.CycleRecord, t0 int64) error {
	rows, err := s.db.Query("SELECT message, COALESCE(priority, 7) FROM debug WHERE t0 = ? ORDER BY id", t0)
	if err != nil {
		return errors.Wrap(err, "failed to read messages")
	}
	for rows.Next() {
		m := model.ClassifiedMessage{CycleNum: rec.CycleNum}
		var priority int
		if err := rows.Scan(&m.Text, &priority); err != nil {
			rows.Close()
			return err
		}
		m.Severity = model.SeverityFromPriority(priority)
		rec.Messages = append(rec.Messages, m)
	}
	rows.Close()

	rows, err = s.db.Query("SELECT message, symbol FROM cycle_data WHERE t0 = ? ORDER BY id", t0)
	if err != nil {
		return errors.Wrap(err, "failed to read cycle data")
	}
	for rows.Next() {
		var n model.CycleNote
		var symbol string
		if err := rows.Scan(&n.Text, &symbol); err != nil {
			rows.Close()
			return err
		}
		n.Verdict = parseVerdict(symbol)
		rec.Notes = append(rec.Notes, n)
	}
	rows.Close()

	rows, err = s.db.Query("SELECT problem, data FROM failure WHERE t0 = ? ORDER BY id", t0)
	if err != nil {
		return errors.Wrap(err, "failed to read failures")
	}
	for rows.Next() {
		f := model.FailureRecord{CycleNum: rec.CycleNum}
		if err := rows.Scan(&f.Problem, &f.Data); err != nil {
			rows.Close()
			return err
		}
		rec.Failures = append(rec.Failures, f)
	}
	rows.Close()

	rec.Battery, err = s.battery(t0)
	return err
}

func splitInts(v string) []int {
	var out []int
	for field := range strings.SplitSeq(v, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(field)); err == nil {
			out = append(out, n)
		}
	}
	return out
}
