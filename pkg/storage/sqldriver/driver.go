// Package sqldriver implements storage.Driver over database/sql. The sqlite
// and postgres drivers embed it and differ only in how they open the
// connection.
package sqldriver

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/identity"
	"github.com/papercomputeco/spool/pkg/ledger"
	"github.com/papercomputeco/spool/pkg/storage"
)

// Driver implements storage.Driver on a *sql.DB.
type Driver struct {
	DB      *sql.DB
	Dialect Dialect
}

var _ storage.Driver = (*Driver)(nil)

// New wraps db and creates the schema if it does not exist.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Driver, error) {
	d := &Driver{DB: db, Dialect: dialect}
	for _, stmt := range dialect.schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return d, nil
}

func (d *Driver) q(query string) string {
	return d.Dialect.Rebind(query)
}

// Get implements cache.Store.
func (d *Driver) Get(ctx context.Context, tier cache.Tier, fp identity.ID) (cache.Entry, bool, error) {
	var (
		value     []byte
		size      int
		createdAt int64
	)
	err := d.DB.QueryRowContext(ctx,
		d.q(`SELECT value, size, created_at FROM cache_entries WHERE tier = ? AND fingerprint = ?`),
		string(tier), fp.String(),
	).Scan(&value, &size, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, unavailable("cache get", err)
	}

	return cache.Entry{
		Tier:        tier,
		Fingerprint: fp,
		Value:       value,
		Size:        size,
		CreatedAt:   time.Unix(0, createdAt).UTC(),
	}, true, nil
}

// Put implements cache.Store. The existence check and the insert share a
// transaction so concurrent writers cannot both observe a miss.
func (d *Driver) Put(ctx context.Context, tier cache.Tier, fp identity.ID, value []byte) (bool, error) {
	if value == nil {
		value = []byte{}
	}

	created := false
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			d.q(`INSERT INTO cache_entries (tier, fingerprint, value, size, created_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (tier, fingerprint) DO NOTHING`),
			string(tier), fp.String(), value, len(value), time.Now().UnixNano(),
		)
		if err != nil {
			return unavailable("cache put", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created = true
			return nil
		}

		var existing []byte
		err = tx.QueryRowContext(ctx,
			d.q(`SELECT value FROM cache_entries WHERE tier = ? AND fingerprint = ?`),
			string(tier), fp.String(),
		).Scan(&existing)
		if err != nil {
			return unavailable("cache put", err)
		}
		if !bytes.Equal(existing, value) {
			return cache.ErrConflict
		}
		return nil
	})
	return created, err
}

// Invalidate implements cache.Store. A nil predicate deletes the whole tier
// in one statement; otherwise candidates are scanned and deleted in the
// same transaction.
func (d *Driver) Invalidate(ctx context.Context, tier cache.Tier, pred cache.Predicate) (int, error) {
	if pred == nil {
		res, err := d.DB.ExecContext(ctx, d.q(`DELETE FROM cache_entries WHERE tier = ?`), string(tier))
		if err != nil {
			return 0, unavailable("cache invalidate", err)
		}
		n, _ := res.RowsAffected()
		return int(n), nil
	}

	removed := 0
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			d.q(`SELECT fingerprint, value, size, created_at FROM cache_entries WHERE tier = ?`),
			string(tier),
		)
		if err != nil {
			return unavailable("cache invalidate", err)
		}

		var doomed []string
		for rows.Next() {
			var (
				fp        string
				e         = cache.Entry{Tier: tier}
				createdAt int64
			)
			if err := rows.Scan(&fp, &e.Value, &e.Size, &createdAt); err != nil {
				rows.Close()
				return unavailable("cache invalidate", err)
			}
			e.Fingerprint, _ = uuid.Parse(fp)
			e.CreatedAt = time.Unix(0, createdAt).UTC()
			if pred(e) {
				doomed = append(doomed, fp)
			}
		}
		if err := rows.Close(); err != nil {
			return unavailable("cache invalidate", err)
		}
		if err := rows.Err(); err != nil {
			return unavailable("cache invalidate", err)
		}

		for _, fp := range doomed {
			if _, err := tx.ExecContext(ctx,
				d.q(`DELETE FROM cache_entries WHERE tier = ? AND fingerprint = ?`),
				string(tier), fp,
			); err != nil {
				return unavailable("cache invalidate", err)
			}
		}
		removed = len(doomed)
		return nil
	})
	return removed, err
}

// upsertProgress writes a record. When bump is set the attempt counter is
// incremented.
func (d *Driver) upsertProgress(ctx context.Context, key ledger.Key, status ledger.Status, inputHash identity.ID, output string, failure ledger.Failure, bump bool) error {
	attempts := 0
	attemptsExpr := "progress.attempts"
	if bump {
		attempts = 1
		attemptsExpr = "progress.attempts + 1"
	}

	_, err := d.DB.ExecContext(ctx,
		d.q(`INSERT INTO progress (window_id, stage, status, input_hash, output, reason, terminal, attempts, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (window_id, stage) DO UPDATE SET
				status = excluded.status,
				input_hash = excluded.input_hash,
				output = excluded.output,
				reason = excluded.reason,
				terminal = excluded.terminal,
				attempts = `+attemptsExpr+`,
				updated_at = excluded.updated_at`),
		key.Window.String(), string(key.Stage), string(status), inputHash.String(),
		output, failure.Reason, failure.Terminal, attempts, time.Now().UnixNano(),
	)
	if err != nil {
		return unavailable("ledger "+string(status), err)
	}
	return nil
}

// MarkPending implements ledger.Ledger.
func (d *Driver) MarkPending(ctx context.Context, key ledger.Key, inputHash identity.ID) error {
	return d.upsertProgress(ctx, key, ledger.StatusPending, inputHash, "", ledger.Failure{}, true)
}

// MarkDone implements ledger.Ledger.
func (d *Driver) MarkDone(ctx context.Context, key ledger.Key, inputHash identity.ID, output string) error {
	return d.upsertProgress(ctx, key, ledger.StatusDone, inputHash, output, ledger.Failure{}, false)
}

// MarkProvisional implements ledger.Ledger.
func (d *Driver) MarkProvisional(ctx context.Context, key ledger.Key, inputHash identity.ID, output string) error {
	return d.upsertProgress(ctx, key, ledger.StatusProvisional, inputHash, output, ledger.Failure{}, false)
}

// MarkFailed implements ledger.Ledger.
func (d *Driver) MarkFailed(ctx context.Context, key ledger.Key, inputHash identity.ID, failure ledger.Failure) error {
	return d.upsertProgress(ctx, key, ledger.StatusFailed, inputHash, "", failure, false)
}

const progressColumns = `window_id, stage, status, input_hash, output, reason, terminal, attempts, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (ledger.Record, error) {
	var (
		r                 ledger.Record
		window, inputHash string
		stage, status     string
		updatedAt         int64
	)
	if err := s.Scan(&window, &stage, &status, &inputHash, &r.Output, &r.Reason, &r.Terminal, &r.Attempts, &updatedAt); err != nil {
		return r, err
	}

	var err error
	if r.Window, err = uuid.Parse(window); err != nil {
		return r, fmt.Errorf("corrupt window id %q: %w", window, err)
	}
	if r.InputHash, err = uuid.Parse(inputHash); err != nil {
		return r, fmt.Errorf("corrupt input hash %q: %w", inputHash, err)
	}
	r.Stage = ledger.Stage(stage)
	r.Status = ledger.Status(status)
	r.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return r, nil
}

// Status implements ledger.Ledger.
func (d *Driver) Status(ctx context.Context, key ledger.Key) (ledger.Record, error) {
	row := d.DB.QueryRowContext(ctx,
		d.q(`SELECT `+progressColumns+` FROM progress WHERE window_id = ? AND stage = ?`),
		key.Window.String(), string(key.Stage),
	)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Record{Key: key, Status: ledger.StatusAbsent}, nil
	}
	if err != nil {
		return ledger.Record{}, unavailable("ledger status", err)
	}
	return r, nil
}

// List implements ledger.Ledger.
func (d *Driver) List(ctx context.Context, filter ledger.Filter) ([]ledger.Record, error) {
	var (
		where []string
		args  []any
	)
	if filter.Window != identity.Nil {
		where = append(where, "window_id = ?")
		args = append(args, filter.Window.String())
	}
	if filter.Stage != "" {
		where = append(where, "stage = ?")
		args = append(args, string(filter.Stage))
	}
	if filter.Status != ledger.StatusAbsent {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + progressColumns + ` FROM progress`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY window_id, stage"

	rows, err := d.DB.QueryContext(ctx, d.q(query), args...)
	if err != nil {
		return nil, unavailable("ledger list", err)
	}
	defer rows.Close()

	var out []ledger.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable("ledger list", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("ledger list", err)
	}
	return out, nil
}

// Reset implements ledger.Ledger.
func (d *Driver) Reset(ctx context.Context, stages ...ledger.Stage) (int, error) {
	if len(stages) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(stages))
	args := make([]any, len(stages))
	for i, s := range stages {
		placeholders[i] = "?"
		args[i] = string(s)
	}

	res, err := d.DB.ExecContext(ctx,
		d.q(`DELETE FROM progress WHERE stage IN (`+strings.Join(placeholders, ", ")+`)`),
		args...,
	)
	if err != nil {
		return 0, unavailable("ledger reset", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SaveRun implements ledger.RunStore.
func (d *Driver) SaveRun(ctx context.Context, run ledger.RunRecord) error {
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return fmt.Errorf("encoding run counts: %w", err)
	}

	var finished int64
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UnixNano()
	}

	_, err = d.DB.ExecContext(ctx,
		d.q(`INSERT INTO runs (id, started_at, finished_at, status, refresh, counts, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				finished_at = excluded.finished_at,
				status = excluded.status,
				refresh = excluded.refresh,
				counts = excluded.counts,
				error = excluded.error`),
		run.ID.String(), run.StartedAt.UnixNano(), finished, string(run.Status),
		run.Refresh, string(counts), run.Error,
	)
	if err != nil {
		return unavailable("save run", err)
	}
	return nil
}

// ListRuns implements ledger.RunStore.
func (d *Driver) ListRuns(ctx context.Context, limit int) ([]ledger.RunRecord, error) {
	query := `SELECT id, started_at, finished_at, status, refresh, counts, error FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.DB.QueryContext(ctx, d.q(query), args...)
	if err != nil {
		return nil, unavailable("list runs", err)
	}
	defer rows.Close()

	var runs []ledger.RunRecord
	for rows.Next() {
		var (
			run               ledger.RunRecord
			id, status        string
			counts            string
			started, finished int64
		)
		if err := rows.Scan(&id, &started, &finished, &status, &run.Refresh, &counts, &run.Error); err != nil {
			return nil, unavailable("list runs", err)
		}
		if run.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("corrupt run id %q: %w", id, err)
		}
		if err := json.Unmarshal([]byte(counts), &run.Counts); err != nil {
			return nil, fmt.Errorf("decoding run counts: %w", err)
		}
		run.Status = ledger.RunStatus(status)
		run.StartedAt = time.Unix(0, started).UTC()
		if finished != 0 {
			run.FinishedAt = time.Unix(0, finished).UTC()
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list runs", err)
	}
	return runs, nil
}

// Close implements storage.Driver.
func (d *Driver) Close() error {
	return d.DB.Close()
}

func (d *Driver) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return &storage.UnavailableError{Op: op, Err: err}
}
