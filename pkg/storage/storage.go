package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

var ErrNoRunID = errors.New("run has no id")

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id          TEXT PRIMARY KEY,
  name        TEXT NOT NULL UNIQUE,
  search_url  TEXT,
  started_at  TEXT,
  finished_at TEXT,
  blocked     INTEGER NOT NULL CHECK (blocked IN (0,1))
);
CREATE TABLE IF NOT EXISTS search_results (
  id        INTEGER PRIMARY KEY,
  run_id    TEXT NOT NULL,
  position  INTEGER NOT NULL,
  result_id TEXT,
  record    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_search_run ON search_results(run_id);
CREATE TABLE IF NOT EXISTS items (
  id             INTEGER PRIMARY KEY,
  run_id         TEXT NOT NULL,
  position       INTEGER NOT NULL,
  item_id        TEXT,
  request_error  TEXT,
  resource_count INTEGER NOT NULL,
  segment_count  INTEGER NOT NULL,
  record         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_run ON items(run_id);
CREATE INDEX IF NOT EXISTS idx_items_item ON items(item_id);
CREATE TABLE IF NOT EXISTS resources (
  id                 INTEGER PRIMARY KEY,
  run_id             TEXT NOT NULL,
  position           INTEGER NOT NULL,
  item_id            TEXT NOT NULL,
  resource_input_url TEXT,
  resource_id        TEXT,
  segment_count      INTEGER NOT NULL,
  record             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_resources_run ON resources(run_id);
CREATE TABLE IF NOT EXISTS segment_files (
  id                 INTEGER PRIMARY KEY,
  run_id             TEXT NOT NULL,
  item_id            TEXT NOT NULL,
  resource_input_url TEXT,
  resource_id        TEXT,
  segment_num        INTEGER NOT NULL,
  file_num           INTEGER NOT NULL,
  mimetype           TEXT,
  url                TEXT,
  record             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_segment_files_run ON segment_files(run_id);
CREATE TABLE IF NOT EXISTS resource_files (
  id           INTEGER PRIMARY KEY,
  run_id       TEXT NOT NULL,
  item_id      TEXT NOT NULL,
  resource_id  TEXT,
  source_field TEXT NOT NULL,
  url          TEXT
);
CREATE INDEX IF NOT EXISTS idx_resource_files_run ON resource_files(run_id);
CREATE TABLE IF NOT EXISTS errors (
  id          INTEGER PRIMARY KEY,
  run_id      TEXT NOT NULL,
  phase       TEXT NOT NULL CHECK (phase IN ('search','items','resources')),
  item_id     TEXT,
  resource_id TEXT,
  message     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_errors_run ON errors(run_id);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

var runTables = []string{"search_results", "items", "resources", "segment_files", "resource_files", "errors"}

// SaveRun stores run in one transaction, first removing any earlier run
// saved under the same name.
func (d *DB) SaveRun(ctx context.Context, run Run) (err error) {
	if run.ID == "" {
		return ErrNoRunID
	}
	if run.Name == "" {
		run.Name = run.ID
	}

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range runTables {
		q := fmt.Sprintf("DELETE FROM %s WHERE run_id IN (SELECT id FROM runs WHERE name = ? OR id = ?)", table)
		if _, err = tx.ExecContext(ctx, q, run.Name, run.ID); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM runs WHERE name = ? OR id = ?", run.Name, run.ID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO runs(id, name, search_url, started_at, finished_at, blocked) VALUES(?,?,?,?,?,?)`,
		run.ID, run.Name, nullIfEmpty(run.SearchURL), formatTime(run.StartedAt), formatTime(run.FinishedAt), boolToInt(run.Blocked))
	if err != nil {
		return err
	}

	for i, rec := range run.Search {
		var js string
		if js, err = recordJSON(rec); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO search_results(run_id, position, result_id, record) VALUES(?,?,?,?)`,
			run.ID, i, nullIfEmpty(rec.Text("id")), js); err != nil {
			return err
		}
	}

	for i, row := range run.Items {
		var js string
		if js, err = recordJSON(row.Record()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO items(run_id, position, item_id, request_error, resource_count, segment_count, record) VALUES(?,?,?,?,?,?,?)`,
			run.ID, i, nullIfEmpty(row.ItemID), nullIfEmpty(row.RequestError), row.ResourceCount, row.SegmentCount, js); err != nil {
			return err
		}
	}

	for i, row := range run.Resources {
		var js string
		if js, err = recordJSON(row.Record()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO resources(run_id, position, item_id, resource_input_url, resource_id, segment_count, record) VALUES(?,?,?,?,?,?,?)`,
			run.ID, i, row.ItemID, nullIfEmpty(row.ResourceInputURL), nullIfEmpty(row.ResourceID), row.SegmentCount, js); err != nil {
			return err
		}
	}

	for _, row := range run.SegmentFiles {
		var js string
		if js, err = recordJSON(row.Record()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO segment_files(run_id, item_id, resource_input_url, resource_id, segment_num, file_num, mimetype, url, record) VALUES(?,?,?,?,?,?,?,?,?)`,
			run.ID, row.ItemID, nullIfEmpty(row.ResourceInputURL), nullIfEmpty(row.ResourceID), row.SegmentNum, row.FileNum, nullIfEmpty(row.Mimetype), nullIfEmpty(row.URL), js); err != nil {
			return err
		}
	}

	for _, row := range run.ResourceFiles {
		if _, err = tx.ExecContext(ctx, `INSERT INTO resource_files(run_id, item_id, resource_id, source_field, url) VALUES(?,?,?,?,?)`,
			run.ID, row.ItemID, nullIfEmpty(row.ResourceID), row.SourceField, nullIfEmpty(row.URL)); err != nil {
			return err
		}
	}

	for _, e := range run.Errors {
		if _, err = tx.ExecContext(ctx, `INSERT INTO errors(run_id, phase, item_id, resource_id, message) VALUES(?,?,?,?,?)`,
			run.ID, e.Phase, nullIfEmpty(e.ItemID), nullIfEmpty(e.ResourceID), e.Message); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListErrors returns the error log of the run saved under name.
func (d *DB) ListErrors(ctx context.Context, name string) ([]ErrorRow, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT e.phase, e.item_id, e.resource_id, e.message
		FROM errors e JOIN runs r ON r.id = e.run_id
		WHERE r.name = ?
		ORDER BY e.id`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ErrorRow
	for rows.Next() {
		var (
			e                  ErrorRow
			itemID, resourceID sql.NullString
		)
		if err := rows.Scan(&e.Phase, &itemID, &resourceID, &e.Message); err != nil {
			return nil, err
		}
		e.ItemID, e.ResourceID = itemID.String, resourceID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// ItemIDs returns the item ids of the run saved under name, in row order.
// Error rows without an item id are skipped.
func (d *DB) ItemIDs(ctx context.Context, name string) ([]string, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT i.item_id
		FROM items i JOIN runs r ON r.id = i.run_id
		WHERE r.name = ? AND i.item_id IS NOT NULL
		ORDER BY i.position`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (d *DB) GetStats(ctx context.Context) ([]RunStats, error) {
	query := `
		SELECT
			r.id,
			r.name,
			r.started_at,
			r.blocked,
			(SELECT COUNT(*) FROM search_results WHERE run_id = r.id),
			(SELECT COUNT(*) FROM items WHERE run_id = r.id),
			(SELECT COUNT(*) FROM resources WHERE run_id = r.id),
			(SELECT COUNT(*) FROM segment_files WHERE run_id = r.id),
			(SELECT COUNT(*) FROM resource_files WHERE run_id = r.id),
			(SELECT COUNT(*) FROM errors WHERE run_id = r.id)
		FROM
			runs r
		ORDER BY
			r.started_at, r.name;
	`
	rows, err := d.sql.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []RunStats
	for rows.Next() {
		var (
			s         RunStats
			startedAt sql.NullString
			blocked   int
		)
		if err := rows.Scan(&s.ID, &s.Name, &startedAt, &blocked, &s.Search, &s.Items, &s.Resources, &s.SegmentFiles, &s.ResourceFiles, &s.Errors); err != nil {
			return nil, err
		}
		s.StartedAt = parseTime(startedAt.String)
		s.Blocked = blocked == 1
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}
