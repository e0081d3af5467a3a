package jobs

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/pkg/errors"
)

// Supported job store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS report_jobs (
		req_hash  TEXT PRIMARY KEY,
		status_id TEXT NOT NULL,
		message   TEXT NOT NULL DEFAULT '',
		progress  INTEGER NOT NULL DEFAULT 0,
		req_obj   TEXT NOT NULL,
		res_obj   TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS report_job_connections (
		req_hash   TEXT NOT NULL,
		connection TEXT NOT NULL,
		PRIMARY KEY (req_hash, connection)
	)`,
}

// SQLStore persists records in sqlite or postgres. Subscribers live in their own table keyed by
// (req_hash, connection) so adds and removes are single statements.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

// NewStore opens the store selected by driver. The memory driver ignores dsn.
func NewStore(driver, dsn string) (Store, error) {
	if driver == "" || driver == DriverMemory {
		return NewMemoryStore(), nil
	}
	return OpenSQLStore(driver, dsn)
}

// OpenSQLStore opens the database and creates the tables when missing.
func OpenSQLStore(driver, dsn string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, errors.Errorf("unsupported job store driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s job store", driver)
	}
	if driver == DriverSQLite {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY under fan-out
		db.SetMaxOpenConns(1)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "failed to create job store schema")
		}
	}
	return &SQLStore{db: db, driver: driver}, nil
}

// rebind rewrites ? placeholders into the bind style of the driver.
func (s *SQLStore) rebind(query string) string {
	return sqlx.Rebind(sqlx.BindType(s.driver), query)
}

// AddRequest upserts the record as PENDING, clearing the previous response.
func (s *SQLStore) AddRequest(ctx context.Context, hash string, request string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO report_jobs (req_hash, status_id, message, progress, req_obj, res_obj)
		VALUES (?, ?, '', 0, ?, NULL)
		ON CONFLICT (req_hash) DO UPDATE SET
			status_id = excluded.status_id,
			message = excluded.message,
			progress = excluded.progress,
			req_obj = excluded.req_obj,
			res_obj = NULL`),
		hash, string(StatusPending), request)
	return errors.Wrapf(err, "failed to add request %s", hash)
}

// GetRequest reads the record and its subscriber set.
func (s *SQLStore) GetRequest(ctx context.Context, hash string) (*Record, error) {
	r := &Record{ReqHash: hash}
	var status string
	var res sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT status_id, message, progress, req_obj, res_obj FROM report_jobs WHERE req_hash = ?`), hash).
		Scan(&status, &r.Message, &r.Progress, &r.ReqObj, &res)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read request %s", hash)
	}
	r.StatusID = Status(status)
	r.ResObj = res.String

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT connection FROM report_job_connections WHERE req_hash = ? ORDER BY connection`), hash)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read subscribers of %s", hash)
	}
	defer rows.Close()
	r.Connections = []string{}
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, errors.Wrapf(err, "failed to read subscribers of %s", hash)
		}
		r.Connections = append(r.Connections, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read subscribers of %s", hash)
	}
	return r, nil
}

// AddSubscriber inserts the (hash, addr) pair if it is not present.
func (s *SQLStore) AddSubscriber(ctx context.Context, hash string, addr string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO report_job_connections (req_hash, connection) VALUES (?, ?)
		ON CONFLICT (req_hash, connection) DO NOTHING`), hash, addr)
	return errors.Wrapf(err, "failed to add subscriber to %s", hash)
}

// RemoveSubscriber deletes the (hash, addr) pair.
func (s *SQLStore) RemoveSubscriber(ctx context.Context, hash string, addr string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM report_job_connections WHERE req_hash = ? AND connection = ?`), hash, addr)
	return errors.Wrapf(err, "failed to remove subscriber from %s", hash)
}

// UpdateStatus overwrites status, message and progress.
func (s *SQLStore) UpdateStatus(ctx context.Context, hash string, status Status, message string, progress int) error {
	return s.update(ctx, hash, s.rebind(
		`UPDATE report_jobs SET status_id = ?, message = ?, progress = ? WHERE req_hash = ?`),
		string(status), message, clampProgress(progress), hash)
}

// AddResponse stores the response body.
func (s *SQLStore) AddResponse(ctx context.Context, hash string, body string) error {
	return s.update(ctx, hash, s.rebind(`UPDATE report_jobs SET res_obj = ? WHERE req_hash = ?`), body, hash)
}

func (s *SQLStore) update(ctx context.Context, hash string, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "failed to update request %s", hash)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "failed to update request %s", hash)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
