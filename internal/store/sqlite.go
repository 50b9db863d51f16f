package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/coin-research/internal/model"
)

// SQLiteStore implements JobStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id     TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	status     TEXT NOT NULL,
	start_time INTEGER NOT NULL,
	end_time   INTEGER,
	result     TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_subject ON jobs(subject_id);
CREATE INDEX IF NOT EXISTS idx_jobs_start_time ON jobs(start_time);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveJob(ctx context.Context, job model.JobRecord) error {
	resultJSON, err := marshalResult(job.Result)
	if err != nil {
		return err
	}
	var end sql.NullInt64
	if job.EndTime != nil {
		end = sql.NullInt64{Int64: job.EndTime.UnixNano(), Valid: true}
	}
	var result sql.NullString
	if resultJSON != nil {
		result = sql.NullString{String: string(resultJSON), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, subject_id, status, start_time, end_time, result)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET
		   subject_id = excluded.subject_id,
		   status = excluded.status,
		   end_time = excluded.end_time,
		   result = excluded.result`,
		job.JobID, job.SubjectID, string(job.Status), job.StartTime.UnixNano(), end, result,
	)
	return eris.Wrapf(err, "sqlite: save job %s", job.JobID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.JobRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, subject_id, status, start_time, end_time, result FROM jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get job %s", jobID)
	}
	return job, err
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.JobRecord, error) {
	query := `SELECT job_id, subject_id, status, start_time, end_time, result FROM jobs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.SubjectID != "" {
		query += ` AND subject_id = ?`
		args = append(args, filter.SubjectID)
	}
	query += ` ORDER BY start_time DESC LIMIT ?`
	args = append(args, listLimit(filter))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.JobRecord, error) {
	var (
		job    model.JobRecord
		status string
		start  int64
		end    sql.NullInt64
		result sql.NullString
	)
	if err := row.Scan(&job.JobID, &job.SubjectID, &status, &start, &end, &result); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	job.Status = model.JobStatus(status)
	job.StartTime = time.Unix(0, start).UTC()
	if end.Valid {
		t := time.Unix(0, end.Int64).UTC()
		job.EndTime = &t
	}
	if result.Valid {
		r, err := unmarshalResult([]byte(result.String))
		if err != nil {
			return nil, err
		}
		job.Result = r
	}
	return &job, nil
}
