// Package store persists job records so run history survives restarts.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coin-research/internal/config"
	"github.com/sells-group/coin-research/internal/model"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status    model.JobStatus `json:"status,omitempty"`
	SubjectID string          `json:"subject_id,omitempty"`
	Limit     int             `json:"limit,omitempty"`
}

// JobStore is the persistence interface for job records.
type JobStore interface {
	// SaveJob inserts or replaces a job record.
	SaveJob(ctx context.Context, job model.JobRecord) error
	GetJob(ctx context.Context, jobID string) (*model.JobRecord, error)
	// ListJobs returns jobs newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]model.JobRecord, error)

	Migrate(ctx context.Context) error
	Close() error
}

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = eris.New("job not found")

const defaultListLimit = 100

// Open returns the store selected by cfg.Driver, migrated and ready. An
// empty driver means no persistence and returns nil.
func Open(ctx context.Context, cfg config.StoreConfig) (JobStore, error) {
	var (
		st  JobStore
		err error
	)
	switch cfg.Driver {
	case "":
		return nil, nil
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "coin-research.db"
		}
		st, err = NewSQLite(dsn)
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func listLimit(f JobFilter) int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

func marshalResult(r *model.RunResult) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	return b, eris.Wrap(err, "store: marshal result")
}

func unmarshalResult(b []byte) (*model.RunResult, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var r model.RunResult
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal result")
	}
	return &r, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
