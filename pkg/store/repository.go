package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/khryptorgraphics/imagepipe/pkg/cache"
)

// ResumableRepository persists cache.ResumableData past process restarts,
// giving the in-memory cache.ResumableStore (spec.md §4.7) a durable
// backstop: a partial download interrupted by a process crash can still be
// resumed after restart instead of refetched from byte zero.
type ResumableRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewResumableRepository(db *sqlx.DB, logger *slog.Logger) *ResumableRepository {
	return &ResumableRepository{db: db, logger: logger}
}

type resumableRow struct {
	CacheKey      string `db:"cache_key"`
	ResumedData   []byte `db:"resumed_data"`
	ResumedEtag   string `db:"resumed_etag"`
	ResumedLength int64  `db:"resumed_length"`
}

// Save upserts the resumable state for cacheKey.
func (r *ResumableRepository) Save(ctx context.Context, cacheKey string, data cache.ResumableData) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO resumable_data (cache_key, resumed_data, resumed_etag, resumed_length, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (cache_key) DO UPDATE SET
			resumed_data = EXCLUDED.resumed_data,
			resumed_etag = EXCLUDED.resumed_etag,
			resumed_length = EXCLUDED.resumed_length,
			updated_at = now()
	`, cacheKey, data.Bytes, data.Validator, len(data.Bytes))
	return err
}

// Load fetches the resumable state for cacheKey, if any was persisted.
func (r *ResumableRepository) Load(ctx context.Context, cacheKey string) (cache.ResumableData, bool, error) {
	var row resumableRow
	err := r.db.GetContext(ctx, &row, `
		SELECT cache_key, resumed_data, resumed_etag, resumed_length
		FROM resumable_data WHERE cache_key = $1
	`, cacheKey)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.ResumableData{}, false, nil
	}
	if err != nil {
		return cache.ResumableData{}, false, err
	}
	return cache.ResumableData{Bytes: row.ResumedData, Validator: row.ResumedEtag}, true, nil
}

// Delete removes the persisted resumable state once a fetch completes or is
// confirmed non-resumable.
func (r *ResumableRepository) Delete(ctx context.Context, cacheKey string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM resumable_data WHERE cache_key = $1`, cacheKey)
	return err
}

// PrefetchRepository records a history of prefetch attempts (SPEC_FULL.md
// §4 supplement to spec.md §4.9), letting an operator audit what the
// Prefetcher has fetched and how it performed.
type PrefetchRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewPrefetchRepository(db *sqlx.DB, logger *slog.Logger) *PrefetchRepository {
	return &PrefetchRepository{db: db, logger: logger}
}

// PrefetchEvent is one started-or-finished prefetch attempt.
type PrefetchEvent struct {
	ID           int64
	LoadKey      string
	URL          string
	Priority     int
	Succeeded    sql.NullBool
	ErrorMessage string
	BytesFetched int64
}

// RecordStart logs the beginning of a prefetch attempt and returns its ID
// so the caller can report completion via RecordFinish.
func (r *PrefetchRepository) RecordStart(ctx context.Context, loadKey, url string, priority int) (int64, error) {
	var id int64
	err := r.db.GetContext(ctx, &id, `
		INSERT INTO prefetch_history (load_key, url, priority)
		VALUES ($1, $2, $3)
		RETURNING id
	`, loadKey, url, priority)
	if err != nil {
		r.logger.Warn("failed to record prefetch start", "error", err, "load_key", loadKey)
	}
	return id, err
}

// RecordFinish marks a previously started prefetch attempt as finished.
func (r *PrefetchRepository) RecordFinish(ctx context.Context, id int64, succeeded bool, errMsg string, bytesFetched int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE prefetch_history
		SET finished_at = now(), succeeded = $2, error_message = $3, bytes_fetched = $4
		WHERE id = $1
	`, id, succeeded, errMsg, bytesFetched)
	return err
}

// Recent returns the most recent prefetch history entries, newest first.
func (r *PrefetchRepository) Recent(ctx context.Context, limit int) ([]PrefetchEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, load_key, url, priority, succeeded, error_message, bytes_fetched
		FROM prefetch_history ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []PrefetchEvent
	for rows.Next() {
		var (
			ev      PrefetchEvent
			errMsg  sql.NullString
			bytesFt sql.NullInt64
		)
		if err := rows.Scan(&ev.ID, &ev.LoadKey, &ev.URL, &ev.Priority, &ev.Succeeded, &errMsg, &bytesFt); err != nil {
			return nil, err
		}
		ev.ErrorMessage = errMsg.String
		ev.BytesFetched = bytesFt.Int64
		events = append(events, ev)
	}
	return events, rows.Err()
}
