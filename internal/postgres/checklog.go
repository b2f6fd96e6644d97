package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dukerupert/evatr/internal/domain"
	"github.com/dukerupert/evatr/internal/evatr"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CheckLog is a stored eVatR response.
type CheckLog struct {
	ID uuid.UUID `json:"id"`

	RecordID   string        `json:"record_id"`
	RecordType string        `json:"record_type"`
	Backend    evatr.Backend `json:"backend"`
	Success    bool          `json:"success"`
	Valid      bool          `json:"valid"`
	StatusCode string        `json:"status_code"`
	Response   string        `json:"response"`
	CheckedAt  time.Time     `json:"checked_at"`
}

const insertCheckLog = `
INSERT INTO evatr_check_logs (
    id, record_id, record_type, backend, success, valid, status_code, response, checked_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const listCheckLogs = `
SELECT id, record_id, record_type, backend, success, valid, status_code, response, checked_at
FROM evatr_check_logs
WHERE record_type = $1 AND record_id = $2
ORDER BY checked_at DESC
LIMIT $3`

const latestCheckLog = `
SELECT id, record_id, record_type, backend, success, valid, status_code, response, checked_at
FROM evatr_check_logs
WHERE record_type = $1 AND record_id = $2
ORDER BY checked_at DESC
LIMIT 1`

// CheckLogStore persists eVatR check logs. It implements evatr.Recorder.
type CheckLogStore struct {
	db    DBTX
	newID func() uuid.UUID
}

// Compile-time check that CheckLogStore implements evatr.Recorder.
var _ evatr.Recorder = (*CheckLogStore)(nil)

// NewCheckLogStore creates a new PostgreSQL-backed check log store.
func NewCheckLogStore(db DBTX) *CheckLogStore {
	return &CheckLogStore{
		db:    db,
		newID: uuid.New,
	}
}

// Record stores entry. A zero CheckedAt is replaced by the current time.
func (s *CheckLogStore) Record(ctx context.Context, entry evatr.LogEntry) error {
	checkedAt := entry.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now()
	}

	_, err := s.db.Exec(ctx, insertCheckLog,
		s.newID(),
		entry.RecordID,
		entry.RecordType,
		string(entry.Backend),
		entry.Success,
		entry.Valid,
		entry.StatusCode,
		entry.Response,
		checkedAt.UTC(),
	)
	if err != nil {
		return domain.Internal(err, "checklog.record", "failed to save check log")
	}
	return nil
}

// ListByRecord returns the most recent logs of a record, newest first.
func (s *CheckLogStore) ListByRecord(ctx context.Context, recordType, recordID string, limit int) ([]CheckLog, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, listCheckLogs, recordType, recordID, limit)
	if err != nil {
		return nil, domain.Internal(err, "checklog.list", "failed to list check logs")
	}
	defer rows.Close()

	var logs []CheckLog
	for rows.Next() {
		log, err := scanCheckLog(rows)
		if err != nil {
			return nil, domain.Internal(err, "checklog.list", "failed to read check log")
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "checklog.list", "failed to list check logs")
	}

	return logs, nil
}

// Latest returns the newest log of a record.
func (s *CheckLogStore) Latest(ctx context.Context, recordType, recordID string) (CheckLog, error) {
	log, err := scanCheckLog(s.db.QueryRow(ctx, latestCheckLog, recordType, recordID))
	if errors.Is(err, pgx.ErrNoRows) {
		return CheckLog{}, domain.NotFound("checklog.latest", "check log", recordID)
	}
	if err != nil {
		return CheckLog{}, domain.Internal(err, "checklog.latest", "failed to load check log")
	}
	return log, nil
}

func scanCheckLog(row pgx.Row) (CheckLog, error) {
	var (
		log     CheckLog
		backend string
	)
	err := row.Scan(
		&log.ID,
		&log.RecordID,
		&log.RecordType,
		&backend,
		&log.Success,
		&log.Valid,
		&log.StatusCode,
		&log.Response,
		&log.CheckedAt,
	)
	log.Backend = evatr.Backend(backend)
	return log, err
}
