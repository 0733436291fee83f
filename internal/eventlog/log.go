// Package eventlog implements C4: an append-only, durable, globally
// ordered record of every state-mutating fact in the engine. Grounded on
// the teacher's common/db.DB (pgxpool wrapper) and common/repository's
// query shape, backed by a single `engine_event` table.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5"

	"github.com/yawlcore/engine/common/db"
	"github.com/yawlcore/engine/internal/engineerr"
)

// Schema is the DDL for the event log table, applied by the engine's
// bootstrap dbInitHook (common/bootstrap.WithDBInitHook). Kept as an
// exported constant rather than a migrations framework — no migration
// library is present anywhere in the retrieved corpus, and a single
// append-only table needs none.
const Schema = `
CREATE TABLE IF NOT EXISTS engine_event (
	seq         BIGSERIAL PRIMARY KEY,
	case_id     TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	payload     JSONB NOT NULL DEFAULT '{}'::jsonb,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS engine_event_case_id_seq_idx ON engine_event (case_id, seq);
`

// Log is the durable event log, one per engine process.
type Log struct {
	db *db.DB
}

func New(database *db.DB) *Log {
	return &Log{db: database}
}

// Append writes one event and returns its assigned sequence number. If tx
// is non-nil, the insert participates in the caller's transaction (the
// case registry wraps case-mutating operations in a DB transaction so the
// append is atomic with other per-operation bookkeeping); otherwise it is
// auto-committed. A failure here is always an engineerr.LogError per
// spec.md §4.4/§7 — the caller must treat it as fatal for the operation.
func (l *Log) Append(ctx context.Context, tx pgx.Tx, caseID string, eventType EventType, payload map[string]interface{}) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, engineerr.LogFailure(fmt.Errorf("marshal payload: %w", err))
	}

	const q = `INSERT INTO engine_event (case_id, event_type, payload) VALUES ($1, $2, $3) RETURNING seq`

	var seq int64
	if tx != nil {
		err = tx.QueryRow(ctx, q, caseID, string(eventType), raw).Scan(&seq)
	} else {
		err = l.db.Pool.QueryRow(ctx, q, caseID, string(eventType), raw).Scan(&seq)
	}
	if err != nil {
		return 0, engineerr.LogFailure(err)
	}
	return seq, nil
}

// Replay returns a forward, sequence-ordered iterator over every event
// with sequence >= fromSeq. Restartable from any sequence number.
func (l *Log) Replay(ctx context.Context, fromSeq int64) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		const q = `SELECT seq, case_id, event_type, payload, recorded_at FROM engine_event WHERE seq >= $1 ORDER BY seq ASC`
		rows, err := l.db.Pool.Query(ctx, q, fromSeq)
		if err != nil {
			yield(Event{}, engineerr.Wrap(engineerr.KindLog, "replay query", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				ev      Event
				rawType string
				raw     []byte
			)
			if err := rows.Scan(&ev.Sequence, &ev.CaseID, &rawType, &raw, &ev.Timestamp); err != nil {
				yield(Event{}, engineerr.Wrap(engineerr.KindLog, "scan event row", err))
				return
			}
			ev.Type = EventType(rawType)
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &ev.Payload); err != nil {
					yield(Event{}, engineerr.Wrap(engineerr.KindLog, "unmarshal event payload", err))
					return
				}
			}
			if !yield(ev, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Event{}, engineerr.Wrap(engineerr.KindLog, "replay rows", err))
		}
	}
}

// ReplayCase returns only events for one case, in sequence order — used by
// the case registry's crash-recovery path.
func (l *Log) ReplayCase(ctx context.Context, caseID string, fromSeq int64) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		const q = `SELECT seq, case_id, event_type, payload, recorded_at FROM engine_event WHERE case_id = $1 AND seq >= $2 ORDER BY seq ASC`
		rows, err := l.db.Pool.Query(ctx, q, caseID, fromSeq)
		if err != nil {
			yield(Event{}, engineerr.Wrap(engineerr.KindLog, "replay case query", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				ev      Event
				rawType string
				raw     []byte
			)
			if err := rows.Scan(&ev.Sequence, &ev.CaseID, &rawType, &raw, &ev.Timestamp); err != nil {
				yield(Event{}, engineerr.Wrap(engineerr.KindLog, "scan event row", err))
				return
			}
			ev.Type = EventType(rawType)
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &ev.Payload); err != nil {
					yield(Event{}, engineerr.Wrap(engineerr.KindLog, "unmarshal event payload", err))
					return
				}
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// LatestSequence returns the highest sequence number written so far, or 0
// if the log is empty.
func (l *Log) LatestSequence(ctx context.Context) (int64, error) {
	const q = `SELECT COALESCE(MAX(seq), 0) FROM engine_event`
	var seq int64
	if err := l.db.Pool.QueryRow(ctx, q).Scan(&seq); err != nil {
		return 0, engineerr.Wrap(engineerr.KindLog, "latest sequence", err)
	}
	return seq, nil
}

// BeginTx starts a transaction for callers (the case registry) that need
// to append an event atomically alongside other per-operation writes.
func (l *Log) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := l.db.Pool.Begin(ctx)
	if err != nil {
		return nil, engineerr.LogFailure(err)
	}
	return tx, nil
}
