// Package checkpoint persists the last committed batch id per stream in
// PostgreSQL and records a per-batch audit row in the same transaction.
// The checkpoint is advanced only after a batch's output is durably written;
// a crash before the advance causes full batch reprocessing on restart.
package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/VenketeszRR/fraudlens/pkg/errors"
	"github.com/VenketeszRR/fraudlens/pkg/postgres"
)

// Manager reads and advances the batch checkpoint for one stream.
//
// It requires the `batch_checkpoints` and `batch_audit` tables:
//
//	CREATE TABLE batch_checkpoints (
//	    stream_id            TEXT PRIMARY KEY,
//	    last_committed_batch TEXT NOT NULL,
//	    committed_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//
//	CREATE TABLE batch_audit (
//	    id                  BIGSERIAL PRIMARY KEY,
//	    stream_id           TEXT NOT NULL,
//	    batch_id            TEXT NOT NULL,
//	    records             INTEGER NOT NULL,
//	    detections          INTEGER NOT NULL,
//	    elevated_risk       INTEGER NOT NULL,
//	    low_value_high_freq INTEGER NOT NULL,
//	    gender_imbalance    INTEGER NOT NULL,
//	    committed_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Manager struct {
	db       *postgres.Client
	streamID string
	logger   *slog.Logger
}

// Audit summarizes a committed batch for the audit trail.
type Audit struct {
	Records          int
	Detections       int
	ElevatedRisk     int
	LowValueHighFreq int
	GenderImbalance  int
}

// NewManager creates a Manager for the given stream.
func NewManager(db *postgres.Client, streamID string) *Manager {
	return &Manager{
		db:       db,
		streamID: streamID,
		logger:   slog.Default().With("component", "checkpoint", "stream", streamID),
	}
}

// EnsureSchema creates the checkpoint and audit tables if they do not exist.
// Called once at startup; failure is fatal to the process.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS batch_checkpoints (
			stream_id            TEXT PRIMARY KEY,
			last_committed_batch TEXT NOT NULL,
			committed_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS batch_audit (
			id                  BIGSERIAL PRIMARY KEY,
			stream_id           TEXT NOT NULL,
			batch_id            TEXT NOT NULL,
			records             INTEGER NOT NULL,
			detections          INTEGER NOT NULL,
			elevated_risk       INTEGER NOT NULL,
			low_value_high_freq INTEGER NOT NULL,
			gender_imbalance    INTEGER NOT NULL,
			committed_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.DB.ExecContext(ctx, stmt); err != nil {
			return apperrors.Newf(apperrors.ErrStoreSchemaUnusable, true, "creating checkpoint schema: %v", err)
		}
	}
	return nil
}

// LastCommitted returns the last committed batch id for the stream. The bool
// is false when no batch has ever committed.
func (m *Manager) LastCommitted(ctx context.Context) (string, bool, error) {
	var batchID string
	err := m.db.DB.QueryRowContext(ctx,
		`SELECT last_committed_batch FROM batch_checkpoints WHERE stream_id = $1`,
		m.streamID,
	).Scan(&batchID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying checkpoint: %w", err)
	}
	return batchID, true, nil
}

// Advance records batchID as the last committed batch and inserts its audit
// row, both in one transaction. It must only be called after the batch's
// output units are durably written.
func (m *Manager) Advance(ctx context.Context, batchID string, audit Audit) error {
	now := time.Now().UTC()
	err := m.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO batch_checkpoints (stream_id, last_committed_batch, committed_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (stream_id)
			 DO UPDATE SET last_committed_batch = EXCLUDED.last_committed_batch,
			               committed_at = EXCLUDED.committed_at`,
			m.streamID, batchID, now,
		); err != nil {
			return fmt.Errorf("advancing checkpoint: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO batch_audit
			 (stream_id, batch_id, records, detections, elevated_risk, low_value_high_freq, gender_imbalance, committed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			m.streamID, batchID, audit.Records, audit.Detections,
			audit.ElevatedRisk, audit.LowValueHighFreq, audit.GenderImbalance, now,
		); err != nil {
			return fmt.Errorf("recording batch audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info("checkpoint advanced",
		"batch", batchID,
		"records", audit.Records,
		"detections", audit.Detections,
	)
	return nil
}

// RecentAudits returns the last N audit rows for the stream, newest first.
func (m *Manager) RecentAudits(ctx context.Context, limit int) ([]Audit, error) {
	rows, err := m.db.DB.QueryContext(ctx,
		`SELECT records, detections, elevated_risk, low_value_high_freq, gender_imbalance
		 FROM batch_audit WHERE stream_id = $1 ORDER BY committed_at DESC LIMIT $2`,
		m.streamID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing batch audits: %w", err)
	}
	defer rows.Close()

	var audits []Audit
	for rows.Next() {
		var a Audit
		if err := rows.Scan(&a.Records, &a.Detections, &a.ElevatedRisk, &a.LowValueHighFreq, &a.GenderImbalance); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}
