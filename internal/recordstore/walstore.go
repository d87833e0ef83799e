package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arknet/commuter-reservoir/internal/model"
)

// WALEntry is one durable row awaiting delivery to the record store.
type WALEntry struct {
	ID        int64
	Operation string // "insert", "mark_boarded", "mark_expired"
	Payload   json.RawMessage
	CreatedAt time.Time
	Attempts  int
}

// WALStore is a Postgres-backed write-ahead log for record-store
// mutations: every Insert/MarkBoarded/MarkExpired call also appends a
// durable row here before (or alongside) the best-effort HTTP write,
// so a process restart can replay anything the in-flight queue lost.
// Batch leasing uses SELECT ... FOR UPDATE SKIP LOCKED so multiple
// worker processes could drain the same table without double-sending
// a row — a pessimistic-locking idiom, used here to serialize
// concurrent WAL consumers.
type WALStore struct {
	pool *pgxpool.Pool
}

// NewWALStore wraps an existing pool. Call EnsureSchema once at
// startup to create the table if it does not already exist.
func NewWALStore(pool *pgxpool.Pool) *WALStore {
	return &WALStore{pool: pool}
}

// EnsureSchema creates the wal_entries table if absent.
func (w *WALStore) EnsureSchema(ctx context.Context) error {
	_, err := w.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS wal_entries (
			id SERIAL PRIMARY KEY,
			operation TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			attempts INT NOT NULL DEFAULT 0,
			delivered BOOLEAN NOT NULL DEFAULT false
		)
	`)
	if err != nil {
		return fmt.Errorf("walstore: ensure schema: %w", err)
	}
	return nil
}

// Append durably records one pending mutation.
func (w *WALStore) Append(ctx context.Context, operation string, commuter model.Commuter) error {
	payload, err := json.Marshal(toPayload(commuter))
	if err != nil {
		return fmt.Errorf("walstore: marshal payload: %w", err)
	}
	_, err = w.pool.Exec(ctx, `
		INSERT INTO wal_entries (operation, payload) VALUES ($1, $2)
	`, operation, payload)
	if err != nil {
		return fmt.Errorf("walstore: append: %w", err)
	}
	return nil
}

// LeaseBatch locks up to limit undelivered rows for exclusive
// processing by this worker, skipping rows already locked by another
// concurrent drain (SKIP LOCKED), and returns them uncommitted with a
// commit closure. Calling it marks every leased row delivered and
// commits the transaction; the caller must call it to end the lease.
func (w *WALStore) LeaseBatch(ctx context.Context, limit int) ([]WALEntry, func(ctx context.Context) error, error) {
	tx, err := w.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, nil, fmt.Errorf("walstore: begin tx: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, operation, payload, created_at, attempts
		FROM wal_entries
		WHERE delivered = false
		ORDER BY id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		tx.Rollback(ctx)
		return nil, nil, fmt.Errorf("walstore: lease batch: %w", err)
	}

	var entries []WALEntry
	for rows.Next() {
		var e WALEntry
		if err := rows.Scan(&e.ID, &e.Operation, &e.Payload, &e.CreatedAt, &e.Attempts); err != nil {
			rows.Close()
			tx.Rollback(ctx)
			return nil, nil, fmt.Errorf("walstore: scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	rows.Close()

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	commit := func(ctx context.Context) error {
		if len(ids) > 0 {
			if _, err := tx.Exec(ctx, `UPDATE wal_entries SET delivered = true WHERE id = ANY($1)`, ids); err != nil {
				tx.Rollback(ctx)
				return fmt.Errorf("walstore: mark delivered: %w", err)
			}
		}
		return tx.Commit(ctx)
	}

	return entries, commit, nil
}

// PruneDelivered deletes delivered rows older than olderThan, keeping
// the table from growing unbounded.
func (w *WALStore) PruneDelivered(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := w.pool.Exec(ctx, `
		DELETE FROM wal_entries
		WHERE delivered = true AND created_at < $1
	`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("walstore: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}
