package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteRepository persists device snapshots to the snapshot store.
//
// The store is best-effort (spec: crash between mutation and write is
// acceptable); writes are debounced by the bridge and performed off the
// event path. Loads happen once at startup to seed the registry.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open database.
// The schema is expected to exist (database.Migrate creates it).
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save upserts the given snapshots in one transaction.
// An empty slice is a no-op.
func (r *SQLiteRepository) Save(ctx context.Context, snapshots []Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning snapshot transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op if committed

	const query = `
INSERT INTO device_snapshots (snr, kind, position, tilt, brightness, last_brightness, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(snr) DO UPDATE SET
    kind            = excluded.kind,
    position        = excluded.position,
    tilt            = excluded.tilt,
    brightness      = excluded.brightness,
    last_brightness = excluded.last_brightness,
    updated_at      = excluded.updated_at
`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing snapshot upsert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // Read-only cleanup

	for _, s := range snapshots {
		_, err := stmt.ExecContext(ctx,
			s.SNR,
			string(s.Kind),
			s.Position,
			nullableInt(s.Tilt),
			nullableInt(s.Brightness),
			nullableInt(s.LastBrightness),
			s.UpdatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("upserting snapshot for %s: %w", s.SNR, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshots: %w", err)
	}
	return nil
}

// Load reads all persisted snapshots.
// An empty store returns an empty slice, not an error (fresh registry).
func (r *SQLiteRepository) Load(ctx context.Context) ([]Snapshot, error) {
	const query = `
SELECT snr, kind, position, tilt, brightness, last_brightness, updated_at
FROM device_snapshots
ORDER BY snr
`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cleanup

	var snapshots []Snapshot
	for rows.Next() {
		var (
			s          Snapshot
			kind       string
			tilt       sql.NullInt64
			brightness sql.NullInt64
			lastBright sql.NullInt64
			updatedAt  string
		)
		if err := rows.Scan(&s.SNR, &kind, &s.Position, &tilt, &brightness, &lastBright, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}

		s.Kind = Kind(kind)
		s.Tilt = int64PtrToIntPtr(tilt)
		s.Brightness = int64PtrToIntPtr(brightness)
		s.LastBrightness = int64PtrToIntPtr(lastBright)
		if ts, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
			s.UpdatedAt = ts
		}

		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}

	return snapshots, nil
}

// nullableInt converts an optional int to a driver-friendly value.
func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// int64PtrToIntPtr converts a scanned nullable column to *int.
func int64PtrToIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
