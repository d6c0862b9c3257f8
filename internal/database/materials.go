package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/materials-scraper/internal/events"
	"github.com/maltedev/materials-scraper/internal/models"
)

// ErrMaterialNotFound is returned by GetMaterial for an unknown key.
var ErrMaterialNotFound = errors.New("material not found")

const schema = `
CREATE TABLE IF NOT EXISTS materials (
	key             TEXT PRIMARY KEY,
	brand           TEXT NOT NULL,
	name            TEXT NOT NULL,
	material_type   TEXT NOT NULL,
	record          JSONB NOT NULL,
	last_scraped_at TIMESTAMPTZ NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS materials_brand_idx ON materials (brand);
CREATE INDEX IF NOT EXISTS materials_type_idx ON materials (material_type);`

// EnsureSchema creates the materials, outbox and run history tables when
// missing.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{schema, outboxSchema, runsSchema} {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// UpsertResult counts rows written by UpsertMaterials.
type UpsertResult struct {
	Inserted int
	Updated  int
	Queued   int
}

// UpsertMaterials mirrors records into the materials table and queues
// changes in the outbox, all in a single transaction. Either everything
// is written or nothing is.
func (db *DB) UpsertMaterials(ctx context.Context, records []models.MaterialRecord, changes []events.Event) (UpsertResult, error) {
	var res UpsertResult
	if len(records) == 0 && len(changes) == 0 {
		return res, nil
	}

	outbox := NewOutboxRepository(db)
	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		for i := range records {
			inserted, err := upsertMaterial(ctx, tx, &records[i])
			if err != nil {
				return err
			}
			if inserted {
				res.Inserted++
			} else {
				res.Updated++
			}
		}

		for _, change := range changes {
			event, err := NewOutboxEvent(change)
			if err != nil {
				return err
			}
			if err := outbox.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
			res.Queued++
		}
		return nil
	})
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to upsert materials: %w", err)
	}

	return res, nil
}

func upsertMaterial(ctx context.Context, tx pgx.Tx, rec *models.MaterialRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to marshal material %q: %w", rec.Key, err)
	}

	query := `
		INSERT INTO materials (key, brand, name, material_type, record, last_scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			brand = EXCLUDED.brand,
			name = EXCLUDED.name,
			material_type = EXCLUDED.material_type,
			record = EXCLUDED.record,
			last_scraped_at = EXCLUDED.last_scraped_at,
			updated_at = CURRENT_TIMESTAMP
		RETURNING (xmax = 0) AS inserted`

	var inserted bool
	err = tx.QueryRow(ctx, query,
		rec.Key, rec.Brand, rec.Name, string(rec.MaterialType), data, rec.LastScrapedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert material %q: %w", rec.Key, err)
	}

	return inserted, nil
}

// GetMaterial loads one mirrored record by stable key.
func (db *DB) GetMaterial(ctx context.Context, key string) (*models.MaterialRecord, error) {
	var data []byte
	err := db.pool.QueryRow(ctx, `SELECT record FROM materials WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMaterialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get material: %w", err)
	}

	var rec models.MaterialRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode material %q: %w", key, err)
	}
	return &rec, nil
}

// ListMaterials returns mirrored records ordered by key, optionally
// restricted to one material type.
func (db *DB) ListMaterials(ctx context.Context, t models.MaterialType) ([]models.MaterialRecord, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT record FROM materials
		WHERE $1 = '' OR material_type = $1
		ORDER BY key`, string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to list materials: %w", err)
	}
	defer rows.Close()

	var out []models.MaterialRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan material: %w", err)
		}
		var rec models.MaterialRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode material: %w", err)
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}
