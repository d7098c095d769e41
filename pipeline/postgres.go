package pipeline

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/propfetch/zooplafetch/models"
)

// PostgresWriter persists listing rows to PostgreSQL. The headline columns
// are queryable directly; the full record rides along as JSONB.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection, waits for the database to come up,
// runs schema migrations, and returns a ready-to-use writer.
func NewPostgresWriter(dsn string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pw := &PostgresWriter{db: db}
	if err := pw.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return pw, nil
}

func (pw *PostgresWriter) migrate() error {
	_, err := pw.db.Exec(`
		CREATE TABLE IF NOT EXISTS listings (
			listing_id         TEXT PRIMARY KEY,
			url                TEXT NOT NULL,
			display_address    TEXT NOT NULL DEFAULT '',
			outcode            TEXT NOT NULL DEFAULT '',
			price              NUMERIC(12,2),
			num_beds           INTEGER,
			num_baths          INTEGER,
			property_type      TEXT NOT NULL DEFAULT '',
			total_sq_footage   NUMERIC(10,1),
			area_confidence    TEXT NOT NULL DEFAULT 'none',
			pounds_per_sq_foot NUMERIC(10,2),
			record             JSONB NOT NULL,
			scraped_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_listings_outcode ON listings(outcode);
		CREATE INDEX IF NOT EXISTS idx_listings_price   ON listings(price);
		CREATE INDEX IF NOT EXISTS idx_listings_beds    ON listings(num_beds);
	`)
	return err
}

// Write upserts listing rows keyed by listing id, so re-running a query
// refreshes existing rows instead of duplicating them.
func (pw *PostgresWriter) Write(records []*models.ListingRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := pw.db.Begin()
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO listings (
			listing_id, url, display_address, outcode, price, num_beds,
			num_baths, property_type, total_sq_footage, area_confidence,
			pounds_per_sq_foot, record, scraped_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (listing_id) DO UPDATE SET
			url                = EXCLUDED.url,
			display_address    = EXCLUDED.display_address,
			outcode            = EXCLUDED.outcode,
			price              = EXCLUDED.price,
			num_beds           = EXCLUDED.num_beds,
			num_baths          = EXCLUDED.num_baths,
			property_type      = EXCLUDED.property_type,
			total_sq_footage   = EXCLUDED.total_sq_footage,
			area_confidence    = EXCLUDED.area_confidence,
			pounds_per_sq_foot = EXCLUDED.pounds_per_sq_foot,
			record             = EXCLUDED.record,
			scraped_at         = EXCLUDED.scraped_at
	`)
	if err != nil {
		return fmt.Errorf("postgres: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		blob, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("postgres: marshal record %s: %w", record.ListingID, err)
		}
		_, err = stmt.Exec(
			record.ListingID,
			record.URL,
			deref(record.DisplayAddress),
			deref(record.Outcode),
			record.Price,
			record.NumBeds,
			record.NumBaths,
			deref(record.PropertyType),
			record.TotalSqFootage,
			string(record.AreaConfidence),
			record.PoundsPerSqFoot,
			blob,
			record.ScrapedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: upsert %s: %w", record.ListingID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}

// Validate checks the table holds at least one row.
func (pw *PostgresWriter) Validate() error {
	var count int
	if err := pw.db.QueryRow("SELECT COUNT(*) FROM listings").Scan(&count); err != nil {
		return fmt.Errorf("postgres: count rows: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("listings table is empty")
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
