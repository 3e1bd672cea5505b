// Package sink persists enriched records. Every sink appends one batch at a
// time and returns only after the batch is durable.
package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pevans/newsharvest"
)

// ErrClosed is returned when appending to a closed sink.
var ErrClosed = errors.New("sink is closed")

// SQLite stores records in a SQLite database, one transaction per batch.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLite{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the records table if it doesn't exist.
func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL,
		subcategory TEXT NOT NULL,
		title TEXT NOT NULL,
		subtitle TEXT NOT NULL,
		published_at TEXT NOT NULL,
		url TEXT NOT NULL,
		images TEXT NOT NULL,
		authors TEXT NOT NULL,
		text_blocks TEXT NOT NULL,
		partial INTEGER NOT NULL DEFAULT 0,
		fetched_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_topic ON records (category, subcategory);
	`

	_, err := s.db.Exec(schema)
	return err
}

// AppendBatch inserts records in a single transaction. Either the whole
// batch is stored or none of it.
func (s *SQLite) AppendBatch(ctx context.Context, records []newsharvest.EnrichedRecord) error {
	if s.db == nil {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (
			record_id, category, subcategory, title, subtitle, published_at,
			url, images, authors, text_blocks, partial, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		images, authors, textBlocks, err := encodeSequences(r)
		if err != nil {
			return err
		}

		_, err = stmt.ExecContext(ctx,
			r.ID.String(),
			r.Category,
			r.Subcategory,
			r.Title,
			r.Subtitle,
			r.PublishedAt,
			r.URL,
			images,
			authors,
			textBlocks,
			r.Partial,
			formatTime(r.FetchedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert record %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	Category    string
	Subcategory string
	Limit       int
}

const selectRecords = `
	SELECT record_id, category, subcategory, title, subtitle, published_at,
	       url, images, authors, text_blocks, partial, fetched_at
	FROM records
`

// List returns stored records in insertion order.
func (s *SQLite) List(ctx context.Context, filter Filter) ([]newsharvest.EnrichedRecord, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	query := selectRecords + `
		WHERE (? = '' OR category = ?) AND (? = '' OR subcategory = ?)
		ORDER BY seq
	`
	args := []any{filter.Category, filter.Category, filter.Subcategory, filter.Subcategory}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []newsharvest.EnrichedRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return records, nil
}

// Get retrieves a record by its ID. It returns nil without error when the
// record does not exist.
func (s *SQLite) Get(ctx context.Context, id uuid.UUID) (*newsharvest.EnrichedRecord, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	row := s.db.QueryRowContext(ctx, selectRecords+" WHERE record_id = ?", id.String())
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Count returns the number of stored records.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// scanRecord reads one row of selectRecords from a *sql.Row or *sql.Rows.
func scanRecord(row interface{ Scan(dest ...any) error }) (newsharvest.EnrichedRecord, error) {
	var r newsharvest.EnrichedRecord
	var idStr, images, authors, textBlocks, fetchedAt string

	err := row.Scan(
		&idStr, &r.Category, &r.Subcategory, &r.Title, &r.Subtitle, &r.PublishedAt,
		&r.URL, &images, &authors, &textBlocks, &r.Partial, &fetchedAt,
	)
	if err != nil {
		return r, fmt.Errorf("failed to scan record: %w", err)
	}

	if r.ID, err = uuid.Parse(idStr); err != nil {
		return r, fmt.Errorf("failed to parse record ID: %w", err)
	}
	if err := decodeSequences(&r, images, authors, textBlocks); err != nil {
		return r, err
	}
	r.FetchedAt = parseTime(fetchedAt)
	return r, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func encodeSequences(r newsharvest.EnrichedRecord) (string, string, string, error) {
	var out [3]string
	for i, seq := range [][]string{r.Images, r.Authors, r.TextBlocks} {
		if seq == nil {
			seq = []string{}
		}
		data, err := json.Marshal(seq)
		if err != nil {
			return "", "", "", fmt.Errorf("failed to marshal record %s: %w", r.ID, err)
		}
		out[i] = string(data)
	}
	return out[0], out[1], out[2], nil
}

func decodeSequences(r *newsharvest.EnrichedRecord, images, authors, textBlocks string) error {
	targets := []*[]string{&r.Images, &r.Authors, &r.TextBlocks}
	for i, data := range []string{images, authors, textBlocks} {
		seq := []string{}
		if err := json.Unmarshal([]byte(data), &seq); err != nil {
			return fmt.Errorf("failed to unmarshal record %s: %w", r.ID, err)
		}
		*targets[i] = seq
	}
	return nil
}

func formatTime(t time.Time) string {
	// Strip monotonic clock for consistent storage and comparisons
	return t.UTC().Truncate(0).Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.Truncate(0)
}
