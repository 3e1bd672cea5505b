package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sync"

	"github.com/pevans/newsharvest"
)

// CSVSeparator is the field separator of CSV output.
const CSVSeparator = '|'

// CSVColumns lists the columns of every CSV row. The file carries no header
// row, so appending to an existing file keeps it valid.
var CSVColumns = []string{
	"category", "subcategory", "title", "subtitle", "published_at",
	"images", "authors", "text_blocks",
}

// CSV appends records to a '|'-separated file. Sequence columns hold JSON
// arrays.
type CSV struct {
	mu   sync.Mutex
	file *os.File
}

// NewCSV opens path for appending, creating it if needed.
func NewCSV(path string) (*CSV, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	return &CSV{file: f}, nil
}

// AppendBatch writes one row per record and syncs the file.
func (c *CSV) AppendBatch(ctx context.Context, records []newsharvest.EnrichedRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w := csv.NewWriter(c.file)
	w.Comma = CSVSeparator

	for _, r := range records {
		row, err := csvRow(r)
		if err != nil {
			return err
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV rows: %w", err)
	}
	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync CSV file: %w", err)
	}
	return nil
}

// Close closes the file.
func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

func csvRow(r newsharvest.EnrichedRecord) ([]string, error) {
	images, authors, textBlocks, err := encodeSequences(r)
	if err != nil {
		return nil, err
	}

	return []string{
		r.Category,
		r.Subcategory,
		r.Title,
		r.Subtitle,
		r.PublishedAt,
		images,
		authors,
		textBlocks,
	}, nil
}
