package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/pevans/newsharvest"
)

// JSONDir stores each record as <id>.json in a directory.
type JSONDir struct {
	dir string
}

// ReadError describes a failure to read a single record file.
type ReadError struct {
	Filename string
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Filename, e.Err)
}

// ListResult contains the records read from the directory, including any
// per-file errors.
type ListResult struct {
	Records []newsharvest.EnrichedRecord
	Errors  []ReadError
}

// NewJSONDir creates a sink writing to dir, creating it if needed.
func NewJSONDir(dir string) (*JSONDir, error) {
	// 0700: owner-only access
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &JSONDir{dir: dir}, nil
}

// AppendBatch writes every record to its own file. Each file is written to a
// temporary name, synced and then renamed into place, and the directory is
// synced once at the end.
func (j *JSONDir) AppendBatch(ctx context.Context, records []newsharvest.EnrichedRecord) error {
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := j.write(r); err != nil {
			return err
		}
	}

	return syncDir(j.dir)
}

func (j *JSONDir) write(r newsharvest.EnrichedRecord) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	tmp, err := os.CreateTemp(j.dir, ".record-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create record file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close record file: %w", err)
	}

	if err := os.Rename(tmp.Name(), j.filename(r.ID)); err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	return nil
}

// List returns all records in the directory. Corrupted or invalid files are
// collected in the result's Errors slice rather than failing the whole
// listing.
func (j *JSONDir) List() (*ListResult, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	result := &ListResult{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(j.dir, entry.Name()))
		if err != nil {
			result.Errors = append(result.Errors, ReadError{Filename: entry.Name(), Err: err})
			continue
		}

		var r newsharvest.EnrichedRecord
		if err := json.Unmarshal(data, &r); err != nil {
			result.Errors = append(result.Errors, ReadError{Filename: entry.Name(), Err: err})
			continue
		}

		result.Records = append(result.Records, r)
	}

	return result, nil
}

// Get reads one record by ID. It returns nil without error when the record
// does not exist.
func (j *JSONDir) Get(id uuid.UUID) (*newsharvest.EnrichedRecord, error) {
	data, err := os.ReadFile(j.filename(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var r newsharvest.EnrichedRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &r, nil
}

// Close is a no-op; every batch is already on disk.
func (j *JSONDir) Close() error {
	return nil
}

func (j *JSONDir) filename(id uuid.UUID) string {
	return filepath.Join(j.dir, id.String()+".json")
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory: %w", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}
