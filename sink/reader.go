package sink

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/pevans/newsharvest"
)

// Reader reads back the records a sink stored.
type Reader interface {
	// List returns the records matching filter, oldest first. Files that
	// could not be read are reported in the result instead of failing.
	List(ctx context.Context, filter Filter) (*ListResult, error)
	// Get returns nil without error when the record does not exist.
	Get(ctx context.Context, id uuid.UUID) (*newsharvest.EnrichedRecord, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
	Close() error
}

// ReadableKind returns the first kind in kinds that OpenReader supports.
func ReadableKind(kinds []string) (string, bool) {
	for _, kind := range kinds {
		kind = strings.TrimSpace(strings.ToLower(kind))
		if kind == KindSQLite || kind == KindJSONDir {
			return kind, true
		}
	}
	return "", false
}

// OpenReader opens an existing store of the given kind for reading. A
// missing store is an error rather than being created empty.
func OpenReader(kind string, paths Paths) (Reader, error) {
	kind = strings.TrimSpace(strings.ToLower(kind))

	switch kind {
	case KindSQLite:
		if err := exists(paths.SQLite); err != nil {
			return nil, err
		}
		s, err := NewSQLite(paths.SQLite)
		if err != nil {
			return nil, err
		}
		return sqliteReader{s}, nil
	case KindJSONDir:
		if err := exists(paths.JSONDir); err != nil {
			return nil, err
		}
		j, err := NewJSONDir(paths.JSONDir)
		if err != nil {
			return nil, err
		}
		return jsonDirReader{j}, nil
	case KindCSV:
		return nil, fmt.Errorf("%w: %q cannot be read back", ErrUnknownKind, kind)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func exists(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no stored records at %s: %w", path, err)
	}
	return nil
}

type sqliteReader struct {
	db *SQLite
}

func (r sqliteReader) List(ctx context.Context, filter Filter) (*ListResult, error) {
	records, err := r.db.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &ListResult{Records: records}, nil
}

func (r sqliteReader) Get(ctx context.Context, id uuid.UUID) (*newsharvest.EnrichedRecord, error) {
	return r.db.Get(ctx, id)
}

func (r sqliteReader) Count(ctx context.Context) (int, error) {
	return r.db.Count(ctx)
}

func (r sqliteReader) Close() error {
	return r.db.Close()
}

// jsonDirReader filters in memory; files carry no insertion order, so
// records are ordered by fetch time.
type jsonDirReader struct {
	dir *JSONDir
}

func (r jsonDirReader) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all, err := r.dir.List()
	if err != nil {
		return nil, err
	}

	result := &ListResult{Errors: all.Errors}
	for _, rec := range all.Records {
		if filter.Category != "" && rec.Category != filter.Category {
			continue
		}
		if filter.Subcategory != "" && rec.Subcategory != filter.Subcategory {
			continue
		}
		result.Records = append(result.Records, rec)
	}

	slices.SortFunc(result.Records, func(a, b newsharvest.EnrichedRecord) int {
		return cmp.Or(a.FetchedAt.Compare(b.FetchedAt), strings.Compare(a.ID.String(), b.ID.String()))
	})
	if filter.Limit > 0 && len(result.Records) > filter.Limit {
		result.Records = result.Records[:filter.Limit]
	}

	return result, nil
}

func (r jsonDirReader) Get(_ context.Context, id uuid.UUID) (*newsharvest.EnrichedRecord, error) {
	return r.dir.Get(id)
}

func (r jsonDirReader) Count(ctx context.Context) (int, error) {
	result, err := r.List(ctx, Filter{})
	if err != nil {
		return 0, err
	}
	return len(result.Records), nil
}

func (r jsonDirReader) Close() error {
	return r.dir.Close()
}
