package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pevans/newsharvest"
)

// Kinds of sink accepted by Open.
const (
	KindSQLite  = "sqlite"
	KindCSV     = "csv"
	KindJSONDir = "jsondir"
)

// ErrUnknownKind is returned by Open for an unsupported sink kind.
var ErrUnknownKind = errors.New("unknown sink kind")

// Multi appends every batch to each of its sinks in turn. A batch counts as
// written only when all sinks accepted it.
//
// Multi is not atomic across sinks: when a later sink fails, the sinks
// before it keep the batch, yet the caller sees a failed batch. The error
// names the sink that failed and its position.
type Multi []newsharvest.Sink

func (m Multi) AppendBatch(ctx context.Context, records []newsharvest.EnrichedRecord) error {
	for i, s := range m {
		if err := s.AppendBatch(ctx, records); err != nil {
			return fmt.Errorf("sink %d of %d (%T): %w", i+1, len(m), s, err)
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// Paths holds the location used by each sink kind.
type Paths struct {
	SQLite  string
	CSV     string
	JSONDir string
}

// Open creates the sinks named in kinds. A single kind returns that sink
// directly; several are wrapped in a Multi.
func Open(kinds []string, paths Paths) (newsharvest.Sink, error) {
	var opened Multi
	for _, kind := range kinds {
		s, err := openOne(strings.TrimSpace(strings.ToLower(kind)), paths)
		if err != nil {
			_ = opened.Close()
			return nil, err
		}
		opened = append(opened, s)
	}

	switch len(opened) {
	case 0:
		return nil, fmt.Errorf("%w: no sink configured", ErrUnknownKind)
	case 1:
		return opened[0], nil
	default:
		return opened, nil
	}
}

func openOne(kind string, paths Paths) (newsharvest.Sink, error) {
	switch kind {
	case KindSQLite:
		return NewSQLite(paths.SQLite)
	case KindCSV:
		return NewCSV(paths.CSV)
	case KindJSONDir:
		return NewJSONDir(paths.JSONDir)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
