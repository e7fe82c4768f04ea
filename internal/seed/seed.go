// Package seed fills the service's tables with their built-in rows and moves
// table contents in and out of JSONL files (one JSON object per line, named
// <table>.jsonl).
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"

	"github.com/mesh-intelligence/crudkit/pkg/store"
	"github.com/mesh-intelligence/crudkit/pkg/types"
)

// DefaultUser is the SysUser of every built-in row.
const DefaultUser = "system"

// Persons are the built-in Person rows.
var Persons = []types.Person{
	{Id: 1, FirstName: "George", LastName: "Washington", SysUser: DefaultUser},
	{Id: 2, FirstName: "John", LastName: "Adams", SysUser: DefaultUser},
	{Id: 3, FirstName: "Thomas", LastName: "Jefferson", SysUser: DefaultUser},
}

// Activities are the built-in Activity rows.
var Activities = []types.Activity{
	{Id: 1, Name: "Walk", SysUser: DefaultUser},
	{Id: 2, Name: "Sleep", SysUser: DefaultUser},
	{Id: 3, Name: "Talk", SysUser: DefaultUser},
	{Id: 4, Name: "Govern", SysUser: DefaultUser},
}

// ErrUnknownTable is returned for table names no seeded entity is stored in.
var ErrUnknownTable = errors.New("unknown table")

// table moves the rows of one entity type.
type table struct {
	model    func() (*store.Model, error)
	defaults func(ctx context.Context, s *store.Session) (int, error)
	load     func(s *store.Session, records []json.RawMessage) (int, error)
	dump     func(ctx context.Context, s *store.Session) ([]json.RawMessage, error)
}

func tableOf[T any](rows []T) table {
	return table{
		model: store.ModelFor[T],
		defaults: func(ctx context.Context, s *store.Session) (int, error) {
			n, err := store.From[T](s).Count(ctx)
			if err != nil || n > 0 {
				return 0, err
			}
			for i := range rows {
				row := rows[i]
				if err := s.Add(&row); err != nil {
					return 0, err
				}
			}
			return len(rows), nil
		},
		load: func(s *store.Session, records []json.RawMessage) (int, error) {
			for i, rec := range records {
				row := new(T)
				if err := json.Unmarshal(rec, row); err != nil {
					return 0, fmt.Errorf("record %d: %w: %v", i+1, types.ErrInvalidData, err)
				}
				if err := s.Add(row); err != nil {
					return 0, err
				}
			}
			return len(records), nil
		},
		dump: func(ctx context.Context, s *store.Session) ([]json.RawMessage, error) {
			rows, err := store.Page[T](ctx, s, 0, 0)
			if err != nil {
				return nil, err
			}
			out := make([]json.RawMessage, 0, len(rows))
			for _, row := range rows {
				data, err := json.Marshal(row)
				if err != nil {
					return nil, err
				}
				out = append(out, data)
			}
			return out, nil
		},
	}
}

var tables = []table{
	tableOf(Persons),
	tableOf(Activities),
}

// Tables lists the table names this package can seed, load and export.
func Tables() ([]string, error) {
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		m, err := t.model()
		if err != nil {
			return nil, err
		}
		names = append(names, m.Table)
	}
	return names, nil
}

func lookup(name string) (table, *store.Model, error) {
	for _, t := range tables {
		m, err := t.model()
		if err != nil {
			return table{}, nil, err
		}
		if m.Table == name {
			return t, m, nil
		}
	}
	return table{}, nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
}

// Defaults inserts the built-in rows into every table that is empty and
// returns how many rows each table received. Tables that already hold rows
// are left alone, so Defaults is safe to run repeatedly.
func Defaults(ctx context.Context, b *store.Backend) (map[string]int, error) {
	return fill(ctx, b, func(t table, _ *store.Model, s *store.Session) (int, error) {
		return t.defaults(ctx, s)
	})
}

// LoadDir inserts the records of every <table>.jsonl file found in dir.
// Missing files are skipped, as are lines that are not valid JSON. All rows
// are saved in one transaction.
func LoadDir(ctx context.Context, b *store.Backend, dir string) (map[string]int, error) {
	return fill(ctx, b, func(t table, m *store.Model, s *store.Session) (int, error) {
		path := filepath.Join(dir, m.Table+".jsonl")
		records, err := readJSONLFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		n, err := t.load(s, records)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
		return n, nil
	})
}

func fill(ctx context.Context, b *store.Backend, add func(table, *store.Model, *store.Session) (int, error)) (map[string]int, error) {
	s := b.NewSession()
	counts := make(map[string]int, len(tables))
	var touched []*store.Model
	for _, t := range tables {
		m, err := t.model()
		if err != nil {
			return nil, err
		}
		n, err := add(t, m, s)
		if err != nil {
			return nil, fmt.Errorf("seeding %s: %w", m.Table, err)
		}
		counts[m.Table] = n
		if n > 0 {
			touched = append(touched, m)
		}
	}
	if err := s.SaveChanges(ctx); err != nil {
		return nil, fmt.Errorf("saving seed rows: %w", err)
	}
	// Rows were inserted with explicit keys.
	for _, m := range touched {
		if err := b.SyncIdentity(ctx, m); err != nil {
			return nil, err
		}
		clog.FromContext(ctx).InfoContext(ctx, "seeded table", "table", m.Table, "rows", counts[m.Table])
	}
	return counts, nil
}

// Export writes every row of table to w as JSONL, ordered by key.
func Export(ctx context.Context, b *store.Backend, name string, w io.Writer) error {
	records, err := dump(ctx, b, name)
	if err != nil {
		return err
	}
	return writeJSONL(w, records)
}

// ExportFile writes every row of table to path as JSONL, replacing the file
// atomically.
func ExportFile(ctx context.Context, b *store.Backend, name, path string) error {
	records, err := dump(ctx, b, name)
	if err != nil {
		return err
	}
	return writeJSONLFile(path, records)
}

// ExportDir writes <table>.jsonl for every table into dir, which is created
// if needed. LoadDir reads the result back.
func ExportDir(ctx context.Context, b *store.Backend, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	names, err := Tables()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := ExportFile(ctx, b, name, filepath.Join(dir, name+".jsonl")); err != nil {
			return err
		}
	}
	return nil
}

func dump(ctx context.Context, b *store.Backend, name string) ([]json.RawMessage, error) {
	t, _, err := lookup(name)
	if err != nil {
		return nil, err
	}
	records, err := t.dump(ctx, b.NewSession())
	if err != nil {
		return nil, fmt.Errorf("exporting %s: %w", name, err)
	}
	return records, nil
}
