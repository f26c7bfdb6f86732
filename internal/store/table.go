package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownColumn is returned when a column reference cannot be bound
	// to any table in the store.
	ErrUnknownColumn = errors.New("unknown column")
)

// TableOrder is the fixed order in which bare column references are resolved.
var TableOrder = []string{"users", "events", "purchases"}

// Row is a single record keyed by column name. Values are the loose JSON
// types: string, float64, bool.
type Row map[string]any

// Table is a named, ordered collection of rows sharing a schema.
type Table struct {
	Name    string
	Columns []string
	Rows    []Row
}

// HasColumn reports whether the table's schema contains the given column.
func (t *Table) HasColumn(col string) bool {
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Store is an immutable snapshot of the three demo tables. It is loaded once
// at startup and shared read-only by all requests; no locking is required.
type Store struct {
	tables map[string]*Table
}

// New builds a Store from the given tables.
func New(tables ...*Table) *Store {
	m := make(map[string]*Table, len(tables))
	for _, t := range tables {
		m[t.Name] = t
	}
	return &Store{tables: m}
}

// Table returns the named table.
func (s *Store) Table(name string) (*Table, bool) {
	t, ok := s.tables[name]
	return t, ok
}

// Names returns the table names present in the store, in resolution order.
func (s *Store) Names() []string {
	out := make([]string, 0, len(s.tables))
	for _, name := range TableOrder {
		if _, ok := s.tables[name]; ok {
			out = append(out, name)
		}
	}
	for name := range s.tables {
		if !contains(TableOrder, name) {
			out = append(out, name)
		}
	}
	return out
}

// Counts returns the row count per table.
func (s *Store) Counts() map[string]int {
	out := make(map[string]int, len(s.tables))
	for name, t := range s.tables {
		out[name] = len(t.Rows)
	}
	return out
}

// Schema returns the column list per table.
func (s *Store) Schema() map[string][]string {
	out := make(map[string][]string, len(s.tables))
	for name, t := range s.tables {
		out[name] = append([]string(nil), t.Columns...)
	}
	return out
}

// ResolveColumn binds a column reference to a table and bare column name.
// Qualified references ("users.name") bind directly when the table exists;
// otherwise tables are searched in TableOrder and the first one containing
// the column wins.
func (s *Store) ResolveColumn(ref string) (*Table, string, error) {
	if table, col, ok := strings.Cut(ref, "."); ok {
		if t, exists := s.tables[table]; exists {
			return t, col, nil
		}
	}
	bare := ref
	if i := strings.LastIndex(ref, "."); i >= 0 {
		bare = ref[i+1:]
	}
	for _, name := range s.Names() {
		t := s.tables[name]
		if t.HasColumn(bare) {
			return t, bare, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %s", ErrUnknownColumn, ref)
}

// Number reports whether v is a numeric value and returns it as a float64.
// JSON decoding produces float64; int variants appear in hand-built tables.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
