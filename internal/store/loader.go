package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// canonicalColumns pins the column order for the known demo tables so that
// results render consistently regardless of JSON map iteration order.
var canonicalColumns = map[string][]string{
	"users":     {"id", "email", "name", "age", "location", "signup_date"},
	"events":    {"id", "user_id", "event_type", "page", "session_duration_sec", "clicks", "timestamp"},
	"purchases": {"id", "user_id", "items_count", "total_amount", "currency", "product", "payment_method", "purchased_at"},
}

// LoadDir reads the three demo tables from JSON files in dir and returns an
// immutable Store. Each file holds an array of flat objects.
func LoadDir(dir string) (*Store, error) {
	tables := make([]*Table, 0, len(TableOrder))
	for _, name := range TableOrder {
		t, err := loadTable(filepath.Join(dir, name+".json"), name)
		if err != nil {
			return nil, fmt.Errorf("load table %s: %w", name, err)
		}
		tables = append(tables, t)
	}
	return New(tables...), nil
}

func loadTable(path, name string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal rows: %w", err)
	}
	return &Table{Name: name, Columns: columnsFor(name, rows), Rows: rows}, nil
}

// columnsFor returns the canonical column order for known tables, extended
// with any extra keys present in the data (sorted for determinism).
func columnsFor(name string, rows []Row) []string {
	cols := append([]string(nil), canonicalColumns[name]...)
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		seen[c] = true
	}
	var extra []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(cols, extra...)
}
