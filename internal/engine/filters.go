package engine

import (
	"fmt"
	"strings"

	"github.com/user/datachat/internal/store"
)

// applyFilter evaluates a single filter against a frame and returns the
// narrowed frame. Failures (unknown column, op/value type mismatch) are
// returned as errors so the caller can decide; the pipeline driver
// deliberately discards them, keeping the lenient best-effort semantics
// while leaving each step individually testable.
func applyFilter(st *store.Store, f frame, spec FilterSpec) (frame, error) {
	col := spec.Column
	if !f.hasColumn(col) {
		// Try qualified resolution ("users.location" -> "location").
		if _, bare, err := st.ResolveColumn(col); err == nil && f.hasColumn(bare) {
			col = bare
		} else {
			return f, fmt.Errorf("filter column %q: %w", spec.Column, store.ErrUnknownColumn)
		}
	}

	pred, err := predicate(strings.ToLower(spec.Op), spec.Value)
	if err != nil {
		return f, fmt.Errorf("filter on %q: %w", col, err)
	}

	kept := f.rows[:0:0]
	for _, row := range f.rows {
		v, ok := row[col]
		if !ok {
			continue
		}
		if pred(v) {
			kept = append(kept, row)
		}
	}
	return frame{columns: f.columns, rows: kept}, nil
}

// predicate compiles an op/value pair into a row-value test.
func predicate(op string, value any) (func(any) bool, error) {
	switch op {
	case "eq", "=":
		return func(v any) bool { return looseEqual(v, value) }, nil
	case "in":
		list, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("op in requires a list value")
		}
		return func(v any) bool {
			for _, item := range list {
				if looseEqual(v, item) {
					return true
				}
			}
			return false
		}, nil
	case "contains":
		needle, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("op contains requires a string value")
		}
		lower := strings.ToLower(needle)
		return func(v any) bool {
			s, ok := v.(string)
			return ok && strings.Contains(strings.ToLower(s), lower)
		}, nil
	case "gt", "gte", "lt", "lte":
		return func(v any) bool {
			cmp, ok := compare(v, value)
			if !ok {
				return false
			}
			switch op {
			case "gt":
				return cmp > 0
			case "gte":
				return cmp >= 0
			case "lt":
				return cmp < 0
			default:
				return cmp <= 0
			}
		}, nil
	default:
		return nil, fmt.Errorf("unsupported filter op %q", op)
	}
}

// looseEqual compares two loosely typed cell values. Numbers compare
// numerically regardless of concrete type.
func looseEqual(a, b any) bool {
	if an, ok := store.Number(a); ok {
		if bn, ok := store.Number(b); ok {
			return an == bn
		}
		return false
	}
	return a == b
}

// compare orders two cell values: numerically when both are numbers,
// lexically when both are strings (which covers ISO timestamps).
func compare(a, b any) (int, bool) {
	if an, ok := store.Number(a); ok {
		bn, ok := store.Number(b)
		if !ok {
			return 0, false
		}
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}
