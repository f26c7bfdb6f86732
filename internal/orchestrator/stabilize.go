package orchestrator

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/user/datachat/internal/store"
	"github.com/user/datachat/internal/tools"
)

// Stabilizer normalizes and clamps tool-call arguments before execution,
// guarding against malformed or out-of-range model output. Stabilize is
// pure and total: it never fails, it only rewrites.
type Stabilizer struct {
	tables []string
}

// NewStabilizer creates a Stabilizer aware of the store's tables.
func NewStabilizer(st *store.Store) *Stabilizer {
	return &Stabilizer{tables: st.Names()}
}

// Stabilize returns a normalized copy of args. Only the chart tool is
// rewritten today; other tools pass through unchanged.
func (s *Stabilizer) Stabilize(toolName string, args map[string]any) map[string]any {
	updated := deepCopy(args)
	if toolName != tools.ChartName {
		return updated
	}

	table, _ := updated["table"].(string)
	if !s.hasTable(table) {
		updated["table"] = s.fallbackTable()
	}
	updated["kind"] = lowerOrDefault(updated["kind"], "bar")
	updated["op"] = lowerOrDefault(updated["op"], "sum")

	if raw, present := updated["limit"]; present {
		limit, ok := parseInt(raw)
		if !ok {
			limit = 20
		}
		if limit < 1 {
			limit = 1
		}
		if limit > 200 {
			limit = 200
		}
		updated["limit"] = float64(limit)
	}
	return updated
}

func (s *Stabilizer) hasTable(name string) bool {
	for _, t := range s.tables {
		if t == name {
			return true
		}
	}
	return false
}

func (s *Stabilizer) fallbackTable() string {
	if s.hasTable("events") {
		return "events"
	}
	if len(s.tables) > 0 {
		return s.tables[0]
	}
	return "events"
}

func lowerOrDefault(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return strings.ToLower(s)
	}
	return def
}

func parseInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// deepCopy clones args through a JSON round trip, the same loose typing the
// arguments arrived with.
func deepCopy(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}
