package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/datachat/internal/store"
)

// SQLTutor provides SQL guidance text over the demo schema. It never
// executes queries.
type SQLTutor struct {
	store *store.Store
}

// NewSQLTutor creates the SQL guidance tool.
func NewSQLTutor(st *store.Store) *SQLTutor { return &SQLTutor{store: st} }

func (s *SQLTutor) Name() string { return "sql_tutor" }

func (s *SQLTutor) Description() string {
	return "Provide SQL guidance and example queries over users/events/purchases (DuckDB-compatible)."
}

func (s *SQLTutor) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {"type": "string", "description": "What the user wants to fetch with SQL"}
		},
		"required": ["question"]
	}`)
}

var sqlTips = []string{
	"Join users to events/purchases via user_id when you need names/emails.",
	"Use GROUP BY for aggregates; ORDER BY to sort; LIMIT to cap rows.",
	"Use DATE_TRUNC on timestamps (cast strings to TIMESTAMP in DuckDB as needed).",
}

func (s *SQLTutor) Execute(_ context.Context, args json.RawMessage) (any, error) {
	var a struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}
	q := strings.ToLower(strings.TrimSpace(a.Question))

	var examples []string
	if containsAny(q, "click", "page", "event", "session") {
		examples = append(examples,
			"SELECT page, SUM(clicks) AS total_clicks\nFROM events\nGROUP BY page\nORDER BY total_clicks DESC\nLIMIT 10;",
			"SELECT e.user_id, u.name, SUM(e.clicks) AS clicks\nFROM events e\nLEFT JOIN users u ON e.user_id = u.id\nGROUP BY 1,2\nORDER BY clicks DESC\nLIMIT 10;",
		)
	}
	if containsAny(q, "purchase", "revenue", "amount", "sales") {
		examples = append(examples,
			"SELECT DATE_TRUNC('day', CAST(p.purchased_at AS TIMESTAMP)) AS day,\n       SUM(p.total_amount) AS revenue\nFROM purchases p\nGROUP BY 1\nORDER BY day;",
			"SELECT p.user_id, u.name, SUM(p.total_amount) AS revenue\nFROM purchases p\nLEFT JOIN users u ON p.user_id = u.id\nGROUP BY 1,2\nORDER BY revenue DESC\nLIMIT 10;",
		)
	}
	if len(examples) == 0 {
		examples = append(examples,
			"SELECT location, COUNT(*) AS users\nFROM users\nGROUP BY location\nORDER BY users DESC\nLIMIT 10;",
		)
	}

	return map[string]any{
		"tips":     sqlTips,
		"schema":   s.store.Schema(),
		"examples": examples,
	}, nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
