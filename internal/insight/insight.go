// Package insight turns analysis result tables, or free-text questions,
// into a short narrative and an optional direct answer.
package insight

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/user/datachat/internal/engine"
	"github.com/user/datachat/internal/store"
)

// Insight is the summarizer's output: narrative text, the table it
// describes, and a one-line direct answer when one can be computed.
type Insight struct {
	Text         string      `json:"insight"`
	Columns      []string    `json:"columns"`
	Rows         []store.Row `json:"rows"`
	DirectAnswer string      `json:"direct_answer,omitempty"`
}

// Summarizer builds insights over result tables and, for free-text
// questions, over the table store directly.
type Summarizer struct {
	store  *store.Store
	engine *engine.Engine
}

// New creates a Summarizer.
func New(st *store.Store, eng *engine.Engine) *Summarizer {
	return &Summarizer{store: st, engine: eng}
}

// Summarize produces an insight. A supplied result table is authoritative;
// the question is consulted only when no result is given. The note, if any,
// is appended to the narrative verbatim.
func (s *Summarizer) Summarize(result *engine.ResultTable, question, note string) (*Insight, error) {
	var (
		out *Insight
		err error
	)
	if result != nil {
		out = summarizeResult(result)
	} else {
		out, err = s.answerQuestion(strings.ToLower(strings.TrimSpace(question)))
		if err != nil {
			return nil, err
		}
	}
	if note = strings.TrimSpace(note); note != "" {
		out.Text = strings.TrimSpace(out.Text + " " + note)
	}
	if out.Columns == nil {
		out.Columns = []string{}
	}
	if out.Rows == nil {
		out.Rows = []store.Row{}
	}
	return out, nil
}

// summarizeResult applies the pattern heuristics to a result table.
// Revenue columns take precedence over click columns.
func summarizeResult(result *engine.ResultTable) *Insight {
	out := &Insight{Columns: result.Columns, Rows: result.Rows}
	if len(result.Rows) == 0 {
		out.Text = "No rows returned to summarize."
		return out
	}
	first := result.Rows[0]

	switch {
	case hasColumn(result.Columns, "total_amount"):
		out.Text = "Top buyers by total revenue."
		if len(result.Rows) > 1 {
			var preview []string
			for _, r := range result.Rows[:minInt(5, len(result.Rows))] {
				amt, ok := store.Number(r["total_amount"])
				if !ok {
					continue
				}
				preview = append(preview, fmt.Sprintf("%s: %s", displayName(r), formatMoney(amt)))
			}
			if len(preview) > 0 {
				out.DirectAnswer = strings.Join(preview, "; ")
			}
		} else if amt, ok := store.Number(first["total_amount"]); ok {
			out.DirectAnswer = fmt.Sprintf("Top buyer: %s with %s revenue", displayName(first), formatMoney(amt))
		}
	case hasColumn(result.Columns, "clicks"):
		out.Text = "Top users by total clicks."
		if clicks, ok := store.Number(first["clicks"]); ok {
			out.DirectAnswer = fmt.Sprintf("Top user: %s with %d clicks", displayName(first), int(clicks))
		}
	default:
		if focus, ok := firstNumericColumn(result); ok {
			out.Text = fmt.Sprintf("Summary by %s.", focus)
		} else {
			out.Text = "Summary of the result table."
		}
	}
	return out
}

var topNPattern = regexp.MustCompile(`top\s+(\d+)`)

// answerQuestion routes a free-text question to a quick aggregation over the
// in-memory tables.
func (s *Summarizer) answerQuestion(question string) (*Insight, error) {
	wantsTop := containsAny(question, "top", "best", "highest")
	asksWho := strings.Contains(question, "who")

	requestedN := 0
	if wantsTop {
		if m := topNPattern.FindStringSubmatch(question); m != nil {
			var n int
			fmt.Sscanf(m[1], "%d", &n)
			requestedN = clamp(n, 1, 50)
		}
	}
	topN := requestedN
	if topN == 0 {
		if asksWho && !wantsTop {
			topN = 1
		} else {
			topN = 5
		}
	}

	switch {
	case question != "" && (containsAny(question, "purchase", "revenue", "amount", "buyer", "bought") ||
		(wantsTop && strings.Contains(question, "users"))):
		return s.topByMetric("purchases", "total_amount", topN,
			"Top buyers by total revenue.",
			func(r store.Row, v float64) string {
				return fmt.Sprintf("Top buyer: %s with %s revenue", displayName(r), formatMoney(v))
			})

	case question != "" && (containsAny(question, "click", "session", "event") ||
		(wantsTop && strings.Contains(question, "user"))):
		return s.topByMetric("events", "clicks", topN,
			"Top users by total clicks.",
			func(r store.Row, v float64) string {
				return fmt.Sprintf("Top user: %s with %d clicks", displayName(r), int(v))
			})

	default:
		return s.topLocations()
	}
}

// topByMetric sums metric grouped by user_id over the named table, attaches
// user identity columns, and keeps the top n rows.
func (s *Summarizer) topByMetric(table, metric string, n int, text string, direct func(store.Row, float64) string) (*Insight, error) {
	src, ok := s.store.Table(table)
	if !ok || len(src.Rows) == 0 {
		return &Insight{Text: fmt.Sprintf("No %s data available.", table)}, nil
	}
	if !src.HasColumn(metric) {
		return &Insight{Text: fmt.Sprintf("%s data available, but no %s column found.", capitalize(table), metric)}, nil
	}

	limit := n
	result, err := s.engine.Run(engine.Plan{
		Source:  table,
		GroupBy: []string{"user_id"},
		Metrics: []engine.MetricSpec{{Column: metric, Op: "sum", Alias: metric}},
		OrderBy: []engine.OrderSpec{{Column: metric, Dir: "desc"}},
		Limit:   &limit,
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", table, err)
	}

	columns, rows := s.attachUserIdentity(result)
	out := &Insight{Text: text, Columns: columns, Rows: rows}
	if len(rows) > 0 {
		if v, ok := store.Number(rows[0][metric]); ok {
			out.DirectAnswer = direct(rows[0], v)
		}
	}
	return out, nil
}

// attachUserIdentity left-joins name/email from the users table onto rows
// keyed by user_id.
func (s *Summarizer) attachUserIdentity(result *engine.ResultTable) ([]string, []store.Row) {
	users, ok := s.store.Table("users")
	if !ok {
		return result.Columns, result.Rows
	}
	byID := make(map[string]store.Row, len(users.Rows))
	for _, u := range users.Rows {
		if id, ok := u["id"].(string); ok {
			byID[id] = u
		}
	}

	columns := append([]string(nil), result.Columns...)
	for _, c := range []string{"name", "email"} {
		if users.HasColumn(c) {
			columns = append(columns, c)
		}
	}
	rows := make([]store.Row, len(result.Rows))
	for i, r := range result.Rows {
		out := make(store.Row, len(r)+2)
		for k, v := range r {
			out[k] = v
		}
		if id, ok := r["user_id"].(string); ok {
			if u, found := byID[id]; found {
				for _, c := range []string{"name", "email"} {
					if v, ok := u[c]; ok {
						out[c] = v
					}
				}
			}
		}
		rows[i] = out
	}
	return columns, rows
}

// topLocations is the default fallback: user counts per location.
func (s *Summarizer) topLocations() (*Insight, error) {
	users, ok := s.store.Table("users")
	if !ok || len(users.Rows) == 0 {
		return &Insight{Text: "No users data available."}, nil
	}
	limit := 5
	result, err := s.engine.Run(engine.Plan{
		Source:  "users",
		GroupBy: []string{"location"},
		Metrics: []engine.MetricSpec{{Column: "id", Op: "count", Alias: "users"}},
		OrderBy: []engine.OrderSpec{{Column: "users", Dir: "desc"}},
		Limit:   &limit,
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate users: %w", err)
	}
	return &Insight{
		Text:    "Here's a quick look at top user locations. (Tell me what to focus on next.)",
		Columns: result.Columns,
		Rows:    result.Rows,
	}, nil
}

// displayName picks the friendliest identifier a row offers.
func displayName(r store.Row) string {
	for _, c := range []string{"name", "user_id", "email"} {
		if v, ok := r[c].(string); ok && v != "" {
			return v
		}
	}
	return "top user"
}

// firstNumericColumn returns the first column whose value is numeric in
// every row.
func firstNumericColumn(result *engine.ResultTable) (string, bool) {
	for _, c := range result.Columns {
		allNumeric := true
		for _, r := range result.Rows {
			if _, ok := store.Number(r[c]); !ok {
				allNumeric = false
				break
			}
		}
		if allNumeric {
			return c, true
		}
	}
	return "", false
}

// formatMoney renders a dollar amount with comma separators and no cents.
func formatMoney(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	n := int64(v + 0.5)
	s := fmt.Sprintf("%d", n)
	if len(s) > 3 {
		var parts []string
		for len(s) > 3 {
			parts = append([]string{s[len(s)-3:]}, parts...)
			s = s[:len(s)-3]
		}
		s = strings.Join(append([]string{s}, parts...), ",")
	}
	if neg {
		return "-$" + s
	}
	return "$" + s
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func hasColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
