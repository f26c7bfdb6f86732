package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/user/datachat/internal/store"
)

const maxPlanRows = 1000

// Engine runs analysis plans against an immutable table store. Per-request
// working frames are exclusively owned by the request; the store itself is
// never mutated.
type Engine struct {
	store *store.Store
}

// New creates an Engine over the given store.
func New(st *store.Store) *Engine {
	return &Engine{store: st}
}

// frame is a working copy of a table flowing through the pipeline.
type frame struct {
	columns []string
	rows    []store.Row
}

func (f frame) hasColumn(col string) bool {
	for _, c := range f.columns {
		if c == col {
			return true
		}
	}
	return false
}

// Run executes a plan. Pipeline order is fixed: source, joins, filters,
// group and aggregate, select, order, limit. Join and filter steps that
// cannot be evaluated are skipped rather than failing the plan.
func (e *Engine) Run(plan Plan) (*ResultTable, error) {
	src, ok := e.store.Table(plan.Source)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, plan.Source)
	}
	f := frame{
		columns: append([]string(nil), src.Columns...),
		rows:    append([]store.Row(nil), src.Rows...),
	}

	for _, j := range plan.Joins {
		joined, err := e.applyJoin(f, j)
		if err != nil {
			slog.Debug("skipping join", "table", j.Table, "error", err)
			continue
		}
		f = joined
	}

	for _, spec := range plan.Filters {
		filtered, err := applyFilter(e.store, f, spec)
		if err != nil {
			slog.Debug("skipping filter", "column", spec.Column, "error", err)
			continue
		}
		f = filtered
	}

	if len(plan.Metrics) > 0 {
		aggregated, err := aggregate(f, plan.GroupBy, plan.Metrics)
		if err != nil {
			return nil, err
		}
		f = aggregated
	}

	if len(plan.Select) > 0 {
		f = project(f, plan.Select)
	}

	for _, ob := range plan.OrderBy {
		f = orderBy(f, ob)
	}

	if plan.Limit != nil {
		n := clampLimit(*plan.Limit, maxPlanRows)
		if len(f.rows) > n {
			f.rows = f.rows[:n]
		}
	}

	return &ResultTable{Columns: f.columns, Rows: f.rows}, nil
}

// applyJoin left-joins the frame against another table. The left row order
// is preserved; right-side columns are appended, with shared column names
// following a last-write-wins convention.
func (e *Engine) applyJoin(f frame, spec JoinSpec) (frame, error) {
	right, ok := e.store.Table(spec.Table)
	if !ok {
		return f, fmt.Errorf("%w: %s", ErrUnknownTable, spec.Table)
	}

	leftKey, rightKey, ok := resolveJoinKeys(f, right, spec.On)
	if !ok {
		return f, fmt.Errorf("no join keys resolve for %s", spec.Table)
	}

	index := make(map[string][]store.Row, len(right.Rows))
	for _, r := range right.Rows {
		k := fmt.Sprint(r[rightKey])
		index[k] = append(index[k], r)
	}

	columns := append([]string(nil), f.columns...)
	for _, c := range right.Columns {
		if !f.hasColumn(c) {
			columns = append(columns, c)
		}
	}

	out := make([]store.Row, 0, len(f.rows))
	for _, left := range f.rows {
		matches := index[fmt.Sprint(left[leftKey])]
		if len(matches) == 0 {
			out = append(out, left)
			continue
		}
		for _, m := range matches {
			merged := make(store.Row, len(left)+len(m))
			for k, v := range left {
				merged[k] = v
			}
			for _, c := range right.Columns {
				merged[c] = m[c]
			}
			out = append(out, merged)
		}
	}
	return frame{columns: columns, rows: out}, nil
}

// resolveJoinKeys picks the join key pair: the first explicit on-pair if one
// is given (qualified names reduced to bare columns), otherwise the
// user_id -> id convention when both columns exist.
func resolveJoinKeys(f frame, right *store.Table, on map[string]string) (string, string, bool) {
	if len(on) > 0 {
		keys := make([]string, 0, len(on))
		for k := range on {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lk := bareColumn(keys[0])
		rk := bareColumn(on[keys[0]])
		return lk, rk, f.hasColumn(lk) && right.HasColumn(rk)
	}
	if f.hasColumn("user_id") && right.HasColumn("id") {
		return "user_id", "id", true
	}
	return "", "", false
}

func bareColumn(ref string) string {
	if i := strings.LastIndex(ref, "."); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

// aggregate groups the frame (or treats it as one group) and computes each
// metric. Metrics whose column is not present are skipped; non-count
// metrics over non-numeric values fail the plan.
func aggregate(f frame, groupBy []string, metrics []MetricSpec) (frame, error) {
	for _, g := range groupBy {
		if !f.hasColumn(g) {
			return f, fmt.Errorf("group by %q: %w", g, store.ErrUnknownColumn)
		}
	}

	type bucket struct {
		key  string
		rows []store.Row
	}
	var order []string
	buckets := make(map[string]*bucket)
	for _, row := range f.rows {
		var sb strings.Builder
		for _, g := range groupBy {
			fmt.Fprintf(&sb, "%v\x00", row[g])
		}
		k := sb.String()
		b, ok := buckets[k]
		if !ok {
			b = &bucket{key: k}
			buckets[k] = b
			order = append(order, k)
		}
		b.rows = append(b.rows, row)
	}
	if len(groupBy) == 0 && len(order) == 0 {
		// Whole-table aggregation over an empty frame still yields one row.
		buckets[""] = &bucket{}
		order = append(order, "")
	}

	columns := append([]string(nil), groupBy...)
	kept := make([]MetricSpec, 0, len(metrics))
	for _, m := range metrics {
		if m.Column == "" || !f.hasColumn(m.Column) {
			slog.Debug("skipping metric", "column", m.Column, "op", m.Op)
			continue
		}
		kept = append(kept, m)
		columns = append(columns, metricAlias(m))
	}

	rows := make([]store.Row, 0, len(order))
	for _, k := range order {
		b := buckets[k]
		out := make(store.Row, len(groupBy)+len(kept))
		if len(b.rows) > 0 {
			for _, g := range groupBy {
				out[g] = b.rows[0][g]
			}
		}
		for _, m := range kept {
			v, err := computeMetric(b.rows, m)
			if err != nil {
				return f, err
			}
			out[metricAlias(m)] = v
		}
		rows = append(rows, out)
	}
	return frame{columns: columns, rows: rows}, nil
}

func metricAlias(m MetricSpec) string {
	if m.Alias != "" {
		return m.Alias
	}
	return strings.ToLower(m.Op) + "_" + m.Column
}

func computeMetric(rows []store.Row, m MetricSpec) (float64, error) {
	op := strings.ToLower(m.Op)
	if op == "count" {
		// count ignores the declared column's values and counts group rows.
		return float64(len(rows)), nil
	}

	var (
		sum      float64
		min, max float64
		n        int
	)
	for _, row := range rows {
		v, ok := row[m.Column]
		if !ok || v == nil {
			continue
		}
		num, isNum := store.Number(v)
		if !isNum {
			return 0, fmt.Errorf("%w: %s for op %s", ErrNonNumericColumn, m.Column, op)
		}
		if n == 0 {
			min, max = num, num
		} else {
			if num < min {
				min = num
			}
			if num > max {
				max = num
			}
		}
		sum += num
		n++
	}

	switch op {
	case "sum":
		return sum, nil
	case "mean":
		if n == 0 {
			return 0, nil
		}
		return sum / float64(n), nil
	case "max":
		return max, nil
	case "min":
		return min, nil
	default:
		return 0, fmt.Errorf("unsupported metric op %q", m.Op)
	}
}

// project keeps the intersection of requested and available columns, in
// requested order. An empty intersection leaves the frame untouched.
func project(f frame, selected []string) frame {
	keep := make([]string, 0, len(selected))
	for _, c := range selected {
		if f.hasColumn(c) {
			keep = append(keep, c)
		}
	}
	if len(keep) == 0 {
		return f
	}
	rows := make([]store.Row, len(f.rows))
	for i, row := range f.rows {
		out := make(store.Row, len(keep))
		for _, c := range keep {
			if v, ok := row[c]; ok {
				out[c] = v
			}
		}
		rows[i] = out
	}
	return frame{columns: keep, rows: rows}
}

// orderBy stable-sorts the frame by one column. Direction defaults to
// descending. Unknown columns are a no-op.
func orderBy(f frame, spec OrderSpec) frame {
	if !f.hasColumn(spec.Column) {
		return f
	}
	asc := strings.ToLower(spec.Dir) == "asc"
	rows := append([]store.Row(nil), f.rows...)
	sort.SliceStable(rows, func(i, j int) bool {
		cmp, ok := compare(rows[i][spec.Column], rows[j][spec.Column])
		if !ok {
			return false
		}
		if asc {
			return cmp < 0
		}
		return cmp > 0
	})
	return frame{columns: f.columns, rows: rows}
}

// clampLimit bounds a requested limit to [1, max].
func clampLimit(n, max int) int {
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

// Pseudocode renders a plan as illustrative pipeline text. It documents what
// Run would do; it is not executable.
func Pseudocode(plan Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "rows = tables[%q]\n", plan.Source)
	for _, j := range plan.Joins {
		if len(j.On) > 0 {
			keys := make([]string, 0, len(j.On))
			for k := range j.On {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(&b, "rows = left_join(rows, tables[%q], on=%s->%s)\n", j.Table, keys[0], j.On[keys[0]])
		} else {
			fmt.Fprintf(&b, "rows = left_join(rows, tables[%q], on=user_id->id)\n", j.Table)
		}
	}
	for _, f := range plan.Filters {
		fmt.Fprintf(&b, "rows = filter(rows, %s %s %v)\n", f.Column, f.Op, f.Value)
	}
	if len(plan.Metrics) > 0 {
		var ms []string
		for _, m := range plan.Metrics {
			ms = append(ms, fmt.Sprintf("%s(%s) as %s", strings.ToLower(m.Op), m.Column, metricAlias(m)))
		}
		fmt.Fprintf(&b, "rows = group(rows, by=%v, metrics=[%s])\n", plan.GroupBy, strings.Join(ms, ", "))
	}
	if len(plan.Select) > 0 {
		fmt.Fprintf(&b, "rows = select(rows, %v)\n", plan.Select)
	}
	for _, ob := range plan.OrderBy {
		dir := ob.Dir
		if dir == "" {
			dir = "desc"
		}
		fmt.Fprintf(&b, "rows = sort(rows, by=%s %s)\n", ob.Column, dir)
	}
	if plan.Limit != nil {
		fmt.Fprintf(&b, "rows = limit(rows, %d)\n", clampLimit(*plan.Limit, maxPlanRows))
	}
	return strings.TrimRight(b.String(), "\n")
}
