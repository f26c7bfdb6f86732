package engine

import (
	"errors"

	"github.com/user/datachat/internal/store"
)

var (
	// ErrUnknownTable is returned when a plan names a source table that does
	// not exist in the store.
	ErrUnknownTable = errors.New("unknown table")
	// ErrNonNumericColumn is returned when an aggregation other than count
	// is applied to a column holding non-numeric values.
	ErrNonNumericColumn = errors.New("non-numeric column")
)

// Plan describes a filter/join/aggregate/order/limit pipeline over one table.
// Plans are transient: built per tool call, never persisted.
type Plan struct {
	Source      string       `json:"source"`
	Joins       []JoinSpec   `json:"joins,omitempty"`
	Filters     []FilterSpec `json:"filters,omitempty"`
	GroupBy     []string     `json:"group_by,omitempty"`
	Metrics     []MetricSpec `json:"metrics,omitempty"`
	Select      []string     `json:"select,omitempty"`
	OrderBy     []OrderSpec  `json:"order_by,omitempty"`
	Limit       *int         `json:"limit,omitempty"`
	IncludeCode bool         `json:"include_code,omitempty"`
}

// JoinSpec describes a left join against another table. When On is empty the
// conventional user_id -> id pairing is used if both columns exist. When On
// holds several pairs only the first (by key order) is used.
type JoinSpec struct {
	Table string            `json:"table"`
	On    map[string]string `json:"on,omitempty"`
}

// FilterSpec narrows the working set. Supported ops: eq, in, contains,
// gt, gte, lt, lte. A filter that cannot be evaluated is skipped, not fatal.
type FilterSpec struct {
	Column string `json:"column"`
	Op     string `json:"op"`
	Value  any    `json:"value"`
}

// MetricSpec describes one aggregation. Supported ops: count, sum, mean,
// max, min. The default alias is "{op}_{column}".
type MetricSpec struct {
	Column string `json:"column"`
	Op     string `json:"op"`
	Alias  string `json:"alias,omitempty"`
}

// OrderSpec sorts the result by one column. Dir defaults to "desc".
type OrderSpec struct {
	Column string `json:"column"`
	Dir    string `json:"dir,omitempty"`
}

// ResultTable is the universal output shape passed between tools and into
// the insight summarizer.
type ResultTable struct {
	Columns []string    `json:"columns"`
	Rows    []store.Row `json:"rows"`
}
