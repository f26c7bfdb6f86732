package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/user/datachat/internal/store"
)

const maxChartBuckets = 200

// chartPalette is the fixed color palette applied to chart datasets.
var chartPalette = []string{"#6C5CE7", "#00B894", "#0984E3", "#E17055", "#E84393"}

// ChartSpec is a renderer-ready Chart.js chart description.
type ChartSpec struct {
	Type    string       `json:"type"`
	Data    ChartData    `json:"data"`
	Options ChartOptions `json:"options"`
}

// ChartData holds the labels and datasets of a chart.
type ChartData struct {
	Labels   []string       `json:"labels"`
	Datasets []ChartDataset `json:"datasets"`
}

// ChartDataset is a single aggregated series.
type ChartDataset struct {
	Label           string    `json:"label"`
	Data            []float64 `json:"data"`
	BackgroundColor string    `json:"backgroundColor"`
	BorderColor     string    `json:"borderColor"`
	Fill            bool      `json:"fill"`
	Tension         float64   `json:"tension"`
}

// ChartOptions carries minimal render options.
type ChartOptions struct {
	Responsive bool         `json:"responsive"`
	Plugins    ChartPlugins `json:"plugins"`
}

// ChartPlugins configures chart plugins.
type ChartPlugins struct {
	Legend ChartLegend `json:"legend"`
}

// ChartLegend toggles the legend.
type ChartLegend struct {
	Display bool `json:"display"`
}

// BuildChart aggregates one table into a chart spec. The y column must be
// numeric unless op is count. Date-like x columns are bucketed by calendar
// day; other x columns are categorical keys taken verbatim. Buckets are
// sorted by aggregated value descending and capped at limit (clamped to
// [1, 200], defaulting to 20 when unset).
func (e *Engine) BuildChart(table, kind, x, y, op string, filters []FilterSpec, limit int) (*ChartSpec, error) {
	src, ok := e.store.Table(table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	kind = strings.ToLower(kind)
	op = strings.ToLower(op)
	if limit <= 0 {
		limit = 20
	}
	limit = clampLimit(limit, maxChartBuckets)

	f := frame{
		columns: append([]string(nil), src.Columns...),
		rows:    append([]store.Row(nil), src.Rows...),
	}
	for _, spec := range filters {
		filtered, err := applyFilter(e.store, f, spec)
		if err != nil {
			slog.Debug("skipping chart filter", "column", spec.Column, "error", err)
			continue
		}
		f = filtered
	}

	if !f.hasColumn(x) {
		return nil, fmt.Errorf("x axis %q: %w", x, store.ErrUnknownColumn)
	}
	if op != "count" {
		if !f.hasColumn(y) || !columnNumeric(f.rows, y) {
			return nil, fmt.Errorf("%w: %s for op %s", ErrNonNumericColumn, y, op)
		}
	}

	type bucket struct {
		label  string
		sum    float64
		min    float64
		max    float64
		count  int
		valued int
	}
	var order []string
	buckets := make(map[string]*bucket)
	dateAxis := isDateColumn(x)
	for _, row := range f.rows {
		label := bucketLabel(row[x], dateAxis)
		b, ok := buckets[label]
		if !ok {
			b = &bucket{label: label}
			buckets[label] = b
			order = append(order, label)
		}
		b.count++
		if num, ok := store.Number(row[y]); ok {
			if b.valued == 0 {
				b.min, b.max = num, num
			} else {
				if num < b.min {
					b.min = num
				}
				if num > b.max {
					b.max = num
				}
			}
			b.sum += num
			b.valued++
		}
	}

	values := make(map[string]float64, len(buckets))
	for label, b := range buckets {
		switch op {
		case "count":
			values[label] = float64(b.count)
		case "sum":
			values[label] = b.sum
		case "mean":
			if b.valued > 0 {
				values[label] = b.sum / float64(b.valued)
			}
		case "max":
			values[label] = b.max
		case "min":
			values[label] = b.min
		default:
			values[label] = b.sum
		}
	}

	sort.SliceStable(order, func(i, j int) bool { return values[order[i]] > values[order[j]] })
	if len(order) > limit {
		order = order[:limit]
	}

	labels := make([]string, len(order))
	data := make([]float64, len(order))
	for i, label := range order {
		labels[i] = label
		data[i] = values[label]
	}

	background := chartPalette[0]
	if kind == "line" {
		background = "rgba(108,92,231,0.2)"
	}
	return &ChartSpec{
		Type: kind,
		Data: ChartData{
			Labels: labels,
			Datasets: []ChartDataset{{
				Label:           fmt.Sprintf("%s(%s)", op, y),
				Data:            data,
				BackgroundColor: background,
				BorderColor:     chartPalette[0],
				Fill:            kind == "bar",
				Tension:         lineTension(kind),
			}},
		},
		Options: ChartOptions{
			Responsive: true,
			Plugins:    ChartPlugins{Legend: ChartLegend{Display: true}},
		},
	}, nil
}

func lineTension(kind string) float64 {
	if kind == "line" {
		return 0.25
	}
	return 0
}

// isDateColumn reports whether an x column should be bucketed by calendar
// day based on its name.
func isDateColumn(name string) bool {
	return strings.Contains(name, "date") ||
		strings.Contains(name, "time") ||
		strings.HasSuffix(name, "_at") ||
		strings.HasSuffix(name, "timestamp")
}

// bucketLabel derives the bucket key for a cell. Date axes parse the value
// as a timestamp and bucket by day; unparseable timestamps land in a null
// bucket instead of failing the chart.
func bucketLabel(v any, dateAxis bool) string {
	if !dateAxis {
		return fmt.Sprint(v)
	}
	s, ok := v.(string)
	if !ok {
		return "null"
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format("2006-01-02")
		}
	}
	return "null"
}

func columnNumeric(rows []store.Row, col string) bool {
	for _, row := range rows {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		if _, isNum := store.Number(v); !isNum {
			return false
		}
	}
	return true
}
