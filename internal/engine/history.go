package engine

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

// HistoryKey is the scratch key holding the handler-authored history table.
const HistoryKey = "history"

// History is a homogeneous table of handler-authored records: every row
// carries every column, with nil where a row never set it.
type History struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Append adds row and reconciles the column set in both directions.
func (h *History) Append(row map[string]any) {
	added := lo.Filter(lo.Keys(row), func(k string, _ int) bool {
		return !lo.Contains(h.Columns, k)
	})
	sort.Strings(added)
	h.Columns = append(h.Columns, added...)
	for _, old := range h.Rows {
		for _, c := range added {
			old[c] = nil
		}
	}
	r := make(map[string]any, len(h.Columns))
	for _, c := range h.Columns {
		r[c] = row[c]
	}
	h.Rows = append(h.Rows, r)
}

// Table returns the rows as ordered value slices matching Columns.
func (h *History) Table() [][]any {
	out := make([][]any, len(h.Rows))
	for i, row := range h.Rows {
		vals := make([]any, len(h.Columns))
		for j, c := range h.Columns {
			vals[j] = row[c]
		}
		out[i] = vals
	}
	return out
}

// HistoryOf returns the history stored in rc's scratch area, creating it on
// first use.
func HistoryOf(rc *RunContext) *History {
	rc.Normalize()
	if h, ok := rc.Scratch[HistoryKey].(*History); ok {
		return h
	}
	h := &History{}
	rc.Scratch[HistoryKey] = h
	return h
}

// AppendHistory records one operation outcome. Params and metrics become
// "params.<k>" and "metrics.<k>" columns.
func AppendHistory(rc *RunContext, op string, params Args, status string, metrics map[string]any) *History {
	row := map[string]any{
		"op":     op,
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range params {
		row["params."+k] = v
	}
	for k, v := range metrics {
		row["metrics."+k] = v
	}
	h := HistoryOf(rc)
	h.Append(row)
	return h
}
