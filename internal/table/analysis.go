package table

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/maraichr/cellforge/pkg/models"
)

type ColumnType string

const (
	TypeInteger  ColumnType = "integer"
	TypeFloat    ColumnType = "float"
	TypeDatetime ColumnType = "datetime"
	TypeBoolean  ColumnType = "boolean"
	TypeText     ColumnType = "text"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"01-02-06",
	"2/1/2006",
}

// ValueCount is one entry of a frequency table.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// ColumnAnalysis describes the contents of one column. Numeric fields are
// only set for integer and float columns.
type ColumnAnalysis struct {
	Name      string       `json:"name"`
	Type      ColumnType   `json:"type"`
	Count     int          `json:"count"`
	Missing   int          `json:"missing"`
	Unique    int          `json:"unique"`
	Min       *float64     `json:"min,omitempty"`
	Max       *float64     `json:"max,omitempty"`
	Mean      *float64     `json:"mean,omitempty"`
	Median    *float64     `json:"median,omitempty"`
	Std       *float64     `json:"std,omitempty"`
	TopValues []ValueCount `json:"top_values,omitempty"`
}

// Summary is the whole-table overview.
type Summary struct {
	Rows        int                       `json:"rows"`
	Columns     int                       `json:"columns"`
	ColumnTypes map[string]ColumnType     `json:"column_types"`
	Missing     map[string]int            `json:"missing_values"`
	Stats       map[string]ColumnAnalysis `json:"column_stats"`
}

// ColumnTypes infers a type for every column from its non-empty values.
func (t *Table) ColumnTypes() map[string]ColumnType {
	out := make(map[string]ColumnType, len(t.columns))
	for _, c := range t.columns {
		vals, _ := t.Column(c)
		out[c] = inferType(vals)
	}
	return out
}

func inferType(vals []any) ColumnType {
	var ints, floats, bools, dates, seen int
	for _, v := range vals {
		if v == nil {
			continue
		}
		seen++
		switch x := v.(type) {
		case int64, int:
			ints++
		case float64:
			floats++
		case bool:
			bools++
		case string:
			if isDate(x) {
				dates++
			}
		}
	}
	switch {
	case seen == 0:
		return TypeText
	case ints == seen:
		return TypeInteger
	case ints+floats == seen:
		return TypeFloat
	case bools == seen:
		return TypeBoolean
	case dates == seen:
		return TypeDatetime
	default:
		return TypeText
	}
}

func isDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// AnalyzeColumn computes counts, numeric statistics and the five most
// frequent values of one column.
func (t *Table) AnalyzeColumn(name string) (ColumnAnalysis, error) {
	vals, ok := t.Column(name)
	if !ok {
		return ColumnAnalysis{}, fmt.Errorf("column %q not found", name)
	}
	a := ColumnAnalysis{Name: name, Type: inferType(vals), Count: len(vals)}

	freq := make(map[string]int)
	var nums []float64
	for _, v := range vals {
		if v == nil {
			a.Missing++
			continue
		}
		freq[models.Stringify(v)]++
		switch x := v.(type) {
		case int64:
			nums = append(nums, float64(x))
		case int:
			nums = append(nums, float64(x))
		case float64:
			nums = append(nums, x)
		}
	}
	a.Unique = len(freq)

	if (a.Type == TypeInteger || a.Type == TypeFloat) && len(nums) > 0 {
		a.Min, a.Max, a.Mean, a.Median, a.Std = numericStats(nums)
	}
	a.TopValues = topValues(freq, 5)
	return a, nil
}

// Summary analyzes every column.
func (t *Table) Summary() Summary {
	s := Summary{
		Rows:        t.Len(),
		Columns:     len(t.columns),
		ColumnTypes: t.ColumnTypes(),
		Missing:     make(map[string]int, len(t.columns)),
		Stats:       make(map[string]ColumnAnalysis, len(t.columns)),
	}
	for _, c := range t.columns {
		a, _ := t.AnalyzeColumn(c)
		s.Missing[c] = a.Missing
		s.Stats[c] = a
	}
	return s
}

func numericStats(nums []float64) (minV, maxV, mean, median, std *float64) {
	sorted := make([]float64, len(nums))
	copy(sorted, nums)
	sort.Float64s(sorted)

	var sum float64
	for _, n := range sorted {
		sum += n
	}
	n := float64(len(sorted))
	m := sum / n

	var med float64
	if mid := len(sorted) / 2; len(sorted)%2 == 0 {
		med = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		med = sorted[mid]
	}

	lo, hi := sorted[0], sorted[len(sorted)-1]
	minV, maxV, mean, median = &lo, &hi, &m, &med
	if len(sorted) > 1 {
		var sq float64
		for _, x := range sorted {
			sq += (x - m) * (x - m)
		}
		sd := math.Sqrt(sq / (n - 1))
		std = &sd
	}
	return minV, maxV, mean, median, std
}

func topValues(freq map[string]int, k int) []ValueCount {
	out := make([]ValueCount, 0, len(freq))
	for v, c := range freq {
		out = append(out, ValueCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
