package query

import (
	"reflect"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/UkralStul/campus-sync/internal/record"
)

// Match проверяет запись против всех фильтров запроса.
func (s Spec) Match(r record.Record) bool {
	for _, f := range s.Filters {
		v, ok := r.Get(f.Field)
		switch f.Op {
		case OpEq:
			if f.Value == nil {
				if ok && v != nil {
					return false
				}
				continue
			}
			if !ok || !equalValue(v, f.Value) {
				return false
			}
		case OpIn:
			if !ok || !anyEqual(listOf(f.Value), v) {
				return false
			}
		case OpContains:
			if !ok || !anyEqual(listOf(v), f.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Apply - эталонное исполнение запроса над полным набором документов коллекции:
// фильтр, сортировка (при равенстве - по ID), затем префиксное или суффиксное окно.
// Используется in-memory хранилищем и тестами.
func Apply(s Spec, recs []record.Record) []record.Record {
	out := make([]record.Record, 0, len(recs))
	for _, r := range recs {
		if s.Match(r) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b record.Record) int {
		c := compareValues(orderValue(a, s.OrderBy.Field), orderValue(b, s.OrderBy.Field))
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if s.OrderBy.Dir == Desc {
			return -c
		}
		return c
	})

	n := s.Limit.N
	switch s.Limit.Kind {
	case LimitPrefix:
		if n >= 0 && len(out) > n {
			out = out[:n]
		}
	case LimitSuffix:
		if n >= 0 && len(out) > n {
			out = out[len(out)-n:]
		}
	}
	return out
}

func orderValue(r record.Record, field string) any {
	if field == record.FieldCreatedAt {
		return r.CreatedAt()
	}
	v, _ := r.Get(field)
	return v
}

func compareValues(a, b any) int {
	switch x := a.(type) {
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	// nil и несравнимые значения идут первыми
	switch {
	case a == nil && b != nil:
		return -1
	case a != nil && b == nil:
		return 1
	}
	return 0
}

func equalValue(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func anyEqual(list []any, v any) bool {
	for _, x := range list {
		if equalValue(x, v) {
			return true
		}
	}
	return false
}

func listOf(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
