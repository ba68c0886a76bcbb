package query

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Op - оператор фильтра.
type Op string

const (
	OpEq       Op = "=="
	OpIn       Op = "in"
	OpContains Op = "array-contains"
)

// Direction - направление сортировки.
type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// LimitKind различает окна: Prefix растёт при прокрутке, Suffix - фиксированный хвост.
type LimitKind int

const (
	LimitNone LimitKind = iota
	LimitPrefix
	LimitSuffix
)

func (k LimitKind) String() string {
	switch k {
	case LimitPrefix:
		return "first"
	case LimitSuffix:
		return "last"
	}
	return "all"
}

// Filter - условие (field op value). Value == nil с OpEq означает
// "поле отсутствует или равно null".
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Order - поле и направление сортировки.
type Order struct {
	Field string
	Dir   Direction
}

// Limit - размер окна результата.
type Limit struct {
	Kind LimitKind
	N    int
}

// Spec описывает живой запрос к одной коллекции.
type Spec struct {
	Collection string
	Filters    []Filter
	OrderBy    Order
	Limit      Limit
}

var ErrNotPaginated = errors.New("query is not prefix-limited")

// Paginated сообщает, можно ли наращивать окно запроса.
func (s Spec) Paginated() bool { return s.Limit.Kind == LimitPrefix }

// WithWindow возвращает копию запроса с новым размером префиксного окна.
func (s Spec) WithWindow(n int) (Spec, error) {
	if !s.Paginated() {
		return Spec{}, fmt.Errorf("%s: %w", s.Key(), ErrNotPaginated)
	}
	out := s
	out.Filters = slices.Clone(s.Filters)
	out.Limit.N = n
	return out, nil
}

// Equal сравнивает запросы по значению.
func (s Spec) Equal(o Spec) bool {
	return s.Key() == o.Key()
}

// Key - каноническое строковое представление запроса.
func (s Spec) Key() string {
	var b strings.Builder
	b.WriteString(s.Collection)
	for _, f := range s.Filters {
		fmt.Fprintf(&b, "|%s %s %s", f.Field, f.Op, formatValue(f.Value))
	}
	fmt.Fprintf(&b, "|order %s %s", s.OrderBy.Field, s.OrderBy.Dir)
	if s.Limit.Kind != LimitNone {
		fmt.Fprintf(&b, "|%s %d", s.Limit.Kind, s.Limit.N)
	}
	return b.String()
}

func (s Spec) String() string { return s.Key() }

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", t)
	case []string:
		q := make([]string, len(t))
		for i := range t {
			q[i] = fmt.Sprintf("%q", t[i])
		}
		return "[" + strings.Join(q, ",") + "]"
	default:
		return fmt.Sprintf("%v", t)
	}
}
