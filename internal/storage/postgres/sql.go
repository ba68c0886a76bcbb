package postgres

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/UkralStul/campus-sync/internal/query"
	"github.com/UkralStul/campus-sync/internal/record"
)

// имена полей подставляются в SQL, поэтому допускаются только простые идентификаторы
var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// column возвращает SQL-выражение поля: служебные поля лежат в колонках,
// остальные - в jsonb. asText выбирает ->> вместо ->.
func column(field string, asText bool) (string, error) {
	switch field {
	case record.FieldID:
		return "id", nil
	case record.FieldCreatedAt:
		return "created_at", nil
	}
	if !fieldName.MatchString(field) {
		return "", fmt.Errorf("invalid field name %q", field)
	}
	if asText {
		return fmt.Sprintf("data->>'%s'", field), nil
	}
	return fmt.Sprintf("data->'%s'", field), nil
}

// whereClause переводит фильтры запроса в условие для gorm.
func whereClause(spec query.Spec) (string, []any, error) {
	conds := []string{"collection = ?"}
	args := []any{spec.Collection}

	for _, f := range spec.Filters {
		switch f.Op {
		case query.OpEq:
			if f.Value == nil {
				col, err := column(f.Field, false)
				if err != nil {
					return "", nil, err
				}
				if f.Field == record.FieldID || f.Field == record.FieldCreatedAt {
					conds = append(conds, col+" IS NULL")
				} else {
					conds = append(conds, fmt.Sprintf("(%s IS NULL OR %s = 'null'::jsonb)", col, col))
				}
				continue
			}
			if s, ok := f.Value.(string); ok {
				col, err := column(f.Field, true)
				if err != nil {
					return "", nil, err
				}
				conds = append(conds, col+" = ?")
				args = append(args, s)
				continue
			}
			col, err := column(f.Field, false)
			if err != nil {
				return "", nil, err
			}
			raw, err := json.Marshal(f.Value)
			if err != nil {
				return "", nil, fmt.Errorf("encode %s: %w", f.Field, err)
			}
			conds = append(conds, col+" = ?::jsonb")
			args = append(args, string(raw))

		case query.OpIn:
			col, err := column(f.Field, true)
			if err != nil {
				return "", nil, err
			}
			values := textValues(f.Value)
			if len(values) == 0 {
				conds = append(conds, "FALSE")
				continue
			}
			conds = append(conds, col+" IN ?")
			args = append(args, values)

		case query.OpContains:
			col, err := column(f.Field, false)
			if err != nil {
				return "", nil, err
			}
			conds = append(conds, col+" @> jsonb_build_array(?::text)")
			args = append(args, fmt.Sprint(f.Value))

		default:
			return "", nil, fmt.Errorf("unsupported operator %q", f.Op)
		}
	}
	return strings.Join(conds, " AND "), args, nil
}

// orderClause сортирует с добором по id; хвостовое окно читается в обратном порядке.
func orderClause(spec query.Spec) string {
	desc := spec.OrderBy.Dir == query.Desc
	if spec.Limit.Kind == query.LimitSuffix {
		desc = !desc
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	if spec.OrderBy.Field == "" {
		return "id " + dir
	}
	col, err := column(spec.OrderBy.Field, true)
	if err != nil {
		return "id " + dir
	}
	return fmt.Sprintf("%s %s, id %s", col, dir, dir)
}

func textValues(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			out = append(out, fmt.Sprint(x))
		}
		return out
	}
	return []string{fmt.Sprint(v)}
}
