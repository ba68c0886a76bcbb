package record

import "time"

// Имена полей, которые хранилища заполняют сами.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
)

// Record представляет сырой документ удалённой коллекции.
// Форма Fields не гарантируется: старые документы могут не содержать полей,
// добавленных позже. Типизация происходит только в пакете normalize.
type Record struct {
	ID     string
	Fields map[string]any
}

// Get возвращает значение поля; FieldID отдаёт идентификатор документа.
func (r Record) Get(field string) (any, bool) {
	if field == FieldID {
		return r.ID, r.ID != ""
	}
	v, ok := r.Fields[field]
	return v, ok
}

// CreatedAt возвращает серверное время создания или нулевое время,
// если хранилище ещё не проставило его.
func (r Record) CreatedAt() time.Time {
	switch v := r.Fields[FieldCreatedAt].(type) {
	case time.Time:
		return v
	case *time.Time:
		if v != nil {
			return *v
		}
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Clone делает глубокую копию, чтобы подписчики не делили состояние с хранилищем.
func (r Record) Clone() Record {
	out := Record{ID: r.ID, Fields: make(map[string]any, len(r.Fields))}
	for k, v := range r.Fields {
		out.Fields[k] = CloneValue(v)
	}
	return out
}

// CloneValue копирует срезы и карты рекурсивно, скаляры возвращает как есть.
func CloneValue(v any) any {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = CloneValue(t[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = CloneValue(x)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i := range t {
			out[i] = CloneValue(t[i]).(map[string]any)
		}
		return out
	default:
		return v
	}
}

// CloneAll копирует список записей.
func CloneAll(recs []Record) []Record {
	out := make([]Record, len(recs))
	for i := range recs {
		out[i] = recs[i].Clone()
	}
	return out
}
