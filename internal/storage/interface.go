package storage

import (
	"context"
	"errors"

	"github.com/UkralStul/campus-sync/internal/query"
	"github.com/UkralStul/campus-sync/internal/record"
)

// ErrNotFound возвращается мутациями над несуществующим документом.
var ErrNotFound = errors.New("document not found")

// Store определяет контракт удалённого хранилища коллекций.
type Store interface {
	// Subscribe открывает живой запрос. Первый снимок приходит сразу,
	// далее полный снимок - на каждое изменение результата.
	Subscribe(ctx context.Context, spec query.Spec) (*Stream, error)
	// Get - разовое чтение результата запроса.
	Get(ctx context.Context, spec query.Spec) ([]record.Record, error)

	// Create добавляет документ; createdAt назначает хранилище.
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)
	// SetAdd и SetRemove атомарны и идемпотентны.
	SetAdd(ctx context.Context, collection, docID, field, value string) error
	SetRemove(ctx context.Context, collection, docID, field, value string) error
	UpdateFields(ctx context.Context, collection, docID string, fields map[string]any) error
	DeleteDoc(ctx context.Context, collection, docID string) error
}
