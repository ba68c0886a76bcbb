package inmemory

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
	"golang.org/x/exp/slices"

	"github.com/UkralStul/campus-sync/internal/query"
	"github.com/UkralStul/campus-sync/internal/record"
	"github.com/UkralStul/campus-sync/internal/storage"
)

// Store реализует интерфейс Storage в памяти, включая живые подписки.
type Store struct {
	mu      sync.RWMutex
	docs    map[string]map[string]record.Record // map[collection]map[docID]
	hub     *storage.Hub
	now     func() time.Time
	last    time.Time
	entropy io.Reader
}

// Option настраивает Store.
type Option func(*Store)

// WithClock подменяет источник серверного времени.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New создает новый экземпляр in-memory хранилища.
func New(opts ...Option) *Store {
	s := &Store{
		docs:    make(map[string]map[string]record.Record),
		hub:     storage.NewHub(),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ storage.Store = (*Store)(nil)

// Subscribers - число открытых подписок.
func (s *Store) Subscribers() int { return s.hub.Len() }

// === Live queries ===

func (s *Store) Subscribe(ctx context.Context, spec query.Spec) (*storage.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	sub := s.hub.Register(spec)
	sub.Stream.Publish(storage.Snapshot{Records: s.evaluate(spec)})
	s.mu.Unlock()

	glog.V(2).Infof("[inmemory] subscribe %s (%s)", sub.ID, spec)

	// Горутина для очистки при отмене контекста
	go func() {
		select {
		case <-ctx.Done():
			sub.Stream.Cancel()
		case <-sub.Stream.Done():
		}
	}()
	return sub.Stream, nil
}

func (s *Store) Get(ctx context.Context, spec query.Spec) ([]record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evaluate(spec), nil
}

// === Mutations ===

func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.tick()
	id := ulid.MustNew(ulid.Timestamp(now), s.entropy).String()

	doc := record.Record{ID: id, Fields: make(map[string]any, len(fields)+1)}
	for k, v := range fields {
		if k == record.FieldID {
			continue
		}
		doc.Fields[k] = record.CloneValue(v)
	}
	doc.Fields[record.FieldCreatedAt] = now

	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]record.Record)
	}
	s.docs[collection][id] = doc
	s.notify(collection)
	return id, nil
}

func (s *Store) SetAdd(ctx context.Context, collection, docID, field, value string) error {
	return s.updateSet(collection, docID, field, func(set []string) ([]string, bool) {
		if slices.Contains(set, value) {
			return set, false
		}
		return append(set, value), true
	})
}

func (s *Store) SetRemove(ctx context.Context, collection, docID, field, value string) error {
	return s.updateSet(collection, docID, field, func(set []string) ([]string, bool) {
		i := slices.Index(set, value)
		if i < 0 {
			return set, false
		}
		return slices.Delete(set, i, i+1), true
	})
}

func (s *Store) UpdateFields(ctx context.Context, collection, docID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[collection][docID]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, docID, storage.ErrNotFound)
	}
	for k, v := range fields {
		if k == record.FieldID || k == record.FieldCreatedAt {
			continue
		}
		doc.Fields[k] = record.CloneValue(v)
	}
	s.notify(collection)
	return nil
}

func (s *Store) DeleteDoc(ctx context.Context, collection, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[collection][docID]; !ok {
		return fmt.Errorf("%s/%s: %w", collection, docID, storage.ErrNotFound)
	}
	delete(s.docs[collection], docID)
	s.notify(collection)
	return nil
}

// === helpers ===

func (s *Store) updateSet(collection, docID, field string, fn func([]string) ([]string, bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[collection][docID]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, docID, storage.ErrNotFound)
	}
	set, changed := fn(stringsOf(doc.Fields[field]))
	if !changed {
		return nil
	}
	doc.Fields[field] = set
	s.notify(collection)
	return nil
}

// evaluate вызывается под блокировкой.
func (s *Store) evaluate(spec query.Spec) []record.Record {
	all := make([]record.Record, 0, len(s.docs[spec.Collection]))
	for _, d := range s.docs[spec.Collection] {
		all = append(all, d)
	}
	return record.CloneAll(query.Apply(spec, all))
}

// notify пересчитывает запросы подписчиков коллекции. Вызывается под s.mu,
// поэтому снимки одной подписки уходят строго в порядке изменений.
func (s *Store) notify(collection string) {
	for _, sub := range s.hub.Collection(collection) {
		if !sub.Stream.Publish(storage.Snapshot{Records: s.evaluate(sub.Spec)}) {
			glog.V(2).Infof("[inmemory] skip closed subscriber %s", sub.ID)
		}
	}
}

// tick выдаёт строго возрастающее серверное время.
func (s *Store) tick() time.Time {
	now := s.now().UTC()
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}

func stringsOf(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if str, ok := x.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return []string{}
}
