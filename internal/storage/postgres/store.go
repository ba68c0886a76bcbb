package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"golang.org/x/exp/slices"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/UkralStul/campus-sync/internal/query"
	"github.com/UkralStul/campus-sync/internal/record"
	"github.com/UkralStul/campus-sync/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// канал LISTEN/NOTIFY, в который триггер пишет имя изменённой коллекции
const notifyChannel = "documents"

// document - строка таблицы documents: одна запись любой коллекции.
type document struct {
	Collection string            `gorm:"primaryKey"`
	ID         string            `gorm:"primaryKey"`
	Data       datatypes.JSONMap `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time         `gorm:"->"` // ставит база
}

func (document) TableName() string { return "documents" }

func (d document) toRecord() record.Record {
	r := record.Record{ID: d.ID, Fields: make(map[string]any, len(d.Data)+1)}
	for k, v := range d.Data {
		r.Fields[k] = v
	}
	r.Fields[record.FieldCreatedAt] = d.CreatedAt.UTC()
	return r
}

// Store реализует storage.Store поверх PostgreSQL.
// Документы лежат в jsonb, изменения доставляются через LISTEN/NOTIFY.
type Store struct {
	db       *gorm.DB
	listener *pq.Listener
	hub      *storage.Hub

	// чтение и публикация снимков одной коллекции не перемешиваются
	refreshMu sync.Mutex
	done      chan struct{}
}

var _ storage.Store = (*Store)(nil)

// New подключается к базе, применяет миграции и начинает слушать изменения.
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			glog.Errorf("[postgres] listener event %d: %v", ev, err)
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", notifyChannel, err)
	}

	s := &Store{db: db, listener: listener, hub: storage.NewHub(), done: make(chan struct{})}
	go s.dispatch()
	glog.Infof("[postgres] store ready")
	return s, nil
}

// Close останавливает слушатель и закрывает соединения.
func (s *Store) Close() error {
	close(s.done)
	err := s.listener.Close()
	if sqlDB, dbErr := s.db.DB(); dbErr == nil {
		err = errors.Join(err, sqlDB.Close())
	}
	return err
}

func (s *Store) dispatch() {
	for {
		select {
		case <-s.done:
			return
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// переподключение: уведомления могли потеряться
				for _, c := range s.hub.Collections() {
					s.refresh(c)
				}
				continue
			}
			s.refresh(n.Extra)
		case <-time.After(90 * time.Second):
			go func() {
				if err := s.listener.Ping(); err != nil {
					glog.Errorf("[postgres] listener ping: %v", err)
				}
			}()
		}
	}
}

func (s *Store) refresh(collection string) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	for _, sub := range s.hub.Collection(collection) {
		recs, err := s.Get(context.Background(), sub.Spec)
		if err != nil {
			glog.Errorf("[postgres] refresh %s: %v", sub.Spec, err)
			sub.Stream.Fail(err)
			continue
		}
		sub.Stream.Publish(storage.Snapshot{Records: recs})
	}
}

// === Live queries ===

func (s *Store) Subscribe(ctx context.Context, spec query.Spec) (*storage.Stream, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	recs, err := s.Get(ctx, spec)
	if err != nil {
		return nil, err
	}
	sub := s.hub.Register(spec)
	sub.Stream.Publish(storage.Snapshot{Records: recs})

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
	where, args, err := whereClause(spec)
	if err != nil {
		return nil, err
	}
	tx := s.db.WithContext(ctx).Where(where, args...).Order(orderClause(spec))
	if spec.Limit.Kind != query.LimitNone && spec.Limit.N > 0 {
		tx = tx.Limit(spec.Limit.N)
	}

	var docs []document
	if err := tx.Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("query %s: %w", spec, err)
	}
	if spec.Limit.Kind == query.LimitSuffix {
		slices.Reverse(docs)
	}
	recs := make([]record.Record, len(docs))
	for i, d := range docs {
		recs[i] = d.toRecord()
	}
	return recs, nil
}

// === Mutations ===

func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	doc := document{Collection: collection, ID: uuid.NewString(), Data: datatypes.JSONMap{}}
	for k, v := range fields {
		if k == record.FieldID || k == record.FieldCreatedAt {
			continue
		}
		doc.Data[k] = v
	}
	if err := s.db.WithContext(ctx).Create(&doc).Error; err != nil {
		return "", fmt.Errorf("insert %s: %w", collection, err)
	}
	return doc.ID, nil
}

func (s *Store) SetAdd(ctx context.Context, collection, docID, field, value string) error {
	return s.updateSet(ctx, collection, docID, field, func(set []string) ([]string, bool) {
		if slices.Contains(set, value) {
			return set, false
		}
		return append(set, value), true
	})
}

func (s *Store) SetRemove(ctx context.Context, collection, docID, field, value string) error {
	return s.updateSet(ctx, collection, docID, field, func(set []string) ([]string, bool) {
		i := slices.Index(set, value)
		if i < 0 {
			return set, false
		}
		return slices.Delete(set, i, i+1), true
	})
}

func (s *Store) UpdateFields(ctx context.Context, collection, docID string, fields map[string]any) error {
	patch := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == record.FieldID || k == record.FieldCreatedAt {
			continue
		}
		patch[k] = v
	}
	if len(patch) == 0 {
		return nil
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	res := s.db.WithContext(ctx).Model(&document{}).
		Where("collection = ? AND id = ?", collection, docID).
		Update("data", gorm.Expr("data || ?::jsonb", string(raw)))
	if res.Error != nil {
		return fmt.Errorf("update %s/%s: %w", collection, docID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s/%s: %w", collection, docID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteDoc(ctx context.Context, collection, docID string) error {
	res := s.db.WithContext(ctx).Where("collection = ? AND id = ?", collection, docID).Delete(&document{})
	if res.Error != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, docID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s/%s: %w", collection, docID, storage.ErrNotFound)
	}
	return nil
}

// updateSet меняет множество под блокировкой строки, поэтому параллельные
// добавления и удаления не теряют друг друга.
func (s *Store) updateSet(ctx context.Context, collection, docID, field string, fn func([]string) ([]string, bool)) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&doc, "collection = ? AND id = ?", collection, docID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%s/%s: %w", collection, docID, storage.ErrNotFound)
			}
			return err
		}

		set, changed := fn(stringsOf(doc.Data[field]))
		if !changed {
			return nil
		}
		if doc.Data == nil {
			doc.Data = datatypes.JSONMap{}
		}
		doc.Data[field] = set
		return tx.Model(&document{}).
			Where("collection = ? AND id = ?", collection, docID).
			Update("data", doc.Data).Error
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("update %s/%s.%s: %w", collection, docID, field, err)
	}
	return err
}

func stringsOf(v any) []string {
	switch vv := v.(type) {
	case []string:
		return slices.Clone(vv)
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}
