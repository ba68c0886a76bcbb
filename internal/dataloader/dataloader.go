package dataloader

import (
	"context"
	"net/http"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/UkralStul/campus-sync/internal/domain"
	"github.com/UkralStul/campus-sync/internal/normalize"
	"github.com/UkralStul/campus-sync/internal/query"
	"github.com/UkralStul/campus-sync/internal/storage"
)

type contextKey string

const key = contextKey("dataloaders")

// Loaders содержит все дата-лоадеры запроса.
type Loaders struct {
	CommentsByPostID *dataloader.Loader
}

// NewLoaders создаёт лоадеры поверх хранилища. Лоадеры живут один запрос.
func NewLoaders(store storage.Store) *Loaders {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		postIDs := keys.Keys()

		// один запрос на все посты страницы
		recs, err := store.Get(ctx, query.CommentsForPosts(postIDs))
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		byPost := make(map[string][]domain.Comment, len(postIDs))
		for _, c := range normalize.All(recs, normalize.Comment) {
			byPost[c.PostID] = append(byPost[c.PostID], c)
		}

		// результат в том же порядке, что и ключи
		results := make([]*dataloader.Result, len(keys))
		for i, postID := range postIDs {
			results[i] = &dataloader.Result{Data: byPost[postID]}
		}
		return results
	}

	return &Loaders{
		CommentsByPostID: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(time.Millisecond)),
	}
}

// Middleware кладёт свежие лоадеры в контекст каждого запроса.
func Middleware(store storage.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), key, NewLoaders(store))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// For извлекает лоадеры из контекста.
func For(ctx context.Context) *Loaders {
	return ctx.Value(key).(*Loaders)
}

// CommentsThunk ставит пост в текущий батч и возвращает функцию ожидания результата.
// Все посты, поставленные до первого ожидания, читаются одним запросом.
func (l *Loaders) CommentsThunk(ctx context.Context, postID string) func() ([]domain.Comment, error) {
	thunk := l.CommentsByPostID.Load(ctx, dataloader.StringKey(postID))
	return func() ([]domain.Comment, error) {
		v, err := thunk()
		if err != nil {
			return nil, err
		}
		comments, _ := v.([]domain.Comment)
		return comments, nil
	}
}

// Comments возвращает комментарии поста через батч-лоадер.
func (l *Loaders) Comments(ctx context.Context, postID string) ([]domain.Comment, error) {
	return l.CommentsThunk(ctx, postID)()
}
