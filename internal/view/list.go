// Package view собирает экраны портала из запроса, подписки, пагинации
// и нормализации.
package view

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/UkralStul/campus-sync/internal/pagination"
	"github.com/UkralStul/campus-sync/internal/query"
	"github.com/UkralStul/campus-sync/internal/record"
	"github.com/UkralStul/campus-sync/internal/storage"
	"github.com/UkralStul/campus-sync/internal/subscription"
)

// ErrNotMounted - экран не смонтирован или уже размонтирован.
var ErrNotMounted = errors.New("view is not mounted")

// List - живой список сущностей одного экрана. Список заменяется целиком
// на каждый снимок и никогда не правится локально.
type List[T any] struct {
	view   query.View
	params query.Params
	decode func(record.Record) T

	manager *subscription.Manager
	pager   *pagination.Controller // nil для экранов без прокрутки

	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	items    []T
	loaded   bool
	err      error
	onChange func()
}

// ListOption настраивает List.
type ListOption func(*listOptions)

type listOptions struct {
	onChange  func()
	window    int
	increment int
}

// OnChange вызывается после каждого применённого снимка или ошибки.
func OnChange(fn func()) ListOption {
	return func(o *listOptions) { o.onChange = fn }
}

// WithWindow меняет начальный размер окна и шаг роста.
func WithWindow(initial, increment int) ListOption {
	return func(o *listOptions) { o.window, o.increment = initial, increment }
}

// NewList создаёт экран. Растущее окно подключается для экранов с бесконечной прокруткой.
func NewList[T any](store storage.Store, v query.View, p query.Params, decode func(record.Record) T, opts ...ListOption) *List[T] {
	o := listOptions{window: query.DefaultWindow, increment: query.PageIncrement}
	for _, opt := range opts {
		opt(&o)
	}

	l := &List[T]{view: v, params: p, decode: decode, onChange: o.onChange}
	if query.Growable(v) {
		l.pager = pagination.New(o.window, o.increment)
	}
	l.manager = subscription.New(store,
		subscription.Named(string(v)),
		subscription.OnSnapshot(l.applySnapshot),
		subscription.OnError(l.applyError),
	)
	return l
}

// Mount открывает живой запрос. Подписка живёт до Unmount или отмены ctx.
// Повторный Mount смонтированного экрана ничего не делает, после ошибки
// подписки переоткрывает запрос. Размонтированный экран смонтировать нельзя.
func (l *List[T]) Mount(ctx context.Context) error {
	l.mu.Lock()
	if l.ctx != nil {
		mountCtx := l.ctx
		l.mu.Unlock()
		if mountCtx.Err() != nil || l.manager.State() == subscription.Cancelled {
			return fmt.Errorf("mount %s: %w", l.view, subscription.ErrClosed)
		}
		if l.manager.State() != subscription.Failed {
			return nil
		}
		spec, err := query.Build(l.view, l.currentParams())
		if err != nil {
			return err
		}
		glog.V(2).Infof("[view] remount %s after failure", l.view)
		return l.manager.Open(mountCtx, spec)
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	mountCtx := l.ctx
	l.mu.Unlock()

	spec, err := query.Build(l.view, l.currentParams())
	if err != nil {
		l.Unmount()
		return err
	}
	glog.V(2).Infof("[view] mount %s", l.view)
	return l.manager.Open(mountCtx, spec)
}

// Unmount отменяет подписку и пагинацию. Поздние снимки игнорируются.
func (l *List[T]) Unmount() {
	l.manager.Close()
	if l.pager != nil {
		l.pager.Close()
	}
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Unlock()
	glog.V(2).Infof("[view] unmount %s", l.view)
}

// LoadMore вызывается, когда стал виден конец списка. Возвращает true,
// если окно выросло и запрос переоткрыт.
func (l *List[T]) LoadMore() (bool, error) {
	if l.pager == nil {
		return false, nil
	}
	l.mu.RLock()
	ctx := l.ctx
	l.mu.RUnlock()
	if ctx == nil || ctx.Err() != nil {
		return false, ErrNotMounted
	}

	limit, grew := l.pager.ThresholdReached()
	if !grew {
		return false, nil
	}
	p := l.params
	p.Window = limit
	spec, err := query.Build(l.view, p)
	if err != nil {
		return false, err
	}
	if err := l.manager.Open(ctx, spec); err != nil {
		return false, err
	}
	return true, nil
}

// Items - текущий список; срез принадлежит вызывающему.
func (l *List[T]) Items() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Loaded - пришёл хотя бы один снимок.
func (l *List[T]) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

// Err - ошибка подписки; последние данные при этом остаются в Items.
func (l *List[T]) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Exhausted - прокрутка дошла до конца данных.
func (l *List[T]) Exhausted() bool {
	if l.pager == nil {
		return true
	}
	return l.pager.Exhausted()
}

// Window - текущий размер окна; 0 для экранов без прокрутки.
func (l *List[T]) Window() int {
	if l.pager == nil {
		return 0
	}
	return l.pager.Limit()
}

func (l *List[T]) State() subscription.State { return l.manager.State() }

func (l *List[T]) View() query.View { return l.view }

func (l *List[T]) currentParams() query.Params {
	p := l.params
	if l.pager != nil {
		p.Window = l.pager.Limit()
	}
	return p
}

func (l *List[T]) applySnapshot(spec query.Spec, recs []record.Record) {
	items := make([]T, len(recs))
	for i, r := range recs {
		items[i] = l.decode(r)
	}

	if l.pager != nil && spec.Paginated() {
		l.pager.SnapshotApplied(spec.Limit.N, len(recs))
	}

	l.mu.Lock()
	l.items = items
	l.loaded = true
	l.err = nil
	l.mu.Unlock()
	if l.onChange != nil {
		l.onChange()
	}
}

func (l *List[T]) applyError(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
	if l.onChange != nil {
		l.onChange()
	}
}
