package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/UkralStul/campus-sync/internal/query"
	"github.com/UkralStul/campus-sync/internal/record"
	"github.com/UkralStul/campus-sync/internal/storage"
)

// State - состояние живого запроса экрана.
type State int

const (
	Idle State = iota
	Subscribing
	Active
	Resubscribing
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	case Resubscribing:
		return "resubscribing"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrClosed - менеджер уже отменён и не может открыть новый запрос.
var ErrClosed = errors.New("subscription manager closed")

// Manager владеет единственным живым запросом одного экрана.
//
// Новый запрос открывается только после отмены предыдущего, поэтому два потока
// снимков никогда не пишут в одно состояние. Каждый снимок заменяет список
// целиком. Снимки старых поколений и пришедшие после Close отбрасываются.
// Ошибка переводит менеджер в Failed, последние удачные данные сохраняются.
type Manager struct {
	store storage.Store
	name  string

	lifecycle sync.Mutex // Open/Close
	deliver   sync.Mutex // колбэки по одному, в порядке доставки

	mu      sync.Mutex
	state   State
	spec    query.Spec
	hasSpec bool
	stream  *storage.Stream
	gen     uint64
	records []record.Record
	err     error

	onSnapshot func(spec query.Spec, recs []record.Record)
	onError    func(err error)
}

// Option настраивает Manager.
type Option func(*Manager)

// OnSnapshot задаёт обработчик применённых снимков. Обработчик не должен
// синхронно вызывать Open или Close.
func OnSnapshot(fn func(spec query.Spec, recs []record.Record)) Option {
	return func(m *Manager) { m.onSnapshot = fn }
}

// OnError задаёт обработчик ошибки подписки.
func OnError(fn func(err error)) Option {
	return func(m *Manager) { m.onError = fn }
}

// Named задаёт имя для логов.
func Named(name string) Option {
	return func(m *Manager) { m.name = name }
}

func New(store storage.Store, opts ...Option) *Manager {
	m := &Manager{store: store, name: "view"}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open открывает запрос при монтировании или смене параметров.
// Равный текущему живой запрос не переоткрывается. После возврата колбэки
// прежнего запроса больше не вызываются.
func (m *Manager) Open(ctx context.Context, spec query.Spec) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	// колбэк старого поколения, уже начавший доставку, завершается до смены поколения
	m.deliver.Lock()
	m.mu.Lock()
	if m.state == Cancelled {
		m.mu.Unlock()
		m.deliver.Unlock()
		return ErrClosed
	}
	if m.hasSpec && m.spec.Equal(spec) && m.live() {
		m.mu.Unlock()
		m.deliver.Unlock()
		return nil
	}
	old := m.stream
	m.stream = nil
	m.gen++
	gen := m.gen
	if m.hasSpec {
		m.state = Resubscribing
	} else {
		m.state = Subscribing
	}
	m.spec, m.hasSpec = spec, true
	m.err = nil
	m.mu.Unlock()
	m.deliver.Unlock()

	// старый поток отменяется до открытия нового
	if old != nil {
		old.Cancel()
	}

	stream, err := m.store.Subscribe(ctx, spec)
	if err != nil {
		m.mu.Lock()
		if m.gen == gen {
			m.state = Failed
			m.err = err
		}
		m.mu.Unlock()
		glog.Errorf("[subscription] %s: subscribe %s: %v", m.name, spec, err)
		return fmt.Errorf("subscribe %s: %w", spec, err)
	}

	m.mu.Lock()
	m.stream = stream
	m.mu.Unlock()

	glog.V(2).Infof("[subscription] %s: open gen=%d %s", m.name, gen, spec)
	go m.pump(gen, spec, stream)
	return nil
}

// Close отменяет запрос ровно один раз. После возврата колбэки больше не вызываются.
func (m *Manager) Close() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.deliver.Lock()
	m.mu.Lock()
	if m.state == Cancelled {
		m.mu.Unlock()
		m.deliver.Unlock()
		return
	}
	m.state = Cancelled
	m.gen++
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()
	m.deliver.Unlock()

	if stream != nil {
		stream.Cancel()
	}
	glog.V(2).Infof("[subscription] %s: cancelled", m.name)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Records - последний применённый снимок.
func (m *Manager) Records() []record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]record.Record(nil), m.records...)
}

// Err - ошибка, переведшая менеджер в Failed.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Spec - текущий запрос.
func (m *Manager) Spec() (query.Spec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spec, m.hasSpec
}

func (m *Manager) live() bool {
	return m.state == Subscribing || m.state == Active || m.state == Resubscribing
}

func (m *Manager) pump(gen uint64, spec query.Spec, stream *storage.Stream) {
	for snap := range stream.C {
		if !m.apply(gen, spec, snap) {
			return
		}
	}
}

// apply применяет снимок, если его поколение всё ещё текущее.
func (m *Manager) apply(gen uint64, spec query.Spec, snap storage.Snapshot) bool {
	m.deliver.Lock()
	defer m.deliver.Unlock()

	m.mu.Lock()
	if gen != m.gen || m.state == Cancelled {
		m.mu.Unlock()
		glog.V(2).Infof("[subscription] %s: drop stale snapshot gen=%d", m.name, gen)
		return false
	}
	if snap.Err != nil {
		m.state = Failed
		m.err = snap.Err
		m.mu.Unlock()
		glog.Errorf("[subscription] %s: %s failed: %v", m.name, spec, snap.Err)
		if m.onError != nil {
			m.onError(snap.Err)
		}
		return false
	}
	m.records = snap.Records
	m.state = Active
	m.mu.Unlock()

	if m.onSnapshot != nil {
		m.onSnapshot(spec, snap.Records)
	}
	return true
}
