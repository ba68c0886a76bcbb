package storage

import (
	"sync"

	"github.com/google/uuid"

	"github.com/UkralStul/campus-sync/internal/query"
)

// Subscriber - живой запрос, зарегистрированный в Hub.
type Subscriber struct {
	ID     string
	Spec   query.Spec
	Stream *Stream
}

// Hub хранит подписчиков по коллекциям для хранилищ, которые сами
// пересчитывают запросы после изменений.
type Hub struct {
	mu sync.RWMutex
	//          map[collection] map[subscriberID] subscriber
	subs map[string]map[string]*Subscriber
}

// NewHub - конструктор.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[string]*Subscriber)}
}

// Register создаёт поток и регистрирует его. Отмена потока снимает регистрацию.
func (h *Hub) Register(spec query.Spec) *Subscriber {
	sub := &Subscriber{ID: uuid.NewString(), Spec: spec}
	sub.Stream = NewStream(func() { h.remove(spec.Collection, sub.ID) })

	h.mu.Lock()
	if h.subs[spec.Collection] == nil {
		h.subs[spec.Collection] = make(map[string]*Subscriber)
	}
	h.subs[spec.Collection][sub.ID] = sub
	h.mu.Unlock()
	return sub
}

// Collection возвращает копию списка подписчиков коллекции.
func (h *Hub) Collection(collection string) []*Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Subscriber, 0, len(h.subs[collection]))
	for _, s := range h.subs[collection] {
		out = append(out, s)
	}
	return out
}

// Collections - коллекции, на которые есть хотя бы одна подписка.
func (h *Hub) Collections() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.subs))
	for c := range h.subs {
		out = append(out, c)
	}
	return out
}

// Len - число активных подписок.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, m := range h.subs {
		n += len(m)
	}
	return n
}

func (h *Hub) remove(collection, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subs[collection]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(h.subs, collection)
		}
	}
}
