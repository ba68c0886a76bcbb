package storage

import (
	"sync"

	"github.com/UkralStul/campus-sync/internal/record"
)

// Snapshot - полный результат запроса на момент изменения.
// Непустой Err завершает поток.
type Snapshot struct {
	Records []record.Record
	Err     error
}

// Stream - поток снимков одной подписки.
// Неполученный снимок заменяется более новым: снимки полные,
// поэтому потерять промежуточный безопасно, а порядок сохраняется.
type Stream struct {
	C <-chan Snapshot

	ch      chan Snapshot
	mu      sync.Mutex
	closed  bool
	once    sync.Once
	release func()
	done    chan struct{}
}

// NewStream создаёт поток; release вызывается ровно один раз при отмене.
func NewStream(release func()) *Stream {
	ch := make(chan Snapshot, 1)
	return &Stream{C: ch, ch: ch, release: release, done: make(chan struct{})}
}

// Publish отправляет снимок, вытесняя недоставленный. Возвращает false,
// если поток уже закрыт.
func (s *Stream) Publish(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
	return true
}

// Fail доставляет ошибку последним снимком и закрывает поток.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	if !s.closed {
		select {
		case <-s.ch:
		default:
		}
		s.ch <- Snapshot{Err: err}
		s.closeLocked()
	}
	s.mu.Unlock()
	s.Cancel()
}

// Cancel закрывает поток и освобождает ресурсы хранилища. Повторные вызовы безопасны.
func (s *Stream) Cancel() {
	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()

	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// Done закрывается при отмене или ошибке.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	close(s.done)
}
