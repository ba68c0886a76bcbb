package pagination

import (
	"sync"

	"github.com/golang/glog"
)

// Controller управляет растущим окном одного экрана.
// Окно никогда не уменьшается: иначе видимые записи исчезали бы с экрана.
type Controller struct {
	mu        sync.Mutex
	limit     int
	increment int
	inFlight  bool
	exhausted bool
	closed    bool
}

// New создаёт контроллер с начальным окном и шагом роста.
func New(initial, increment int) *Controller {
	if initial < 1 {
		initial = 1
	}
	if increment < 1 {
		increment = 1
	}
	return &Controller{limit: initial, increment: increment}
}

// Limit - текущий размер окна.
func (c *Controller) Limit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit
}

// ThresholdReached вызывается, когда стал виден сторожевой элемент в конце списка.
// Окно растёт, только если предыдущий рост уже подтверждён снимком
// и данные не исчерпаны. Возвращает новый размер и признак роста.
func (c *Controller) ThresholdReached() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.inFlight || c.exhausted {
		return c.limit, false
	}
	c.limit += c.increment
	c.inFlight = true
	glog.V(2).Infof("[pagination] grow window to %d", c.limit)
	return c.limit, true
}

// SnapshotApplied сообщает о снимке, запрошенном с окном requested и содержащем
// received записей. Снимок для устаревшего окна рост не разблокирует.
// Неполный снимок означает, что данных больше нет.
func (c *Controller) SnapshotApplied(requested, received int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || requested != c.limit {
		return
	}
	c.inFlight = false
	exhausted := received < requested
	if exhausted != c.exhausted {
		glog.V(2).Infof("[pagination] exhausted=%t at %d/%d", exhausted, received, requested)
	}
	c.exhausted = exhausted
}

// Exhausted - дальнейший рост не планируется.
func (c *Controller) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// Pending - рост запрошен, но ещё не подтверждён снимком.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Close прекращает пагинацию при уходе с экрана.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.inFlight = false
}
