package statussync

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrCircuitOpen: витрина недавно подряд не отвечала, запрос не отправлялся.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState: состояние цепи одной витрины.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

var circuitStateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(circuitStateNames) {
		return "unknown"
	}
	return circuitStateNames[s]
}

// circuit: счётчик неудач одной витрины.
type circuit struct {
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
}

// CircuitBreaker ведёт отдельную цепь на каждый адрес витрины. Цепь размыкается
// после maxFailures ошибок подряд. Через cooldown пропускается одна пробная попытка,
// остальные запросы к этой витрине до её исхода получают ErrCircuitOpen.
type CircuitBreaker struct {
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
	logger      *log.Entry

	mu       sync.Mutex
	circuits map[string]*circuit
}

// NewCircuitBreaker: maxFailures <= 0 отключает предохранитель.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.WithField("component", "sync-circuit-breaker")
	}
	return &CircuitBreaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
		logger:      logger,
		circuits:    make(map[string]*circuit),
	}
}

// State возвращает состояние цепи витрины. Неизвестная витрина считается замкнутой.
func (cb *CircuitBreaker) State(target string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if c, ok := cb.circuits[target]; ok {
		return c.state
	}
	return CircuitClosed
}

// Execute вызывает fn, если цепь витрины это разрешает, и учитывает результат.
func (cb *CircuitBreaker) Execute(target string, fn func() error) error {
	if cb == nil || cb.maxFailures <= 0 {
		return fn()
	}
	if err := cb.admit(target); err != nil {
		return err
	}
	err := fn()
	cb.record(target, err)
	return err
}

func (cb *CircuitBreaker) admit(target string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.circuits[target]
	if c == nil {
		c = &circuit{}
		cb.circuits[target] = c
	}
	switch c.state {
	case CircuitOpen:
		if cb.now().Sub(c.openedAt) < cb.cooldown {
			return ErrCircuitOpen
		}
		c.state = CircuitHalfOpen
		c.probing = true
		cb.logger.WithField("target", target).Info("circuit half-open, probing storefront")
	case CircuitHalfOpen:
		if c.probing {
			return ErrCircuitOpen
		}
		c.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) record(target string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.circuits[target]
	c.probing = false
	if err == nil {
		if c.state != CircuitClosed {
			cb.logger.WithField("target", target).Info("circuit closed")
		}
		delete(cb.circuits, target)
		return
	}

	c.failures++
	if c.state == CircuitHalfOpen || c.failures >= cb.maxFailures {
		if c.state != CircuitOpen {
			cb.logger.WithFields(log.Fields{"target": target, "failures": c.failures}).Warn("circuit opened")
		}
		c.state = CircuitOpen
		c.openedAt = cb.now()
	}
}
