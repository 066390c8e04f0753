package dispatch

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/crimecity-live/internal/types"
)

var ErrReentrantDispatch = errors.New("reentrant dispatch")

// Handler reacts to one decoded event. Returning an error (or panicking)
// is logged and does not affect sibling handlers.
type Handler func(ev types.Event) error

// HandlerError wraps a failure of one handler during Dispatch.
type HandlerError struct {
	Tag   types.Tag
	Index int
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %d for %q: %v", e.Index, e.Tag, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

type registration struct {
	id int
	fn Handler
}

// Router maps event tags to handlers, invoked in registration order.
type Router struct {
	mu         sync.Mutex
	nextID     int
	handlers   map[types.Tag][]registration
	inProgress map[types.Tag]bool
	log        *zap.Logger
}

func NewRouter(log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		handlers:   make(map[types.Tag][]registration),
		inProgress: make(map[types.Tag]bool),
		log:        log.Named("dispatch"),
	}
}

// Subscribe registers h for tag and returns a func that removes it.
func (r *Router) Subscribe(tag types.Tag, h Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.handlers[tag] = append(r.handlers[tag], registration{id: id, fn: h})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(tag, id) })
	}
}

func (r *Router) remove(tag types.Tag, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := r.handlers[tag]
	for i, reg := range regs {
		if reg.id == id {
			// copy so an in-flight Dispatch keeps its own snapshot intact
			next := make([]registration, 0, len(regs)-1)
			next = append(next, regs[:i]...)
			next = append(next, regs[i+1:]...)
			r.handlers[tag] = next
			return
		}
	}
}

// Dispatch runs every handler registered for ev's tag on the calling
// goroutine. It returns how many handlers ran and their combined errors.
//
// Dispatch expects a single dispatching goroutine (the connection manager's
// loop). The in-progress flag is per tag, not per goroutine, so a second
// goroutine dispatching the same tag concurrently is refused with
// ErrReentrantDispatch just like a handler that dispatches recursively.
func (r *Router) Dispatch(ev types.Event) (int, error) {
	tag := ev.Tag()

	r.mu.Lock()
	if r.inProgress[tag] {
		r.mu.Unlock()
		r.log.Warn("dropping reentrant dispatch", zap.String("tag", string(tag)))
		return 0, fmt.Errorf("%w: %s", ErrReentrantDispatch, tag)
	}
	regs := r.handlers[tag]
	if len(regs) == 0 {
		r.mu.Unlock()
		r.log.Debug("no handlers", zap.String("tag", string(tag)))
		return 0, nil
	}
	r.inProgress[tag] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inProgress, tag)
		r.mu.Unlock()
	}()

	var errs error
	for i, reg := range regs {
		if err := invoke(reg.fn, ev); err != nil {
			herr := &HandlerError{Tag: tag, Index: i, Err: err}
			r.log.Error("handler failed", zap.String("tag", string(tag)), zap.Int("index", i), zap.Error(err))
			errs = multierr.Append(errs, herr)
		}
	}
	return len(regs), errs
}

func invoke(h Handler, ev types.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h(ev)
}
