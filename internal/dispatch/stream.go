package dispatch

import (
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/crimecity-live/internal/types"
)

// Stream is a channel-backed subscription. Events that do not fit in the
// buffer are dropped.
type Stream struct {
	mu          sync.Mutex
	ch          chan types.Event
	closed      bool
	unsubscribe func()
}

func (r *Router) Stream(tag types.Tag, buffer int) *Stream {
	if buffer <= 0 {
		buffer = 1
	}
	s := &Stream{ch: make(chan types.Event, buffer)}
	s.unsubscribe = r.Subscribe(tag, func(ev types.Event) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return nil
		}
		select {
		case s.ch <- ev:
		default:
			r.log.Warn("stream full, dropping event", zap.String("tag", string(tag)))
		}
		return nil
	})
	return s
}

func (s *Stream) C() <-chan types.Event { return s.ch }

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Stream) Close() {
	s.unsubscribe()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
