package hub

import (
	"context"

	"go.uber.org/zap"
)

// SessionBuffer is the outbox size a session should allocate.
const SessionBuffer = 16

type HubMsg interface{ isHubMsg() }

// Join registers a session. Outbox is closed by the hub on Leave, on
// eviction of a slow session, or on shutdown.
type Join struct {
	ID     string
	Outbox chan []byte
}

type Leave struct {
	ID string
}

// Broadcast delivers Frame to every session. A session whose outbox is
// full is dropped.
type Broadcast struct {
	Frame []byte
	Reply chan int // optional: number of sessions reached
}

// Direct delivers Frame to one session. The hub goroutine is the only
// sender on, and closer of, every outbox.
type Direct struct {
	ID    string
	Frame []byte
	Reply chan bool // optional: whether the frame was queued
}

type Count struct {
	Reply chan int
}

// DisconnectAll releases every session but keeps the hub running.
type DisconnectAll struct {
	Reply chan int // optional: number of sessions released
}

type ShutdownHub struct{}

func (Join) isHubMsg()          {}
func (Leave) isHubMsg()         {}
func (Broadcast) isHubMsg()     {}
func (Direct) isHubMsg()        {}
func (Count) isHubMsg()         {}
func (DisconnectAll) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]chan []byte
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]chan []byte),
		log:      log.Named("hub"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed after the hub has released every session.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Send posts m unless the hub has stopped.
func (h *Hub) Send(m HubMsg) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.inbox <- m:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Broadcast is a synchronous helper around the Broadcast message.
func (h *Hub) Broadcast(frame []byte) int {
	reply := make(chan int, 1)
	if !h.Send(Broadcast{Frame: frame, Reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-h.done:
		return 0
	}
}

func (h *Hub) Count() int {
	reply := make(chan int, 1)
	if !h.Send(Count{Reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-h.done:
		return 0
	}
}

// DisconnectAll is a synchronous helper around the DisconnectAll message.
func (h *Hub) DisconnectAll() int {
	reply := make(chan int, 1)
	if !h.Send(DisconnectAll{Reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-h.done:
		return 0
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Join:
				if old, ok := h.sessions[msg.ID]; ok {
					close(old)
				}
				h.sessions[msg.ID] = msg.Outbox
				h.log.Debug("session joined", zap.String("session", msg.ID), zap.Int("sessions", len(h.sessions)))

			case Leave:
				h.drop(msg.ID)

			case Broadcast:
				n := 0
				for id, out := range h.sessions {
					select {
					case out <- msg.Frame:
						n++
					default:
						h.log.Warn("slow session dropped", zap.String("session", id))
						h.drop(id)
					}
				}
				if msg.Reply != nil {
					msg.Reply <- n
				}

			case Direct:
				ok := false
				if out, found := h.sessions[msg.ID]; found {
					select {
					case out <- msg.Frame:
						ok = true
					default:
						h.log.Warn("outbox full, dropping reply", zap.String("session", msg.ID))
					}
				}
				if msg.Reply != nil {
					msg.Reply <- ok
				}

			case Count:
				msg.Reply <- len(h.sessions)

			case DisconnectAll:
				n := len(h.sessions)
				h.shutdown()
				h.log.Info("sessions released", zap.Int("sessions", n))
				if msg.Reply != nil {
					msg.Reply <- n
				}

			case ShutdownHub:
				h.cancel()
			}
		}
	}
}

func (h *Hub) drop(id string) {
	out, ok := h.sessions[id]
	if !ok {
		return
	}
	delete(h.sessions, id)
	close(out)
	h.log.Debug("session left", zap.String("session", id), zap.Int("sessions", len(h.sessions)))
}

func (h *Hub) shutdown() {
	for id := range h.sessions {
		h.drop(id)
	}
}
