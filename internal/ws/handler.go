package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/crimecity-live/internal/codec"
	"github.com/DoyleJ11/crimecity-live/internal/hub"
	"github.com/DoyleJ11/crimecity-live/internal/store"
	"github.com/DoyleJ11/crimecity-live/internal/types"
)

const (
	writeTimeout = 3 * time.Second

	msgCombatIDRequired = "Combat ID is required"
	msgCombatNotFound   = "No Combat matches the given query."
)

// Handler serves /ws/game/. Each session gets player_status on connect,
// answers get_status and refresh_combat, and receives every hub broadcast.
func Handler(h *hub.Hub, st store.Store, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// dev server only
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Warn("accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		id := uuid.NewString()
		sessLog := log.With(zap.String("session", id))
		out := make(chan []byte, hub.SessionBuffer)
		if !h.Send(hub.Join{ID: id, Outbox: out}) {
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
		defer h.Send(hub.Leave{ID: id})
		sessLog.Info("session opened")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine: the only writer on conn.
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-out:
					if !ok {
						conn.Close(websocket.StatusGoingAway, "session released")
						return
					}
					wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
					err := conn.Write(wctx, websocket.MessageText, payload)
					wcancel()
					if err != nil {
						sessLog.Debug("write failed", zap.Error(err))
						return
					}
				}
			}
		}()

		s := &session{id: id, store: st, log: sessLog, hub: h}
		s.sendPlayerStatus(ctx)

		// Reader loop
		for {
			// clients are idle between commands, so reads have no deadline
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					sessLog.Info("session closed by client")
				default:
					sessLog.Debug("read ended", zap.Error(err))
				}
				return
			}
			s.handle(ctx, data)
		}
	}
}

type session struct {
	id    string
	store store.Store
	log   *zap.Logger
	hub   *hub.Hub
}

func (s *session) handle(ctx context.Context, data []byte) {
	cmd, err := codec.DecodeCommand(data)
	if err != nil {
		s.sendError(err.Error())
		return
	}

	switch cmd.Action {
	case types.ActionGetStatus:
		s.sendPlayerStatus(ctx)
	case types.ActionRefreshCombat:
		s.sendCombatStatus(ctx, cmd.CombatID)
	default:
		s.log.Debug("ignoring action", zap.String("action", string(cmd.Action)))
	}
}

func (s *session) sendPlayerStatus(ctx context.Context) {
	p, err := s.store.PlayerStatus(ctx)
	if err != nil {
		s.log.Warn("player status", zap.Error(err))
		s.sendError(err.Error())
		return
	}
	s.emit(p)
}

func (s *session) sendCombatStatus(ctx context.Context, raw any) {
	id, ok := combatID(raw)
	if !ok {
		s.sendError(msgCombatIDRequired)
		return
	}
	c, err := s.store.Combat(ctx, id)
	switch {
	case errors.Is(err, store.ErrCombatNotFound):
		s.sendError(msgCombatNotFound)
	case err != nil:
		s.log.Warn("combat status", zap.String("combat", id), zap.Error(err))
		s.sendError(err.Error())
	default:
		s.emit(c)
	}
}

func (s *session) sendError(msg string) {
	s.emit(types.ServerError{Message: msg})
}

// emit hands ev to the hub for this session's outbox. A released session
// silently loses the reply.
func (s *session) emit(ev types.Event) {
	payload, err := codec.EncodeEvent(ev)
	if err != nil {
		s.log.Error("encode", zap.Error(err))
		return
	}
	if !s.hub.Send(hub.Direct{ID: s.id, Frame: payload}) {
		s.log.Debug("hub stopped, dropping reply", zap.String("type", string(ev.Tag())))
	}
}

// combatID accepts the id as a JSON string or an integral number. Empty
// and zero values count as missing; fractional or non-numeric numbers are
// rejected.
func combatID(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, v != ""
	case json.Number:
		n, err := strconv.ParseInt(v.String(), 10, 64)
		if err != nil || n == 0 {
			return "", false
		}
		return strconv.FormatInt(n, 10), true
	case int:
		return strconv.Itoa(v), v != 0
	case int64:
		return strconv.FormatInt(v, 10), v != 0
	default:
		return "", false
	}
}
