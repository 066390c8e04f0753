package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/DoyleJ11/crimecity-live/internal/codec"
	"github.com/DoyleJ11/crimecity-live/internal/hub"
	"github.com/DoyleJ11/crimecity-live/internal/store"
	"github.com/DoyleJ11/crimecity-live/internal/types"
)

const maxBroadcastBytes = 64 << 10

// InventoryItems lists the player's sellable items for the market page.
func InventoryItems(st store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := st.SellableItems(r.Context())
		if err != nil {
			log.Error("inventory items", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to load inventory"})
			return
		}
		writeJSON(w, http.StatusOK, types.InventoryResponse{Items: items})
	}
}

// Broadcast pushes a server frame to every open session. The body must
// decode as a known frame.
func Broadcast(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBroadcastBytes))
		if err != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "body too large"})
			return
		}

		ev, err := codec.Decode(body)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, codec.ErrUnknownType) {
				status = http.StatusUnprocessableEntity
			}
			writeJSON(w, status, errorBody{Error: err.Error()})
			return
		}

		// re-encode so sessions get the canonical form
		frame, err := codec.EncodeEvent(ev)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
			return
		}

		n := h.Broadcast(frame)
		log.Info("broadcast", zap.String("type", string(ev.Tag())), zap.Int("sessions", n))
		writeJSON(w, http.StatusAccepted, struct {
			Sessions int `json:"sessions"`
		}{Sessions: n})
	}
}

// Disconnect drops every open session so clients exercise their reconnect path.
func Disconnect(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := h.DisconnectAll()
		log.Info("disconnect", zap.Int("sessions", n))
		writeJSON(w, http.StatusAccepted, struct {
			Sessions int `json:"sessions"`
		}{Sessions: n})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
