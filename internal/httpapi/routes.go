package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/crimecity-live/internal/hub"
	"github.com/DoyleJ11/crimecity-live/internal/store"
	"github.com/DoyleJ11/crimecity-live/internal/ws"
)

func SetupRoutes(h *hub.Hub, st store.Store, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws/game/", ws.Handler(h, st, log))
	r.Get("/market/api/inventory-items/", InventoryItems(st, log))

	// Dev tooling
	r.Post("/admin/broadcast", Broadcast(h, log))
	r.Post("/admin/disconnect", Disconnect(h, log))
	return r
}
