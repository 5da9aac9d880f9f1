package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRouter assembles the REST API and the realtime hub.
func NewRouter(h *Handler, hub *Hub, otelEnabled bool) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)

	r.Route("/v1/keys", func(r chi.Router) {
		r.Post("/", h.CreateKey)
		r.Get("/{id}", h.GetKey)
		r.Delete("/{id}", h.DeleteKey)
		r.Post("/{id}/transition", h.TransitionKey)
	})
	r.Get("/v1/chats/{chat_id}/keys", h.ListChatKeys)
	r.Route("/v1/transfers", func(r chi.Router) {
		r.Post("/", h.CreateTransfer)
		r.Get("/pending", h.PendingTransfers)
		r.Post("/{id}/receive", h.ReceiveTransfer)
	})
	r.Put("/v1/directory/{user_id}", h.PutIdentity)
	r.Get("/v1/directory/{user_id}", h.GetIdentity)
	r.Get("/v1/realtime", hub.ServeWS)

	if otelEnabled {
		return otelhttp.NewHandler(r, "relay")
	}
	return r
}
