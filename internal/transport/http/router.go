package http

import (
	"net/http"
	"time"

	httpmw "github.com/cwrk-planet/chat-service/internal/transport/http/middleware"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SocketHandlers — websocket-входы, монтируемые рядом с REST.
type SocketHandlers interface {
	HandleChatWS(w http.ResponseWriter, r *http.Request)
	HandleNotificationsWS(w http.ResponseWriter, r *http.Request)
}

func NewRouter(h *Handler, verifier httpmw.TokenVerifier, users httpmw.HeartbeatToucher, sockets SocketHandlers, mediaDir string) http.Handler {
	r := chi.NewRouter()
	r.Use(middlewareChi.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	// WS endpoints: токен в query, гейт внутри (двухфазный допуск)
	r.Get("/ws/chat", sockets.HandleChatWS)
	r.Get("/ws/notifications", sockets.HandleNotificationsWS)

	// Все REST-маршруты требуют Bearer-токен
	r.Group(func(pr chi.Router) {
		pr.Use(httpmw.AuthMiddleware(verifier))
		pr.Use(httpmw.HeartbeatMiddleware(users))
		pr.Use(middlewareChi.Timeout(30 * time.Second))

		pr.Route("/chats", func(rm chi.Router) {
			rm.Get("/", h.ListChats)
			rm.Post("/offer", h.CreateOfferChat)
			rm.Get("/{peerID}/messages", h.GetMessages)
		})

		pr.Route("/messages/{id}", func(rm chi.Router) {
			rm.Patch("/", h.UpdateMessage)
			rm.Delete("/", h.DeleteMessage)
		})

		pr.Route("/notifications", func(rm chi.Router) {
			rm.Get("/", h.ListNotifications)
			rm.Get("/unseen", h.ListUnseenNotifications)
			rm.Post("/{id}/seen", h.MarkNotificationSeen)
			rm.Delete("/{id}", h.DeleteNotification)
		})
	})

	// вложения
	r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(mediaDir))))

	// health + метрики
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
