package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/UkralStul/campus-sync/internal/authz"
	"github.com/UkralStul/campus-sync/internal/dataloader"
	"github.com/UkralStul/campus-sync/internal/media"
	"github.com/UkralStul/campus-sync/internal/mutation"
	"github.com/UkralStul/campus-sync/internal/query"
	"github.com/UkralStul/campus-sync/internal/storage"
)

const keepAlive = 10 * time.Second

var errBadRequest = errors.New("bad request")

// Server - HTTP и WebSocket шлюз к живым экранам и мутациям.
type Server struct {
	store    storage.Store
	coord    *mutation.Coordinator
	secret   []byte
	upgrader websocket.Upgrader
}

func New(store storage.Store, coord *mutation.Coordinator, jwtSecret string) *Server {
	return &Server{
		store:  store,
		coord:  coord,
		secret: []byte(jwtSecret),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes собирает роутер.
func (s *Server) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(s.actorMiddleware)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/ws/{view}", s.live)

	router.Route("/api", func(r chi.Router) {
		r.With(dataloader.Middleware(s.store)).Get("/feed", s.feedPage)

		r.Post("/posts", s.createPost)
		r.Post("/posts/{id}/like", s.toggleLike)
		r.Post("/posts/{id}/comments", s.addComment)
		r.Post("/messages", s.sendMessage)
		r.Post("/opportunities", s.addOpportunity)
		r.Post("/experiences", s.addExperience)

		r.Post("/communities", s.createCommunity)
		r.Patch("/communities/{id}", s.updateCommunity)
		r.Delete("/communities/{id}", s.deleteCommunity)
		r.Post("/communities/{id}/join", s.joinCommunity)
		r.Post("/communities/{id}/leave", s.leaveCommunity)
		r.Post("/communities/{id}/kick", s.kickMember)

		r.Patch("/profiles/{id}", s.updateProfile)
	})
	return router
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Errorf("[gateway] encode response: %v", err)
	}
}

// writeError переводит ошибки пакетов в HTTP-статусы.
func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		glog.Errorf("[gateway] %v", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, authz.ErrDenied):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mutation.ErrEmptyText),
		errors.Is(err, mutation.ErrEmptyName),
		errors.Is(err, query.ErrMissingParam),
		errors.Is(err, query.ErrUnknownView),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, media.ErrUploadFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
