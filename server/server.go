package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"dndj/cache"
	"dndj/core/auth"
	"dndj/core/player"
	"dndj/core/room"
	"dndj/logger"
	"dndj/model"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Player is what the HTTP surface needs from the scheduler.
type Player interface {
	room.Controller
	State() player.State
	Inspect(ctx context.Context, fn func(c *model.Catalog)) error
}

// Cache is what the HTTP surface needs from the content cache.
type Cache interface {
	Entries() []cache.Entry
	Stats() (count int, bytes int64)
	Clear() error
}

// Options wires a Server. Tokens may be nil, which leaves every route open.
type Options struct {
	Player Player
	Cache  Cache
	Hub    *room.Hub
	Tokens *auth.Tokens
}

// Server exposes the observer WebSocket and a small JSON console.
type Server struct {
	ctx        context.Context
	player     Player
	cache      Cache
	hub        *room.Hub
	dispatcher *room.Dispatcher
	tokens     *auth.Tokens
	upgrader   websocket.Upgrader
}

// New creates a server whose observer connections live until ctx is done.
func New(ctx context.Context, opts Options) *Server {
	return &Server{
		ctx:        ctx,
		player:     opts.Player,
		cache:      opts.Cache,
		hub:        opts.Hub,
		dispatcher: room.NewDispatcher(opts.Player),
		tokens:     opts.Tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.handleObserver).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/catalog", s.handleCatalog).Methods(http.MethodGet)
	api.HandleFunc("/cache", s.handleCache).Methods(http.MethodGet)
	api.HandleFunc("/cache/clear", s.handleCacheClear).Methods(http.MethodPost)
	api.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)

	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves on addr until the server context is done, then shuts
// down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", logger.String("addr", addr))
		logger.Info("observers connect to ws://" + addr + "/ws")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-s.ctx.Done():
	}

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
