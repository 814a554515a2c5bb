package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"dndj/cache"
	"dndj/core/auth"
	"dndj/core/player"
	"dndj/logger"
	"dndj/model"
)

type contextKey string

const observerKey contextKey = "observer"

var errPlaybackActive = errors.New("playback is active")

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// bearerToken reads the observer token from the Authorization header, or from
// the token query parameter since browsers cannot set headers on WebSockets.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// authenticate returns the observer name carried by the request's token. With
// no token issuer configured every request is accepted anonymously.
func (s *Server) authenticate(r *http.Request) (string, error) {
	if s.tokens == nil {
		return "", nil
	}
	token := bearerToken(r)
	if token == "" {
		return "", auth.ErrInvalidToken
	}
	claims, err := s.tokens.ParseToken(token)
	if err != nil {
		return "", err
	}
	return claims.Observer, nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observer, err := s.authenticate(r)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), observerKey, observer)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	data, err := s.hub.MarshalState(s.player.State())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	var data []byte
	var merr error
	err := s.player.Inspect(r.Context(), func(c *model.Catalog) {
		data, merr = json.Marshal(c)
	})
	if err == nil {
		err = merr
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	count, bytes := s.cache.Stats()
	writeJSON(w, http.StatusOK, struct {
		Count   int           `json:"count"`
		Bytes   int64         `json:"bytes"`
		Entries []cache.Entry `json:"entries"`
	}{count, bytes, s.cache.Entries()})
}

// handleCacheClear empties the download directory. It runs on the scheduler
// goroutine so no track list can start while files are removed.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	var clearErr error
	err := s.player.Inspect(r.Context(), func(*model.Catalog) {
		if s.player.State().Status != player.Idle {
			clearErr = errPlaybackActive
			return
		}
		clearErr = s.cache.Clear()
	})
	switch {
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(clearErr, errPlaybackActive):
		writeError(w, http.StatusConflict, clearErr)
	case clearErr != nil:
		logger.Error("failed to clear cache", logger.ErrorField(clearErr))
		writeError(w, http.StatusInternalServerError, clearErr)
	default:
		logger.Info("cache cleared", logger.String("observer", observerFrom(r.Context())))
		count, bytes := s.cache.Stats()
		writeJSON(w, http.StatusOK, map[string]interface{}{"count": count, "bytes": bytes})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.player.Cancel(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.handleState(w, r)
}

func observerFrom(ctx context.Context) string {
	observer, _ := ctx.Value(observerKey).(string)
	return observer
}
