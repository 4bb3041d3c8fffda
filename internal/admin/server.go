// Package admin exposes the operational HTTP API: status, menu and
// setting management, user lookup, conversation history and post-sale
// survey triggers.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/suporttech/zapdesk/internal/agenthandoff"
	"github.com/suporttech/zapdesk/internal/config"
	"github.com/suporttech/zapdesk/internal/menu"
	"github.com/suporttech/zapdesk/internal/session"
	"github.com/suporttech/zapdesk/internal/store"
)

// Server is the admin HTTP API.
type Server struct {
	cfg      config.AdminConfig
	stores   *store.Stores
	sessions *session.Registry
	menus    *menu.Registry
	queues   *agenthandoff.Queues

	httpServer *http.Server
}

func NewServer(cfg config.AdminConfig, stores *store.Stores, sessions *session.Registry, menus *menu.Registry, queues *agenthandoff.Queues) *Server {
	return &Server{
		cfg:      cfg,
		stores:   stores,
		sessions: sessions,
		menus:    menus,
		queues:   queues,
	}
}

// BuildMux creates the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /v1/status", s.auth(s.handleStatus))

	mux.HandleFunc("GET /v1/menus", s.auth(s.handleListMenus))
	mux.HandleFunc("PUT /v1/menus/{key}", s.auth(s.handleSaveMenu))

	mux.HandleFunc("GET /v1/settings", s.auth(s.handleListSettings))
	mux.HandleFunc("PUT /v1/settings/{key}", s.auth(s.handleSetSetting))

	mux.HandleFunc("GET /v1/users", s.auth(s.handleFindUser))
	mux.HandleFunc("GET /v1/users/{phone}/messages", s.auth(s.handleHistory))

	mux.HandleFunc("GET /v1/schedules", s.auth(s.handleListSchedules))

	mux.HandleFunc("POST /v1/surveys", s.auth(s.handleEnqueueSurvey))

	return mux
}

// Start begins serving until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.BuildMux(),
	}

	slog.Info("admin api starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			if extractBearerToken(r) != s.cfg.Token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	durable, err := s.stores.Sessions.CountActive(r.Context())
	if err != nil {
		slog.Error("status.sessions", "error", err)
		durable = -1
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"live_sessions":    s.sessions.Len(),
		"durable_sessions": durable,
		"queued_contacts":  s.queues.Len(),
		"queues":           s.queues.Waiting(),
	})
}

// --- Menus ---

func (s *Server) handleListMenus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"menus": s.menus.All()})
}

func (s *Server) handleSaveMenu(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var m menu.Menu
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&m); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	m.Key = key
	if m.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title is required"})
		return
	}

	if err := s.menus.Save(r.Context(), &m); err != nil {
		slog.Error("menus.save", "key", key, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save menu"})
		return
	}
	writeJSON(w, http.StatusOK, &m)
}

// --- Settings ---

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.stores.Settings.All(r.Context())
	if err != nil {
		slog.Error("settings.list", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list settings"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"settings": settings})
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if err := s.stores.Settings.Set(r.Context(), key, body.Value); err != nil {
		slog.Error("settings.set", "key", key, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save setting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": body.Value})
}

// --- Users ---

func (s *Server) handleFindUser(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}

	u, err := s.stores.Users.FindByPhoneOrName(r.Context(), q)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		slog.Error("users.find", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to find user"})
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	phone := r.PathValue("phone")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	u, err := s.stores.Users.FindByPhoneOrName(r.Context(), phone)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		slog.Error("messages.user", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to find user"})
		return
	}

	msgs, err := s.stores.Messages.History(r.Context(), u.ID, limit)
	if err != nil {
		slog.Error("messages.history", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load history"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// --- Schedules ---

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	from := time.Now().Truncate(24 * time.Hour)
	to := from.AddDate(0, 0, 7)

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid from date"})
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid to date"})
			return
		}
		to = t
	}

	items, err := s.stores.Schedulings.ByDateRange(r.Context(), from, to)
	if err != nil {
		slog.Error("schedules.list", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list schedules"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": items})
}

// --- Surveys ---

func (s *Server) handleEnqueueSurvey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Phone       string `json:"phone"`
		ServiceType string `json:"service_type"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if body.Phone == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "phone is required"})
		return
	}

	u, err := s.stores.Users.GetOrCreate(r.Context(), body.Phone)
	if err != nil {
		slog.Error("surveys.user", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to resolve user"})
		return
	}
	if err := s.stores.Surveys.EnqueueRequest(r.Context(), u.ID, body.ServiceType); err != nil {
		slog.Error("surveys.enqueue", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue survey"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"user_id": u.ID, "status": "queued"})
}
