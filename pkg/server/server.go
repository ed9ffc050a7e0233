// Package server exposes the companion over a small JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/agent"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/diary"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
)

const (
	maxBodyBytes    = 64 << 10
	shutdownTimeout = 5 * time.Second
)

// Conversations is the part of the router the API drives.
type Conversations interface {
	Process(ctx context.Context, req agent.Request) agent.Reply
	Welcome(userID string) string
	EndSession(userID string) error
	Snapshot(userID string) agent.Reply
}

type Diaries interface {
	Get(userID, date string) (diary.Entry, error)
	Delete(userID, date string) error
	List(userID string) ([]string, error)
}

type Composer interface {
	Compose(ctx context.Context, userID string) (string, error)
}

// StatsFunc contributes a named section to /health.
type StatsFunc func(ctx context.Context) (interface{}, error)

type Deps struct {
	Conversations Conversations
	Diaries       Diaries
	Composer      Composer
	Stats         map[string]StatsFunc
}

type Server struct {
	deps   Deps
	apiKey string
	router chi.Router
}

func New(deps Deps, apiKey string) *Server {
	s := &Server{deps: deps, apiKey: apiKey}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog)
	r.Use(recovery)

	r.Get("/health", s.health)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(s.apiKey))

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/welcome", s.welcome)
			r.Post("/chat", s.chat)
			r.Get("/state", s.state)
			r.Post("/end", s.end)

			r.Route("/diaries", func(r chi.Router) {
				r.Get("/", s.listDiaries)
				r.Post("/compose", s.composeDiary)
				r.Get("/{date}", s.getDiary)
				r.Delete("/{date}", s.deleteDiary)
			})
		})
	})
	return r
}

// Run serves on addr until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.InfoCF("http", "HTTP API listening", map[string]interface{}{
		"addr": ln.Addr().String(),
		"auth": s.apiKey != "",
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http api: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	for name, fn := range s.deps.Stats {
		v, err := fn(r.Context())
		if err != nil {
			resp[name] = map[string]string{"status": "error", "message": err.Error()}
			resp["status"] = "degraded"
			continue
		}
		resp[name] = v
	}
	status := http.StatusOK
	if resp["status"] != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// userID reads the path user. The API is a local surface, so the id is
// used as given.
func userID(r *http.Request) (string, error) {
	return agent.ResolveUserID("http", chi.URLParam(r, "userID"))
}

type chatRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode,omitempty"`
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	mode := agent.ParseMode(strings.ToLower(strings.TrimSpace(req.Mode)))
	if req.Mode != "" && mode == "" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Mode))
		return
	}
	reply := s.deps.Conversations.Process(r.Context(), agent.Request{UserID: uid, Text: req.Text, Mode: mode})
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) welcome(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": s.deps.Conversations.Welcome(uid)})
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Conversations.Snapshot(uid))
}

func (s *Server) end(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Conversations.EndSession(uid); err != nil {
		writeError(w, http.StatusInternalServerError, "end session: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listDiaries(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dates, err := s.deps.Diaries.List(uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": uid, "dates": dates})
}

type diaryResponse struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"`
	Text   string `json:"text"`
}

func (s *Server) getDiary(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := s.deps.Diaries.Get(uid, chi.URLParam(r, "date"))
	if err != nil {
		writeDiaryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diaryResponse{UserID: entry.UserID, Date: entry.Date, Text: entry.Text})
}

func (s *Server) deleteDiary(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Diaries.Delete(uid, chi.URLParam(r, "date")); err != nil {
		writeDiaryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) composeDiary(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	text, err := s.deps.Composer.Compose(r.Context(), uid)
	switch {
	case errors.Is(err, diary.ErrNoConversation):
		writeError(w, http.StatusConflict, text)
	case err != nil:
		logger.ErrorCF("http", "Diary composition failed", map[string]interface{}{
			"user_id": uid,
			"error":   err.Error(),
		})
		writeError(w, http.StatusBadGateway, "diary composition failed")
	default:
		writeJSON(w, http.StatusCreated, map[string]string{"user_id": uid, "text": text})
	}
}

func writeDiaryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, diary.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, diary.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnCF("http", "Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
