package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kolevas/tutoring-app/internal/domain"
	"github.com/kolevas/tutoring-app/internal/service/booking"
	"github.com/kolevas/tutoring-app/internal/store"
)

type browseEngine interface {
	ListAvailableSessions(ctx context.Context, in booking.AvailableFilter) ([]domain.Session, error)
	RulesForDate(ctx context.Context, tutorID, date string) ([]domain.AvailabilityRule, error)
	OpenWindows(ctx context.Context, tutorID, from, to string) ([]domain.TimeWindow, error)
}

// Check reports whether a dependency is ready to serve traffic.
type Check struct {
	Name  string
	Check func(ctx context.Context) error
}

type Handler struct {
	engine browseEngine
	checks []Check
	log    *slog.Logger
}

func NewHandler(engine browseEngine, checks []Check, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		engine: engine,
		checks: checks,
		log:    log.With(slog.String("component", "http.browse")),
	}
}

// Router serves the public read-only routes. Every mutation goes through the
// authenticated gRPC service.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sessions/available", h.listAvailable)
		r.Route("/tutors/{tutorID}", func(r chi.Router) {
			r.Get("/availability/{date}", h.rulesForDate)
			r.Get("/open-windows", h.openWindows)
		})
	})

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", chimiddleware.GetReqID(r.Context())),
		)
	})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			h.log.Warn("readiness check failed", slog.String("check", c.Name), slog.Any("err", err))
			failed[c.Name] = "unavailable"
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) listAvailable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessions, err := h.engine.ListAvailableSessions(r.Context(), booking.AvailableFilter{
		Subject: q.Get("subject"),
		TutorID: q.Get("tutor_id"),
		Date:    q.Get("date"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *Handler) rulesForDate(w http.ResponseWriter, r *http.Request) {
	rules, err := h.engine.RulesForDate(r.Context(), chi.URLParam(r, "tutorID"), chi.URLParam(r, "date"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]ruleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, toRuleResponse(rule))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": out})
}

func (h *Handler) openWindows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	windows, err := h.engine.OpenWindows(r.Context(), chi.URLParam(r, "tutorID"), q.Get("from"), q.Get("to"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]windowResponse, 0, len(windows))
	for _, win := range windows {
		out = append(out, windowResponse{Date: win.Date.String(), StartTime: win.Start.String(), EndTime: win.End.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"windows": out})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *booking.ValidationError
	switch {
	case errors.As(err, &vErr):
		h.log.Warn("invalid request", slog.String("path", r.URL.Path), slog.Any("err", err))
		writeJSON(w, http.StatusBadRequest, map[string]errorBody{"error": {Code: "INVALID_ARGUMENT", Message: vErr.Error()}})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]errorBody{"error": {Code: "NOT_FOUND", Message: "not found"}})
	default:
		h.log.Error("request failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]errorBody{"error": {Code: "INTERNAL", Message: "internal error"}})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
