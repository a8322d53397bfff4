// Package handler provides the HTTP API over the typed user collection.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stevemurr/typed-doc-server/model"
	"github.com/stevemurr/typed-doc-server/objectid"
	"github.com/stevemurr/typed-doc-server/store"
	"github.com/stevemurr/typed-doc-server/user"
)

// ServiceName is reported by the root endpoint.
const ServiceName = "typed-doc-server"

// Options configures a Handler.
type Options struct {
	// Logger receives request and error logs. Defaults to slog.Default().
	Logger *slog.Logger
	// AllowedOrigins lists CORS origins. Empty or ["*"] allows all.
	AllowedOrigins []string
}

// Handler holds the server dependencies and registers routes.
type Handler struct {
	store  store.Store
	users  *user.Collection
	logger *slog.Logger
	router chi.Router
}

// New creates a Handler and wires up all routes.
func New(s store.Store, opts Options) (*Handler, error) {
	users, err := user.NewCollection(s)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	h := &Handler{store: s, users: users, logger: logger}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors(origins))
	h.router = r
	h.routes()
	return h, nil
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	r := h.router

	// Health / status
	r.Get("/", h.root)
	r.Get("/health", h.health)
	r.Get("/collections", h.listCollections)

	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.createUser)
		r.Get("/", h.listUsers)
		r.Get("/count", h.countUsers)
		r.Get("/{id}", h.getUser)
		r.Patch("/{id}", h.patchUser)
		r.Delete("/{id}", h.deleteUser)
	})

	r.Get("/schemas", h.listSchemas)
	r.Get("/schemas/{collection}", h.getSchema)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// writeStoreError maps core error kinds to HTTP statuses.
func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, objectid.ErrMalformed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrTransport):
		h.logger.Warn("store unavailable", "path", r.URL.Path, "error", err,
			"request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err,
			"corrupt_record", errors.Is(err, model.ErrCorruptRecord),
			"request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// logRequests logs one line per request once the response is written.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			h.logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": ServiceName,
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"reason": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"db":     "reachable",
		"app":    "ready",
	})
}

func (h *Handler) listCollections(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.ListCollections(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

// ---------- schema endpoints ----------

func (h *Handler) listSchemas(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any)
	for _, info := range model.All() {
		out[info.Name] = info.Schema()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getSchema(w http.ResponseWriter, r *http.Request) {
	info, ok := model.LookupName(chi.URLParam(r, "collection"))
	if !ok {
		writeError(w, http.StatusNotFound, "Schema not found")
		return
	}
	writeJSON(w, http.StatusOK, info.Schema())
}
