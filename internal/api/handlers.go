// Package api exposes the build-submission HTTP surface.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"slugforge/internal/domain"
	"slugforge/internal/manifest"
	"slugforge/internal/store"
	"slugforge/internal/tasks"
)

// Handlers carries the API's collaborators.
type Handlers struct {
	manifestPath string
	store        *store.Store
	queue        *tasks.Client
	validate     *validator.Validate
	logger       *zap.Logger
}

// NewHandlers creates the API handlers.
func NewHandlers(manifestPath string, st *store.Store, queue *tasks.Client, logger *zap.Logger) *Handlers {
	return &Handlers{
		manifestPath: manifestPath,
		store:        st,
		queue:        queue,
		validate:     validator.New(),
		logger:       logger,
	}
}

// CreateBuildRequest is the POST /api/builds body.
type CreateBuildRequest struct {
	Service string `json:"service" validate:"required,hostname_rfc1123"`
}

// CreateBuild validates the request, records a pending build, and enqueues it.
func (h *Handlers) CreateBuild(w http.ResponseWriter, r *http.Request) {
	var req CreateBuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "service name is required")
		return
	}

	// Reject unknown services before anything is enqueued.
	m, err := manifest.Load(h.manifestPath)
	if err != nil {
		h.logger.Error("Manifest load failed", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "manifest unavailable")
		return
	}
	if _, err := m.Service(req.Service); err != nil {
		h.respondError(w, http.StatusNotFound, "service not in manifest")
		return
	}

	buildID, err := h.store.CreateBuild(r.Context(), req.Service)
	if err != nil {
		h.logger.Error("Failed to create build record", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to create build")
		return
	}

	if _, err := h.queue.EnqueueBuildRequest(tasks.BuildRequestPayload{
		BuildID: buildID,
		Service: req.Service,
	}); err != nil {
		h.logger.Error("Failed to enqueue build", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to enqueue build")
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]string{
		"build_id": buildID,
		"status":   store.StatusPending,
	})
}

// GetBuild returns one build record.
func (h *Handlers) GetBuild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.store.GetBuild(r.Context(), id)
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) && de.Code == domain.ErrCodeNotFound {
			h.respondError(w, http.StatusNotFound, "build not found")
			return
		}
		h.logger.Error("Failed to fetch build", zap.String("build_id", id), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to fetch build")
		return
	}

	h.respondJSON(w, http.StatusOK, rec)
}

// Healthz is the liveness endpoint.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
