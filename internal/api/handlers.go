package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/materials-scraper/internal/models"
	"github.com/maltedev/materials-scraper/internal/normalize"
)

// DatasetSource loads the persisted dataset.
type DatasetSource interface {
	Load() (*models.Dataset, error)
}

// OutboxStats reports event delivery backlog. Optional.
type OutboxStats interface {
	GetPendingCount(ctx context.Context) (int, error)
	GetDeadLetterCount(ctx context.Context) (int, error)
}

// Outbox thresholds for the health check.
const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

type Handlers struct {
	source    DatasetSource
	outbox    OutboxStats
	runs      RunHistory
	scheduler SchedulerStatus
	logger    *slog.Logger
}

// NewHandlers returns the API handlers. outbox may be nil.
func NewHandlers(source DatasetSource, outbox OutboxStats, logger *slog.Logger, opts ...Option) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		source: source,
		outbox: outbox,
		logger: logger.With("component", "api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MaterialsResponse is a filtered list of dataset records.
type MaterialsResponse struct {
	Count     int                     `json:"count"`
	Materials []models.MaterialRecord `json:"materials"`
}

type SimpleMaterialsResponse struct {
	Count     int                           `json:"count"`
	Materials []models.SimpleMaterialRecord `json:"materials"`
}

// Health reports dataset availability and, with a database, the outbox
// backlog.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	status := http.StatusOK

	ds, err := h.source.Load()
	if err != nil {
		h.logger.Error("failed to load dataset", "error", err)
		health["status"] = "error"
		health["message"] = "dataset unavailable"
		h.respondJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	health["materials"] = len(ds.Materials)

	if h.outbox != nil {
		pendingCount, pendingErr := h.outbox.GetPendingCount(r.Context())
		deadLetterCount, deadErr := h.outbox.GetDeadLetterCount(r.Context())
		if pendingErr != nil || deadErr != nil {
			h.logger.Warn("failed to read outbox counts", "pending_error", pendingErr, "dead_letter_error", deadErr)
			health["status"] = "warning"
			health["message"] = "outbox status unavailable"
		} else {
			health["outbox"] = map[string]any{
				"pending":     pendingCount,
				"dead_letter": deadLetterCount,
			}
			if pendingCount > pendingWarnThreshold {
				health["status"] = "warning"
				health["message"] = "High number of pending outbox events"
			}
			if deadLetterCount > deadLetterFailThreshold {
				health["status"] = "error"
				health["message"] = "High number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	h.respondJSON(w, status, health)
}

// ListMaterials handles GET /api/v1/materials?type=&brand=
func (h *Handlers) ListMaterials(w http.ResponseWriter, r *http.Request) {
	t, ok := h.materialType(w, r)
	if !ok {
		return
	}

	ds, err := h.source.Load()
	if err != nil {
		h.logger.Error("failed to load dataset", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load dataset")
		return
	}

	materials := ds.Filter(t, strings.TrimSpace(r.URL.Query().Get("brand")))
	h.respondJSON(w, http.StatusOK, MaterialsResponse{Count: len(materials), Materials: materials})
}

// ListSimple handles GET /api/v1/materials/simple?type=&brand=
func (h *Handlers) ListSimple(w http.ResponseWriter, r *http.Request) {
	t, ok := h.materialType(w, r)
	if !ok {
		return
	}

	ds, err := h.source.Load()
	if err != nil {
		h.logger.Error("failed to load dataset", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load dataset")
		return
	}

	simple := normalize.ProjectAll(ds.Filter(t, strings.TrimSpace(r.URL.Query().Get("brand"))))
	h.respondJSON(w, http.StatusOK, SimpleMaterialsResponse{Count: len(simple), Materials: simple})
}

// GetMaterial handles GET /api/v1/materials/{key}
func (h *Handlers) GetMaterial(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if unescaped, err := url.PathUnescape(key); err == nil {
		key = unescaped
	}
	if key == "" {
		h.respondError(w, http.StatusBadRequest, "material key is required")
		return
	}

	ds, err := h.source.Load()
	if err != nil {
		h.logger.Error("failed to load dataset", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load dataset")
		return
	}

	rec, ok := ds.Find(key)
	if !ok {
		h.respondError(w, http.StatusNotFound, "material not found")
		return
	}
	h.respondJSON(w, http.StatusOK, rec)
}

func (h *Handlers) materialType(w http.ResponseWriter, r *http.Request) (models.MaterialType, bool) {
	raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("type")))
	if raw == "" {
		return "", true
	}
	t := models.MaterialType(raw)
	if !t.Valid() {
		h.respondError(w, http.StatusBadRequest, "type must be resin or filament")
		return "", false
	}
	return t, true
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
