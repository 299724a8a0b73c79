// Package handler exposes the resource kinds over HTTP. One set of
// handlers serves every kind; the router binds each URL segment to its
// descriptor.
package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clearops/clearops-gateway/domains/resources/be/service"
	"github.com/clearops/clearops-gateway/platform/go/apikey"
	"github.com/clearops/clearops-gateway/platform/go/httpapi"
	"github.com/clearops/clearops-gateway/platform/go/logging"
)

// maxBodyBytes bounds inbound payload size.
const maxBodyBytes = 1 << 20

// Handler serves the generic CRUD surface for all resource kinds.
type Handler struct {
	svc    service.Service
	kinds  []service.Kind
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, kinds []service.Kind, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("resources service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, kinds: kinds, logger: logger}
}

// Routes mounts every kind's CRUD endpoints plus the self-documenting
// fallback for unknown paths.
func (h *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	for _, kind := range h.kinds {
		router.Route("/"+kind.Plural, func(r chi.Router) {
			r.Get("/", h.list(kind))
			r.Post("/", h.create(kind))
			r.Get("/{resourceID}", h.get(kind))
			r.Put("/{resourceID}", h.update(kind))
			r.Delete("/{resourceID}", h.delete(kind))
		})
	}

	router.NotFound(h.notFound)
	router.MethodNotAllowed(h.notFound)

	return router
}

func (h *Handler) list(kind service.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth, ok := apikey.FromContext(r.Context())
		if !ok {
			httpapi.WriteError(w, http.StatusUnauthorized, "invalid api key", nil)
			return
		}

		opts := service.ListOptions{}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 1 {
				httpapi.WriteError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
				return
			}
			opts.Limit = limit
		}
		if raw := r.URL.Query().Get("offset"); raw != "" {
			offset, err := strconv.Atoi(raw)
			if err != nil || offset < 0 {
				httpapi.WriteError(w, http.StatusBadRequest, "offset must be a non-negative integer", nil)
				return
			}
			opts.Offset = offset
		}
		if raw := r.URL.Query().Get(kind.FilterField); raw != "" {
			opts.Filter = &raw
		}

		result, err := h.svc.List(r.Context(), kind, auth.TenantID, opts)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}

		items := make([]map[string]any, 0, len(result.Items))
		for _, doc := range result.Items {
			items = append(items, doc.Body())
		}
		httpapi.WriteList(w, http.StatusOK, items, result.Total, result.Limit, result.Offset)
	}
}

func (h *Handler) create(kind service.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth, ok := h.requireWrite(w, r)
		if !ok {
			return
		}

		payload, err := readBody(r)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, "could not read request body", nil)
			return
		}

		doc, err := h.svc.Create(r.Context(), kind, auth.TenantID, payload)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}

		w.Header().Set("Location", fmt.Sprintf("/%s/%s", kind.Plural, doc.ResourceID))
		httpapi.WriteData(w, http.StatusCreated, doc.Body())
	}
}

func (h *Handler) get(kind service.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth, ok := apikey.FromContext(r.Context())
		if !ok {
			httpapi.WriteError(w, http.StatusUnauthorized, "invalid api key", nil)
			return
		}

		resourceID, ok := parseResourceID(w, r)
		if !ok {
			return
		}

		doc, err := h.svc.Get(r.Context(), kind, auth.TenantID, resourceID)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}

		httpapi.WriteData(w, http.StatusOK, doc.Body())
	}
}

func (h *Handler) update(kind service.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth, ok := h.requireWrite(w, r)
		if !ok {
			return
		}

		resourceID, ok := parseResourceID(w, r)
		if !ok {
			return
		}

		payload, err := readBody(r)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, "could not read request body", nil)
			return
		}

		doc, err := h.svc.Update(r.Context(), kind, auth.TenantID, resourceID, payload)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}

		httpapi.WriteData(w, http.StatusOK, doc.Body())
	}
}

func (h *Handler) delete(kind service.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth, ok := h.requireWrite(w, r)
		if !ok {
			return
		}

		resourceID, ok := parseResourceID(w, r)
		if !ok {
			return
		}

		if err := h.svc.Delete(r.Context(), kind, auth.TenantID, resourceID); err != nil {
			h.writeServiceError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// notFound lists the available endpoints so integrators can self-correct
// a mistyped path without reaching for the docs.
func (h *Handler) notFound(w http.ResponseWriter, _ *http.Request) {
	endpoints := make([]string, 0, len(h.kinds)*5)
	for _, kind := range h.kinds {
		endpoints = append(endpoints,
			"GET /"+kind.Plural,
			"POST /"+kind.Plural,
			"GET /"+kind.Plural+"/{id}",
			"PUT /"+kind.Plural+"/{id}",
			"DELETE /"+kind.Plural+"/{id}",
		)
	}
	sort.Strings(endpoints)

	httpapi.WriteError(w, http.StatusNotFound, "endpoint not found", map[string]any{
		"available_endpoints": endpoints,
	})
}

func (h *Handler) requireWrite(w http.ResponseWriter, r *http.Request) (apikey.AuthContext, bool) {
	auth, ok := apikey.FromContext(r.Context())
	if !ok {
		httpapi.WriteError(w, http.StatusUnauthorized, "invalid api key", nil)
		return apikey.AuthContext{}, false
	}
	if !auth.HasPermission(apikey.PermissionWrite) {
		httpapi.WriteError(w, http.StatusForbidden, "write permission required", nil)
		return apikey.AuthContext{}, false
	}
	return auth, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *service.ValidationError
	if errors.As(err, &validationErr) {
		var extra map[string]any
		if len(validationErr.Fields) > 0 {
			extra = map[string]any{"fields": validationErr.Fields}
		}
		httpapi.WriteError(w, http.StatusBadRequest, validationErr.Reason, extra)
		return
	}

	if errors.Is(err, service.ErrNotFound) {
		httpapi.WriteError(w, http.StatusNotFound, "resource not found", nil)
		return
	}

	logging.FromRequest(r, h.logger).Error("resource operation failed", zap.Error(err))
	httpapi.WriteError(w, http.StatusInternalServerError, "internal server error", nil)
}

func parseResourceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "resourceID")
	resourceID, err := uuid.Parse(raw)
	if err != nil {
		// Malformed ids and absent rows are indistinguishable on purpose.
		httpapi.WriteError(w, http.StatusNotFound, "resource not found", nil)
		return uuid.Nil, false
	}
	return resourceID, true
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}
