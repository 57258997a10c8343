package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/catalog"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

const (
	maxBodyBytes    = 1 << 20
	maxSamplesLimit = 10000
)

// listProducts handles GET /v1/products and returns {"products": [...]}.
func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.catalog.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if products == nil {
		products = []tracker.Product{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

// createProduct handles POST /v1/products. It returns 201 with the product,
// 400 for invalid input and 409 when the URL is already tracked.
func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.NewProduct
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	product, err := s.catalog.Add(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

// getProduct handles GET /v1/products/{id}.
func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseProductID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	product, err := s.catalog.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

// deleteProduct handles DELETE /v1/products/{id}; history goes with it.
func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseProductID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.catalog.Remove(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deactivateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseProductID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.catalog.Deactivate(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": false})
}

// listSamples handles GET /v1/products/{id}/samples?limit=N. Samples are
// oldest first; limit keeps the latest N and 0 or absent means all.
func (s *Server) listSamples(w http.ResponseWriter, r *http.Request) {
	id, err := parseProductID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	samples, err := s.catalog.History(r.Context(), id, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if samples == nil {
		samples = []tracker.PriceSample{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": samples})
}

// requestRefresh handles POST /v1/refresh and returns 202 with the new signal.
func (s *Server) requestRefresh(w http.ResponseWriter, r *http.Request) {
	signal, err := s.catalog.RequestRefresh(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"signal": signal})
}

func (s *Server) getSignal(w http.ResponseWriter, r *http.Request) {
	status, err := s.catalog.Status(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tracker.ErrNotFound):
		writeError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, tracker.ErrDuplicateURL):
		writeError(w, http.StatusConflict, "product url already tracked")
	default:
		s.logger.Error("request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseProductID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid product id %q", raw)
	}
	return id, nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 || limit > maxSamplesLimit {
		return 0, fmt.Errorf("limit must be between 0 and %d", maxSamplesLimit)
	}
	return limit, nil
}
