package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"registry-service/internal/core"
)

// CompanyLookup is the part of the service the transport needs.
type CompanyLookup interface {
	GetCompanyInfo(ctx context.Context, countryToken, companyID string) (*core.Company, error)
	Refresh(ctx context.Context, countryToken, companyID string) (*core.Company, error)
	History(ctx context.Context, countryToken, companyID string) ([]core.CachedRecord, error)
}

// Handler handles HTTP requests for company operations
type Handler struct {
	svc CompanyLookup
	log *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc CompanyLookup, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log}
}

const (
	statusOK    = "OK"
	statusError = "ERROR"
)

// Response is the success envelope.
type Response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data"`
}

// ErrorResponse is the failure envelope. Error holds code, message and the
// context fields of the failure.
type ErrorResponse struct {
	Status string                 `json:"status"`
	Error  map[string]interface{} `json:"error"`
}

// HistoryEntry is one version in the history listing.
type HistoryEntry struct {
	Version   int          `json:"version"`
	Current   bool         `json:"current"`
	FetchedAt time.Time    `json:"fetchedAt"`
	Company   core.Company `json:"company"`
}

// Info handles GET /company/info/{countryCode}/{companyId}
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	company, err := h.svc.GetCompanyInfo(r.Context(), chi.URLParam(r, "countryCode"), chi.URLParam(r, "companyId"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.respondJSON(w, Response{Status: statusOK, Data: company}, http.StatusOK)
}

// Refresh handles POST /company/refresh/{countryCode}/{companyId}
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	company, err := h.svc.Refresh(r.Context(), chi.URLParam(r, "countryCode"), chi.URLParam(r, "companyId"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.respondJSON(w, Response{Status: statusOK, Data: company}, http.StatusOK)
}

// History handles GET /company/history/{countryCode}/{companyId}
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.History(r.Context(), chi.URLParam(r, "countryCode"), chi.URLParam(r, "companyId"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	entries := make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, HistoryEntry{
			Version:   rec.Version,
			Current:   rec.Current,
			FetchedAt: rec.FetchedAt,
			Company:   rec.Company,
		})
	}
	h.respondJSON(w, Response{Status: statusOK, Data: entries}, http.StatusOK)
}

// handleServiceError maps service errors to HTTP status codes
func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	var e *core.Error
	if !errors.As(err, &e) {
		e = &core.Error{Message: err.Error()}
	}

	switch {
	case errors.Is(err, core.ErrCompanyNotFound):
		h.respondError(w, http.StatusNotFound, "COMPANY_NOT_FOUND", e.Message, map[string]interface{}{
			"companyId":   e.CompanyID,
			"countryCode": e.Country.String(),
		})
	case errors.Is(err, core.ErrInvalidCountryCode):
		h.respondError(w, http.StatusBadRequest, "INVALID_COUNTRY_CODE", e.Message, map[string]interface{}{
			"provided":  e.Provided,
			"supported": core.SupportedCountryTokens(),
		})
	case errors.Is(err, core.ErrRegistryUnavailable):
		h.log.Warn("registry error",
			zap.String("country", e.Country.String()),
			zap.String("company_id", e.CompanyID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusServiceUnavailable, "REGISTRY_ERROR", e.Message, map[string]interface{}{
			"countryCode": e.Country.String(),
		})
	case errors.Is(err, core.ErrPersistence):
		h.log.Error("persistence error", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "PERSISTENCE_ERROR", "company cache is unavailable", nil)
	default:
		h.log.Error("internal error", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
	}
}

// respondJSON writes a JSON response
func (h *Handler) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Warn("error encoding response", zap.Error(err))
	}
}

// respondError writes an error response
func (h *Handler) respondError(w http.ResponseWriter, status int, code, message string, fields map[string]interface{}) {
	body := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	for k, v := range fields {
		body[k] = v
	}
	h.respondJSON(w, ErrorResponse{Status: statusError, Error: body}, status)
}
