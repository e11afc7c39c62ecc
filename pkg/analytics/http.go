package analytics

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/clinalytics/platform/pkg/common/logger"
	"github.com/clinalytics/platform/pkg/pipeline"
)

type HTTPHandler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/distinct/{field}", h.handleDistinct).Methods(http.MethodGet)
	router.HandleFunc("/counts/doctors", h.handleDoctorCounts).Methods(http.MethodGet)
	router.HandleFunc("/counts/hospitals", h.handleHospitalCounts).Methods(http.MethodGet)
	router.HandleFunc("/stay", h.handleStay).Methods(http.MethodGet)
	router.HandleFunc("/trend/monthly", h.handleMonthlyTrend).Methods(http.MethodGet)
	router.HandleFunc("/billing/age-bands", h.handleAgeBands).Methods(http.MethodGet)
	router.HandleFunc("/billing/conditions", h.handleConditions).Methods(http.MethodGet)
	router.HandleFunc("/report", h.handleReport).Methods(http.MethodGet)
	router.HandleFunc("/reports/latest", h.handleLatestSnapshot).Methods(http.MethodGet)
	router.HandleFunc("/quality", h.handleQuality).Methods(http.MethodGet)
	router.HandleFunc("/runs", h.handleRuns).Methods(http.MethodGet)
	router.HandleFunc("/runs/{id}", h.handleRun).Methods(http.MethodGet)
	router.HandleFunc("/runs/{id}/quality", h.handleRunQuality).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleDistinct(w http.ResponseWriter, r *http.Request) {
	field := mux.Vars(r)["field"]
	filters, err := ParseFilters(h.service.catalog, r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	values, err := h.service.DistinctValues(r.Context(), field, filters)
	if err != nil {
		h.respondError(w, err, "failed to list distinct values")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"field": field, "values": values})
}

func (h *HTTPHandler) handleDoctorCounts(w http.ResponseWriter, r *http.Request) {
	filters, err := ParseFilters(h.service.catalog, r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	counts, err := h.service.DoctorCounts(r.Context(), filters)
	if err != nil {
		h.respondError(w, err, "failed to count admissions per doctor")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": counts})
}

func (h *HTTPHandler) handleHospitalCounts(w http.ResponseWriter, r *http.Request) {
	filters, err := ParseFilters(h.service.catalog, r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	counts, err := h.service.HospitalCounts(r.Context(), filters)
	if err != nil {
		h.respondError(w, err, "failed to count admissions per hospital")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": counts})
}

func (h *HTTPHandler) handleStay(w http.ResponseWriter, r *http.Request) {
	filters, err := ParseFilters(h.service.catalog, r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stats, err := h.service.StayStats(r.Context(), filters)
	if err != nil {
		h.respondError(w, err, "failed to compute stay statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *HTTPHandler) handleMonthlyTrend(w http.ResponseWriter, r *http.Request) {
	filters, err := ParseFilters(h.service.catalog, r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	trend, err := h.service.MonthlyTrend(r.Context(), filters)
	if err != nil {
		h.respondError(w, err, "failed to compute monthly trend")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": trend})
}

func (h *HTTPHandler) handleAgeBands(w http.ResponseWriter, r *http.Request) {
	filters, err := ParseFilters(h.service.catalog, r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bands, err := h.service.BillingByAgeBand(r.Context(), filters)
	if err != nil {
		h.respondError(w, err, "failed to compute billing by age band")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": bands})
}

func (h *HTTPHandler) handleConditions(w http.ResponseWriter, r *http.Request) {
	filters, err := ParseFilters(h.service.catalog, r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conditions, err := h.service.BillingByCondition(r.Context(), filters)
	if err != nil {
		h.respondError(w, err, "failed to compute billing by condition")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": conditions})
}

func (h *HTTPHandler) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.FullReport(r.Context())
	if err != nil {
		h.respondError(w, err, "failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.LatestSnapshot(r.Context())
	if err != nil {
		h.respondError(w, err, "failed to load latest report snapshot")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *HTTPHandler) handleQuality(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.QualityReport(r.Context())
	if err != nil {
		h.respondError(w, err, "failed to load quality report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20)
	runs, err := h.service.Runs(r.Context(), limit)
	if err != nil {
		h.respondError(w, err, "failed to list pipeline runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": runs})
}

func (h *HTTPHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.Run(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err, "failed to load pipeline run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *HTTPHandler) handleRunQuality(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.QualityReportForRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err, "failed to load run quality report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, err error, msg string) {
	if IsValidationError(err) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if errors.Is(err, pipeline.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	logger.Log.WithError(err).Error(msg)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
