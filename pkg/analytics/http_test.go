package analytics

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/clinalytics/platform/pkg/dataset"
)

func newTestRouter(service *Service) *mux.Router {
	router := mux.NewRouter()
	NewHTTPHandler(service).Register(router.PathPrefix("/api/v1").Subrouter())
	return router
}

func get(t *testing.T, router *mux.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHTTPErrorMapping(t *testing.T) {
	router := newTestRouter(NewService(nil, dataset.Default()))

	cases := []struct {
		path   string
		status int
		body   string
	}{
		{"/api/v1/distinct/ward", http.StatusBadRequest, "ward"},
		{"/api/v1/distinct/room_number", http.StatusBadRequest, "not categorical"},
		{"/api/v1/distinct/gender?age=abc", http.StatusBadRequest, "age"},
		{"/api/v1/stay?ward=ICU", http.StatusBadRequest, "ward"},
		{"/api/v1/runs/not-a-uuid", http.StatusBadRequest, "not-a-uuid"},
		{"/api/v1/reports/latest", http.StatusNotFound, ""},
		{"/api/v1/quality", http.StatusNotFound, ""},
	}
	for _, tc := range cases {
		rec := get(t, router, tc.path)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.path, tc.status, rec.Code)
		}
		if tc.body != "" && !strings.Contains(rec.Body.String(), tc.body) {
			t.Fatalf("%s: expected body to mention %q, got %q", tc.path, tc.body, rec.Body.String())
		}
	}
}

func TestHTTPServesQueries(t *testing.T) {
	db := openTestDB(t)
	seedWorkingTable(t, db, "admissions_http")
	service := NewService(NewRepository(db, "admissions_http"), dataset.Default())
	router := newTestRouter(service)

	rec := get(t, router, "/api/v1/distinct/gender")
	if rec.Code != http.StatusOK {
		t.Fatalf("distinct: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var distinct struct {
		Field  string   `json:"field"`
		Values []string `json:"values"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &distinct); err != nil {
		t.Fatalf("decode distinct: %v", err)
	}
	if distinct.Field != "gender" || len(distinct.Values) != 2 || distinct.Values[0] != "Female" {
		t.Fatalf("unexpected distinct payload: %+v", distinct)
	}

	rec = get(t, router, "/api/v1/counts/doctors?gender=Male")
	if rec.Code != http.StatusOK {
		t.Fatalf("counts: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var counts struct {
		Items []struct {
			Value string `json:"value"`
			Count int64  `json:"count"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &counts); err != nil {
		t.Fatalf("decode counts: %v", err)
	}
	if len(counts.Items) != 2 || counts.Items[0].Value != "Dr Lee" || counts.Items[0].Count != 1 {
		t.Fatalf("unexpected counts payload: %+v", counts)
	}

	rec = get(t, router, "/api/v1/stay")
	if rec.Code != http.StatusOK {
		t.Fatalf("stay: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var stay struct {
		AverageDays float64 `json:"average_days"`
		Records     int64   `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stay); err != nil {
		t.Fatalf("decode stay: %v", err)
	}
	if stay.Records != 5 || math.Abs(stay.AverageDays-4.6) > 0.0001 {
		t.Fatalf("unexpected stay payload: %+v", stay)
	}

	rec = get(t, router, "/api/v1/report")
	if rec.Code != http.StatusOK {
		t.Fatalf("report: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report struct {
		RowCount int64               `json:"row_count"`
		Distinct map[string][]string `json:"distincts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.RowCount != 6 {
		t.Fatalf("expected report over 6 rows, got %d", report.RowCount)
	}
	if len(report.Distinct) != 5 {
		t.Fatalf("expected 5 distinct sections, got %d", len(report.Distinct))
	}
}
