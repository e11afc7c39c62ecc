package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinalytics/platform/pkg/common/logger"
	"github.com/clinalytics/platform/pkg/common/models"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func sampleSummary() models.RunSummary {
	return models.RunSummary{
		RunID:       uuid.New(),
		Status:      "completed",
		RowCount:    6,
		Duration:    "1.2s",
		CompletedAt: time.Now().UTC(),
	}
}

func TestNotifierPostsSummary(t *testing.T) {
	var got models.RunSummary
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	summary := sampleSummary()
	notifier := NewNotifier(server.URL, 5*time.Second, 1)
	if err := notifier.RunCompleted(context.Background(), summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contentType != "application/json" {
		t.Fatalf("expected json content type, got %q", contentType)
	}
	if got.RunID != summary.RunID {
		t.Fatalf("expected run %s, got %s", summary.RunID, got.RunID)
	}
	if got.Status != "completed" || got.RowCount != 6 {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestNotifierRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewNotifier(server.URL, 5*time.Second, 3)
	if err := notifier.RunCompleted(context.Background(), sampleSummary()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestNotifierGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewNotifier(server.URL, 5*time.Second, 2)
	if err := notifier.RunCompleted(context.Background(), sampleSummary()); err == nil {
		t.Fatal("expected delivery error")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestNilNotifierIsNoOp(t *testing.T) {
	var notifier *Notifier
	if err := notifier.RunCompleted(context.Background(), sampleSummary()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewNotifierRequiresURL(t *testing.T) {
	if notifier := NewNotifier("", time.Second, 3); notifier != nil {
		t.Fatal("expected nil notifier for empty url")
	}
}
