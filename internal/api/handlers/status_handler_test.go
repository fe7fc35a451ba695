package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"crossarb/internal/models"
)

// ============ StatusHandler Tests ============

func TestStatusHandler_GetStatus(t *testing.T) {
	engine := newMockEngine()
	handler := NewStatusHandler(engine)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()

	handler.GetStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var status models.EngineStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !status.Running || status.Cycle != 12 {
		t.Errorf("unexpected status: %+v", status)
	}
	if len(status.Venues) != 2 {
		t.Errorf("expected 2 venues, got %d", len(status.Venues))
	}
}

func TestStatusHandler_PauseResume(t *testing.T) {
	engine := newMockEngine()
	handler := NewStatusHandler(engine)

	// Первая пауза проходит
	w := httptest.NewRecorder()
	handler.Pause(w, httptest.NewRequest(http.MethodPost, "/api/v1/pause", nil))
	if w.Code != http.StatusOK {
		t.Errorf("pause: expected %d, got %d", http.StatusOK, w.Code)
	}

	// Повторная пауза конфликтует
	w = httptest.NewRecorder()
	handler.Pause(w, httptest.NewRequest(http.MethodPost, "/api/v1/pause", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("double pause: expected %d, got %d", http.StatusConflict, w.Code)
	}

	// Resume снимает паузу
	w = httptest.NewRecorder()
	handler.Resume(w, httptest.NewRequest(http.MethodPost, "/api/v1/resume", nil))
	if w.Code != http.StatusOK {
		t.Errorf("resume: expected %d, got %d", http.StatusOK, w.Code)
	}

	// Resume без паузы конфликтует
	w = httptest.NewRecorder()
	handler.Resume(w, httptest.NewRequest(http.MethodPost, "/api/v1/resume", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("double resume: expected %d, got %d", http.StatusConflict, w.Code)
	}
}
