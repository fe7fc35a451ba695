package handlers

import (
	"net/http"

	"crossarb/internal/models"
)

// EngineControl - управление движком со стороны API
//
// Реализуется движком; handlers зависят только от интерфейса,
// что позволяет тестировать их без полного движка.
type EngineControl interface {
	Status() *models.EngineStatus

	// Pause останавливает запуск новых сделок (текущая доживает).
	// Возвращает false, если движок уже на паузе.
	Pause() bool

	// Resume снимает паузу. Возвращает false, если паузы не было.
	Resume() bool
}

// StatusHandler отвечает за состояние и управление движком
//
// Функции:
// - Снимок состояния движка (GET /api/v1/status)
// - Пауза исполнения (POST /api/v1/pause)
// - Возобновление исполнения (POST /api/v1/resume)
type StatusHandler struct {
	engine EngineControl
}

// NewStatusHandler создает новый StatusHandler
func NewStatusHandler(engine EngineControl) *StatusHandler {
	return &StatusHandler{engine: engine}
}

// GetStatus возвращает снимок состояния движка
// GET /api/v1/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Status())
}

// Pause приостанавливает запуск новых сделок
// POST /api/v1/pause
func (h *StatusHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Pause() {
		respondError(w, http.StatusConflict, "engine already paused")
		return
	}
	respondJSON(w, http.StatusOK, &SuccessResponse{Message: "engine paused"})
}

// Resume возобновляет запуск новых сделок
// POST /api/v1/resume
func (h *StatusHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Resume() {
		respondError(w, http.StatusConflict, "engine is not paused")
		return
	}
	respondJSON(w, http.StatusOK, &SuccessResponse{Message: "engine resumed"})
}
