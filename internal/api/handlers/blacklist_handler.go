package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"crossarb/internal/models"
	"crossarb/internal/repository"
)

// PathBlacklistStore - хранилище запрещённых путей перевода
//
// Реализуется репозиторием БД либо in-memory хранилищем движка
// (когда бот работает без базы).
type PathBlacklistStore interface {
	GetAll() ([]*models.PathBlacklistEntry, error)
	Create(entry *models.PathBlacklistEntry) error
	Delete(asset, fromVenue, toVenue, network string) error
}

// BlacklistHandler отвечает за черный список путей перевода
//
// Путь (актив, площадка-источник, площадка-получатель, сеть) попадает
// сюда после таймаута прибытия или вручную оператором; анализатор
// исключает такие пути из выбора сети.
type BlacklistHandler struct {
	store PathBlacklistStore
}

// NewBlacklistHandler создает новый BlacklistHandler
func NewBlacklistHandler(store PathBlacklistStore) *BlacklistHandler {
	return &BlacklistHandler{store: store}
}

// GetBlacklist возвращает весь черный список путей
// GET /api/v1/path-blacklist
func (h *BlacklistHandler) GetBlacklist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.GetAll()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load path blacklist")
		return
	}
	if entries == nil {
		entries = []*models.PathBlacklistEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// addPathRequest - тело запроса на добавление пути
type addPathRequest struct {
	Asset     string `json:"asset"`
	FromVenue string `json:"from_venue"`
	ToVenue   string `json:"to_venue"`
	Network   string `json:"network"`
	Reason    string `json:"reason"`
}

// AddToBlacklist добавляет путь в черный список
// POST /api/v1/path-blacklist
func (h *BlacklistHandler) AddToBlacklist(w http.ResponseWriter, r *http.Request) {
	var req addPathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Asset = strings.TrimSpace(req.Asset)
	req.FromVenue = strings.TrimSpace(req.FromVenue)
	req.ToVenue = strings.TrimSpace(req.ToVenue)
	req.Network = strings.TrimSpace(req.Network)

	if req.Asset == "" || req.FromVenue == "" || req.ToVenue == "" || req.Network == "" {
		respondError(w, http.StatusBadRequest, "asset, from_venue, to_venue and network are required")
		return
	}

	entry := &models.PathBlacklistEntry{
		Asset:     strings.ToUpper(req.Asset),
		FromVenue: req.FromVenue,
		ToVenue:   req.ToVenue,
		Network:   req.Network,
		Reason:    req.Reason,
	}

	if err := h.store.Create(entry); err != nil {
		if errors.Is(err, repository.ErrPathExists) {
			respondError(w, http.StatusConflict, "path already blacklisted")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to add path")
		return
	}

	respondJSON(w, http.StatusCreated, entry)
}

// RemoveFromBlacklist удаляет путь из черного списка
// DELETE /api/v1/path-blacklist/{asset}/{from}/{to}/{network}
func (h *BlacklistHandler) RemoveFromBlacklist(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	err := h.store.Delete(vars["asset"], vars["from"], vars["to"], vars["network"])
	if err != nil {
		if errors.Is(err, repository.ErrPathNotFound) {
			respondError(w, http.StatusNotFound, "path not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete path")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
