package runs

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sequelae-ai/tokenize/pkg/common/logger"
	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/pipeline"
)

type HTTPHandler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/runs", h.handleCreate).Methods(http.MethodPost)
	router.HandleFunc("/runs", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/runs/{id}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/runs/{id}/vocab", h.handleVocab).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Log.WithError(err).Warn("invalid run payload")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	run, err := h.service.Create(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidRun) || pipeline.IsConfigError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("failed to create tokenization run")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(run)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	items, err := h.service.List(r.Context(), limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list tokenization runs")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return
	}

	run, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch tokenization run")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

func (h *HTTPHandler) handleVocab(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.service.VocabPreview(r.Context(), id, limit)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, ErrVocabNotReady) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		logger.Log.WithError(err).Error("failed to read run vocabulary")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}
