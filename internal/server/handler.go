package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"frostchat/internal/domain"
)

// Handler serves the record-store REST API.
type Handler struct {
	repo *Repository
}

// NewHandler returns a handler over repo.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// transitionRequest mirrors the client's conditional-update wire form.
type transitionRequest struct {
	Expect         domain.KeyStatus `json:"expect"`
	Status         domain.KeyStatus `json:"status,omitempty"`
	SenderAcked    *bool            `json:"sender_acknowledged,omitempty"`
	ReceiverAcked  *bool            `json:"receiver_acknowledged,omitempty"`
	LastRotationAt *time.Time       `json:"last_rotation_at,omitempty"`
}

func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var k domain.SessionKey
	if err := json.NewDecoder(r.Body).Decode(&k); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if k.ID == "" || k.ChatID == "" {
		respondError(w, http.StatusBadRequest, "invalid_record", "id and chat_id are required")
		return
	}
	if err := h.repo.InsertSessionKey(r.Context(), k); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, k)
}

func (h *Handler) TransitionKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	updated, err := h.repo.UpdateSessionKey(r.Context(), id, req.Expect, domain.KeyMutation{
		Status:         req.Status,
		SenderAcked:    req.SenderAcked,
		ReceiverAcked:  req.ReceiverAcked,
		LastRotationAt: req.LastRotationAt,
	})
	switch {
	case errors.Is(err, domain.ErrConflict):
		respondError(w, http.StatusConflict, "status_conflict", "record is not in the expected status")
	case errors.Is(err, domain.ErrKeyNotFound):
		respondError(w, http.StatusNotFound, "not_found", "no such key")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
	default:
		respondJSON(w, http.StatusOK, updated)
	}
}

func (h *Handler) GetKey(w http.ResponseWriter, r *http.Request) {
	k, ok, err := h.repo.GetSessionKey(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "no such key")
		return
	}
	respondJSON(w, http.StatusOK, k)
}

func (h *Handler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteSessionKey(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListChatKeys(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chat_id")
	if r.URL.Query().Get("status") == string(domain.KeyStatusActive) {
		k, ok, err := h.repo.ActiveSessionKey(r.Context(), chatID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		if !ok {
			respondJSON(w, http.StatusOK, []domain.SessionKey{})
			return
		}
		respondJSON(w, http.StatusOK, []domain.SessionKey{k})
		return
	}
	keys, err := h.repo.SessionKeysByChat(r.Context(), chatID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, keys)
}

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var t domain.KeyTransferRecord
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if t.ID == "" || t.RecipientID == "" || len(t.WrappedKey) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_record", "id, recipient_id and wrapped_key are required")
		return
	}
	if err := h.repo.InsertTransfer(r.Context(), t); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

func (h *Handler) PendingTransfers(w http.ResponseWriter, r *http.Request) {
	recipient := r.URL.Query().Get("recipient")
	if recipient == "" {
		respondError(w, http.StatusBadRequest, "invalid_query", "recipient is required")
		return
	}
	// Expiry is judged against the server clock, not the caller's.
	out, err := h.repo.PendingTransfers(r.Context(), recipient, time.Now().UTC())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) ReceiveTransfer(w http.ResponseWriter, r *http.Request) {
	err := h.repo.MarkTransferReceived(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, domain.ErrConflict):
		respondError(w, http.StatusConflict, "already_received", "transfer was already consumed")
	case errors.Is(err, domain.ErrKeyNotFound):
		respondError(w, http.StatusNotFound, "not_found", "no such transfer")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) PutIdentity(w http.ResponseWriter, r *http.Request) {
	var rec domain.IdentityRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	rec.UserID = chi.URLParam(r, "user_id")
	if len(rec.PublicKey) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_record", "public_key is required")
		return
	}
	if err := h.repo.PublishIdentity(r.Context(), rec); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := h.repo.FetchIdentity(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "no published identity")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Code: code, Message: message})
}
