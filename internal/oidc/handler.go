package oidc

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, logger: logger}
}

// Authorize redirects to the consent page of the provider in the path.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	url, err := h.svc.Begin(r.Context(), r.PathValue("provider"))
	if err != nil {
		if errors.Is(err, ErrUnknownProvider) {
			h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown provider"})
			return
		}
		h.logger.Errorw("begin federated login failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// Callback completes the code flow and returns {token}.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		h.logger.Debugw("provider denied authorization", "error", e)
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization denied"})
		return
	}
	tok, _, err := h.svc.Complete(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidState), errors.Is(err, ErrMissingCode), errors.Is(err, ErrUnknownProvider):
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, ErrAssertionFailed), errors.Is(err, ErrUnverifiedIdentity):
			h.logger.Infow("federated login rejected", "err", err)
			h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication failed"})
		default:
			h.logger.Errorw("federated login failed", "err", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		}
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
