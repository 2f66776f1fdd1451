package user

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/docnet/internal/principal"
	"github.com/ovaphlow/docnet/internal/token"
	"github.com/ovaphlow/docnet/internal/user/entity"
)

const maxBodyBytes = 1 << 20

// Handler exposes HTTP endpoints for account operations.
type Handler struct {
	svc    *UserService
	logger *zap.SugaredLogger
}

func NewHandler(svc *UserService, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, logger: logger}
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// RegisterRequest registration payload.
type RegisterRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	Role           string `json:"role"`
	NMCNumber      string `json:"nmcNumber"`
	Specialization string `json:"specialization"`
	Location       string `json:"location"`
}

// AuthResponse is returned by login and registration.
type AuthResponse struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Role     entity.Role `json:"role"`
	Verified bool        `json:"verified"`
	Token    string      `json:"token"`
}

func newAuthResponse(res *AuthResult) AuthResponse {
	return AuthResponse{
		ID:       res.User.ID,
		Name:     res.User.Name,
		Email:    res.User.Email,
		Role:     res.User.Role,
		Verified: res.User.Verified,
		Token:    res.Token,
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.decode(w, r, &req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidCredentials):
			h.logger.Debugw("login failed", "err", err)
			h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		case errors.Is(err, ErrRoleMismatch):
			h.logger.Debugw("login failed", "err", err)
			h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "role mismatch"})
		default:
			h.logger.Errorw("login failed", "err", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		}
		return
	}
	h.writeJSON(w, http.StatusOK, newAuthResponse(res))
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := h.decode(w, r, &req); err != nil {
		h.logger.Debugw("invalid register payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	res, err := h.svc.Register(r.Context(), RegisterInput{
		Name:           req.Name,
		Email:          req.Email,
		Password:       req.Password,
		Role:           req.Role,
		NMCNumber:      req.NMCNumber,
		Specialization: req.Specialization,
		Location:       req.Location,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, ErrEmailTaken):
			h.writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered"})
		case errors.Is(err, ErrNMCTaken):
			h.writeJSON(w, http.StatusConflict, map[string]string{"error": "nmc number already registered"})
		default:
			h.logger.Errorw("register failed", "err", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "registration failed"})
		}
		return
	}
	h.writeJSON(w, http.StatusOK, newAuthResponse(res))
}

// Me validates the bearer token itself so it can tell an invalid token
// (401) from a subject that no longer exists (404).
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	raw, ok := token.FromHeader(r.Header.Get("Authorization"))
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or malformed authorization header"})
		return
	}
	u, err := h.svc.CurrentUser(r.Context(), raw)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrMalformed), errors.Is(err, token.ErrBadSignature), errors.Is(err, token.ErrExpired):
			h.logger.Debugw("current user rejected", "err", err)
			h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		case errors.Is(err, ErrNotFound):
			h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		default:
			h.logger.Errorw("current user failed", "err", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		}
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

type verifyNMCRequest struct {
	NMCNumber string `json:"nmcNumber"`
}

func (h *Handler) VerifyNMC(w http.ResponseWriter, r *http.Request) {
	var req verifyNMCRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	ok, err := h.svc.VerifyNMC(r.Context(), req.NMCNumber)
	if err != nil {
		h.logger.Errorw("nmc verification failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "verification failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"isValid": ok})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	p := principal.From(r.Context())
	if p == nil {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "access denied"})
		return
	}
	var req entity.Profile
	if err := h.decode(w, r, &req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	u, err := h.svc.UpdateProfile(r.Context(), p.UserID, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, ErrNMCTaken):
			h.writeJSON(w, http.StatusConflict, map[string]string{"error": "nmc number already registered"})
		case errors.Is(err, ErrNotFound):
			h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		default:
			h.logger.Errorw("profile update failed", "err", err, "user_id", p.UserID)
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "update failed"})
		}
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

// Doctors lists doctor accounts for consultation booking.
func (h *Handler) Doctors(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, entity.RoleDoctor)
}

// Patients lists patient accounts. Doctors only.
func (h *Handler) Patients(w http.ResponseWriter, r *http.Request) {
	if _, err := principal.Require(r.Context(), entity.RoleDoctor); err != nil {
		if errors.Is(err, principal.ErrUnauthenticated) {
			h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "access denied"})
			return
		}
		h.writeJSON(w, http.StatusForbidden, map[string]string{"error": "access denied"})
		return
	}
	h.list(w, r, entity.RolePatient)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, role entity.Role) {
	views, err := h.svc.ListByRole(r.Context(), role)
	if err != nil {
		h.logger.Errorw("list users failed", "err", err, "role", role)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
