package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/averlane/parley/internal/approval"
	"github.com/averlane/parley/internal/auth"
	"github.com/averlane/parley/internal/identity"
	"github.com/averlane/parley/internal/message"
	"github.com/averlane/parley/internal/registry"
	"github.com/averlane/parley/internal/router"
	"github.com/averlane/parley/internal/securelog"
	"github.com/averlane/parley/internal/userstore"
)

const (
	maxBodyBytes = 1 << 20
	timeLayout   = time.RFC3339Nano
	tokenCookie  = "auth_token"
)

type Handler struct {
	auth      *auth.Service
	approvals *approval.Service
	users     userstore.Store
	messages  message.Store
	router    *router.Router
	reg       *registry.Registry
}

func NewHandler(authSvc *auth.Service, approvals *approval.Service, users userstore.Store, messages message.Store, rt *router.Router, reg *registry.Registry) *Handler {
	return &Handler{
		auth:      authSvc,
		approvals: approvals,
		users:     users,
		messages:  messages,
		router:    rt,
		reg:       reg,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/users/register", h.handleRegister)
	mux.HandleFunc("/api/users/login", h.handleLogin)
	mux.HandleFunc("/api/users/logout", h.handleLogout)
	mux.HandleFunc("/api/users/user-info", h.handleUserInfo)
	mux.HandleFunc("/api/users", h.handleUsers)
	mux.HandleFunc("/api/requests/pending", h.handlePending)
	mux.HandleFunc("/api/requests/approve", h.handleApprove)
	mux.HandleFunc("/api/requests/reject", h.handleReject)
	mux.HandleFunc("/api/messages/send", h.handleSendMessage)
	mux.HandleFunc("/api/messages", h.handleMessages)
	mux.HandleFunc("/api/presence", h.handlePresence)
}

// authenticate resolves the caller's identity, preferring the inline
// bearer token over the ambient cookie.
func (h *Handler) authenticate(r *http.Request) (identity.Identity, error) {
	return h.auth.Verify(credentialFromRequest(r))
}

func (h *Handler) authenticateAdmin(r *http.Request) (identity.Identity, error) {
	id, err := h.authenticate(r)
	if err != nil {
		return identity.Identity{}, err
	}
	if id.Role != identity.RoleAdmin {
		return identity.Identity{}, errAdminRequired
	}
	return id, nil
}

var errAdminRequired = errors.New("admin role required")

func credentialFromRequest(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		parts := strings.Fields(header)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	if cookie, err := r.Cookie(tokenCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

type registerRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := h.auth.Register(r.Context(), req.FullName, req.Email, req.Password, role)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, userstore.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":      id,
		"message": "request sent successfully",
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string        `json:"token"`
	Email     string        `json:"email"`
	Role      identity.Role `json:"role"`
	ExpiresAt string        `json:"expires_at"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrNotApproved):
			writeError(w, http.StatusUnauthorized, err)
		case errors.Is(err, auth.ErrAlreadyLoggedIn), errors.Is(err, userstore.ErrConflict):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     session.Token,
		Email:     session.Identity.Email,
		Role:      session.Identity.Role,
		ExpiresAt: session.ExpiresAt.UTC().Format(timeLayout),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	credential := credentialFromRequest(r)
	if err := h.auth.Logout(r.Context(), credential); err != nil {
		switch {
		case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrTokenExpired):
			writeError(w, http.StatusUnauthorized, err)
		case errors.Is(err, userstore.ErrConflict):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"email": id.Email,
		"role":  string(id.Role),
	})
}

type userSummary struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Approved bool   `json:"approved"`
}

func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, err := h.authenticate(r); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	all, err := h.users.FetchAll(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	out := make([]userSummary, 0, len(all))
	for _, sum := range all {
		out = append(out, userSummary{FullName: sum.FullName, Email: sum.Email, Approved: sum.Approved})
	}
	writeJSON(w, http.StatusOK, map[string][]userSummary{"users": out})
}

type pendingRecord struct {
	ID       string        `json:"id"`
	Rev      int64         `json:"rev"`
	FullName string        `json:"full_name"`
	Email    string        `json:"email"`
	Role     identity.Role `json:"role"`
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, err := h.authenticateAdmin(r); err != nil {
		writeAuthError(w, err)
		return
	}

	recs, err := h.approvals.Pending(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	out := make([]pendingRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, pendingRecord{
			ID:       rec.ID,
			Rev:      rec.Rev,
			FullName: rec.FullName,
			Email:    rec.Email,
			Role:     rec.Role,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]pendingRecord{"pending": out})
}

type approveRequest struct {
	ID   string `json:"id"`
	Rev  int64  `json:"rev"`
	Role string `json:"role"`
}

type approveResponse struct {
	ID       string        `json:"id"`
	Rev      int64         `json:"rev"`
	FullName string        `json:"full_name"`
	Email    string        `json:"email"`
	Role     identity.Role `json:"role"`
	Approved bool          `json:"approved"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, err := h.authenticateAdmin(r); err != nil {
		writeAuthError(w, err)
		return
	}

	var req approveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	updated, err := h.approvals.Approve(r.Context(), req.ID, req.Rev, role)
	if err != nil {
		writeApprovalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, approveResponse{
		ID:       updated.ID,
		Rev:      updated.Rev,
		FullName: updated.FullName,
		Email:    updated.Email,
		Role:     updated.Role,
		Approved: updated.Approved,
	})
}

type rejectRequest struct {
	ID  string `json:"id"`
	Rev int64  `json:"rev"`
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, err := h.authenticateAdmin(r); err != nil {
		writeAuthError(w, err)
		return
	}

	var req rejectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.approvals.Reject(r.Context(), req.ID, req.Rev); err != nil {
		writeApprovalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "user rejected"})
}

type sendMessageRequest struct {
	Receiver string `json:"receiver"`
	Body     []byte `json:"body"`
	Type     string `json:"message_type"`
}

type sendMessageResponse struct {
	ID        message.ID `json:"id"`
	SentAt    string     `json:"sent_at"`
	Delivered int        `json:"delivered"`
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	msg := message.Message{
		Sender:     id.Email,
		Receiver:   req.Receiver,
		Body:       req.Body,
		SenderRole: id.Role,
		Type:       message.Type(req.Type),
	}
	committed, delivered, err := h.router.Route(r.Context(), msg)
	if err != nil {
		if errors.Is(err, router.ErrInvalidMessage) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, http.StatusOK, sendMessageResponse{
		ID:        committed.ID,
		SentAt:    committed.SentAt.UTC().Format(timeLayout),
		Delivered: len(delivered),
	})
}

type historyMessage struct {
	ID         message.ID    `json:"id"`
	Sender     string        `json:"sender"`
	Receiver   string        `json:"receiver"`
	Body       []byte        `json:"body"`
	SenderRole identity.Role `json:"sender_role"`
	Kind       message.Type  `json:"message_type"`
	SentAt     string        `json:"sent_at"`
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, err := h.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	msgs, err := h.messages.Fetch(r.Context(), message.Filter{Email: id.Email, Role: id.Role})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	out := make([]historyMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, historyMessage{
			ID:         msg.ID,
			Sender:     msg.Sender,
			Receiver:   msg.Receiver,
			Body:       msg.Body,
			SenderRole: msg.SenderRole,
			Kind:       msg.Type,
			SentAt:     msg.SentAt.UTC().Format(timeLayout),
		})
	}
	writeJSON(w, http.StatusOK, map[string][]historyMessage{"messages": out})
}

type presenceResponse struct {
	Online  []string       `json:"online"`
	Rosters map[string]int `json:"rosters"`
}

func (h *Handler) handlePresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, err := h.authenticate(r); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	online := make([]string, 0)
	seen := map[string]struct{}{}
	for _, conn := range h.reg.Connections() {
		if _, ok := seen[conn.Identity.Email]; ok {
			continue
		}
		seen[conn.Identity.Email] = struct{}{}
		online = append(online, conn.Identity.Email)
	}

	rosters := map[string]int{
		identity.RoleAdmin.Group(): h.router.RosterSize(identity.RoleAdmin.Group()),
		identity.RoleUser.Group():  h.router.RosterSize(identity.RoleUser.Group()),
	}
	writeJSON(w, http.StatusOK, presenceResponse{Online: online, Rosters: rosters})
}

func writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, errAdminRequired) {
		writeError(w, http.StatusForbidden, err)
		return
	}
	writeError(w, http.StatusUnauthorized, err)
}

func writeApprovalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, approval.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, userstore.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, userstore.ErrConflict):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusServiceUnavailable, err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("multiple json objects are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	securelog.Error("httpapi", err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
