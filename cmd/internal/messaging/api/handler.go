// Package messagingapi exposes the outbound messaging session over HTTP.
package messagingapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"dasma/cmd/internal/httpx"
	"dasma/cmd/internal/invite"
	"dasma/cmd/internal/messaging"
)

// Session is the lifecycle surface of messaging.Manager.
type Session interface {
	Status() messaging.Status
	Init(ctx context.Context) (messaging.InitResult, error)
	Restart(ctx context.Context) (messaging.InitResult, error)
}

// Invitations sends a stored invitation by id.
type Invitations interface {
	Send(ctx context.Context, invitationID string) (messaging.Result, error)
}

// Handler wires messaging HTTP endpoints.
type Handler struct {
	log         *slog.Logger
	session     Session
	sender      *messaging.Sender
	invitations Invitations
}

// NewHandler constructs a Handler. invitations may be nil, in which case
// /invitations/send is not registered.
func NewHandler(log *slog.Logger, session Session, sender *messaging.Sender, invitations Invitations) (*Handler, error) {
	if session == nil || sender == nil {
		return nil, errors.New("messagingapi: nil session or sender")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, session: session, sender: sender, invitations: invitations}, nil
}

// Paths lists every route Register installs.
func (h *Handler) Paths() []string {
	paths := []string{"/status", "/init", "/send", "/restart"}
	if h.invitations != nil {
		paths = append(paths, "/invitations/send")
	}
	return paths
}

// Register wires routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/status", h.handleStatus)
	mux.HandleFunc("/init", h.handleInit)
	mux.HandleFunc("/send", h.handleSend)
	mux.HandleFunc("/restart", h.handleRestart)
	if h.invitations != nil {
		mux.HandleFunc("/invitations/send", h.handleInvitation)
	}
}

type statusResponse struct {
	State        messaging.State `json:"state"`
	Ready        bool            `json:"ready"`
	Initializing bool            `json:"initializing"`
	QRCode       string          `json:"qrCode,omitempty"`
	Error        string          `json:"error,omitempty"`
	HasClient    bool            `json:"hasClient"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodGet) {
		return
	}
	st := h.session.Status()
	resp := statusResponse{
		State:        st.State,
		Ready:        st.Ready,
		Initializing: st.Initializing,
		Error:        st.Error,
		HasClient:    st.HasSession,
	}
	if st.PairingPayload != "" {
		qr, err := messaging.QRDataURL(st.PairingPayload)
		if err != nil {
			h.log.Error("messaging.qr.encode.fail", "err", err)
		} else {
			resp.QRCode = qr
		}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	res, err := h.session.Init(r.Context())
	h.writeInit(w, res, err)
}

func (h *Handler) writeInit(w http.ResponseWriter, res messaging.InitResult, err error) {
	switch {
	case errors.Is(err, messaging.ErrRestartRequired):
		httpx.WriteError(w, http.StatusConflict, "restart_required", err.Error())
	case errors.Is(err, messaging.ErrClosed):
		httpx.WriteError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	case err != nil:
		h.log.Error("messaging.init.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
	case res == messaging.InitAlreadyReady:
		httpx.WriteError(w, http.StatusConflict, "already_ready", "session is already ready")
	case res == messaging.InitInProgress:
		httpx.WriteError(w, http.StatusConflict, "in_progress", "initialization already in progress")
	default:
		httpx.WriteJSON(w, http.StatusOK, messageResponse{Message: "initialization started; poll /status for the pairing code"})
	}
}

type sendRequest struct {
	To      string `json:"to" validate:"required,max=32"`
	Message string `json:"message" validate:"required,max=4096"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	var req sendRequest
	if err := httpx.DecodeValid(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	h.writeResult(w, h.sender.SendText(r.Context(), req.To, req.Message))
}

type invitationRequest struct {
	InvitationID string `json:"invitationId" validate:"required,max=128"`
}

func (h *Handler) handleInvitation(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	var req invitationRequest
	if err := httpx.DecodeValid(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := h.invitations.Send(r.Context(), strings.TrimSpace(req.InvitationID))
	if err != nil {
		switch {
		case errors.Is(err, invite.ErrNotFound):
			httpx.WriteError(w, http.StatusNotFound, "not_found", "invitation not found")
			return
		case errors.Is(err, invite.ErrInvalidInput):
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid invitationId")
			return
		}
		h.log.Error("messaging.invitation.fail", "invitation_id", req.InvitationID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "could not load invitation")
		return
	}
	h.writeResult(w, res)
}

func (h *Handler) writeResult(w http.ResponseWriter, res messaging.Result) {
	if res.Success {
		httpx.WriteJSON(w, http.StatusOK, res)
		return
	}
	status := http.StatusBadGateway
	switch res.Details {
	case messaging.DetailSessionNotReady:
		status = http.StatusServiceUnavailable
	case messaging.DetailInvalidPhone, messaging.DetailInvalidInput:
		status = http.StatusBadRequest
	}
	httpx.WriteJSON(w, status, res)
}

func (h *Handler) handleRestart(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	if _, err := h.session.Restart(r.Context()); err != nil {
		if errors.Is(err, messaging.ErrClosed) {
			httpx.WriteError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
			return
		}
		h.log.Error("messaging.restart.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
