// Package notifyapi exposes the RSVP fan-out and in-app notification feed over HTTP.
package notifyapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"dasma/cmd/internal/httpx"
	"dasma/cmd/internal/notify"
)

// Handler wires notify HTTP endpoints.
type Handler struct {
	log        *slog.Logger
	dispatcher *notify.Dispatcher
	store      notify.Store
	vapidKey   string
}

// NewHandler constructs a Handler. vapidPublicKey may be empty when push is disabled.
func NewHandler(log *slog.Logger, d *notify.Dispatcher, store notify.Store, vapidPublicKey string) (*Handler, error) {
	if d == nil || store == nil {
		return nil, errors.New("notifyapi: nil dispatcher or store")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:        log,
		dispatcher: d,
		store:      store,
		vapidKey:   strings.TrimSpace(vapidPublicKey),
	}, nil
}

// Register wires routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/notify/rsvp", h.handleRSVP)
	mux.HandleFunc("/notifications", h.handleList)
	mux.HandleFunc("/notifications/seen", h.handleSeen)
	mux.HandleFunc("/push/public-key", h.handlePublicKey)
}

type rsvpRequest struct {
	ProjectID  string   `json:"projectId" validate:"required,max=128"`
	Status     string   `json:"status" validate:"required,oneof=attending not_attending maybe pending"`
	GuestNames []string `json:"guestNames" validate:"max=100,dive,max=200"`
	GuestCount int      `json:"guestCount" validate:"gte=0,lte=1000"`
}

type reportResponse struct {
	notify.Report
	Error string `json:"error,omitempty"`
}

func (h *Handler) handleRSVP(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}

	var req rsvpRequest
	if err := httpx.DecodeValid(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	status, _ := notify.ParseStatus(req.Status)
	ev := notify.RSVPEvent{
		ProjectID:  strings.TrimSpace(req.ProjectID),
		Status:     status,
		GuestNames: req.GuestNames,
		GuestCount: req.GuestCount,
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		rep := h.dispatcher.Notify(r.Context(), ev)
		resp := reportResponse{Report: rep}
		if rep.Err != nil {
			resp.Error = rep.Err.Error()
		}
		httpx.WriteJSON(w, http.StatusOK, resp)
		return
	}

	if !h.dispatcher.Go(ev) {
		httpx.WriteError(w, http.StatusServiceUnavailable, "shutting_down", "server is shutting down")
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()

	in := notify.ListInput{RecipientID: strings.TrimSpace(q.Get("recipientId"))}
	if in.RecipientID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "recipientId is required")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		in.Limit = n
	}
	in.UnseenOnly, _ = strconv.ParseBool(q.Get("unseen"))

	recs, err := h.store.ListByRecipient(r.Context(), in)
	if err != nil {
		h.log.Error("notify.list.fail", "recipient_id", in.RecipientID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "could not list notifications")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"notifications": recs})
}

type seenRequest struct {
	RecipientID string   `json:"recipientId" validate:"required,max=128"`
	IDs         []string `json:"ids" validate:"required,min=1,max=500,dive,required,max=64"`
}

func (h *Handler) handleSeen(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}

	var req seenRequest
	if err := httpx.DecodeValid(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	n, err := h.store.MarkSeen(r.Context(), strings.TrimSpace(req.RecipientID), req.IDs)
	if err != nil {
		if errors.Is(err, notify.ErrInvalidInput) {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		h.log.Error("notify.seen.fail", "recipient_id", req.RecipientID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "could not update notifications")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (h *Handler) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodGet) {
		return
	}
	if h.vapidKey == "" {
		httpx.WriteError(w, http.StatusNotFound, "push_disabled", "web push is not configured")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"publicKey": h.vapidKey})
}
