package rest

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/baechuer/tablebook/internal/calendar"
	"github.com/baechuer/tablebook/internal/domain"
	"github.com/baechuer/tablebook/internal/notify"
	"github.com/baechuer/tablebook/internal/pkg/logger"
	"github.com/baechuer/tablebook/internal/service"
	"github.com/baechuer/tablebook/internal/transport/rest/response"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const CalendarName = "Tablebook Events"

type Handler struct {
	svc      *service.BookingService
	hub      *notify.Hub
	upgrader websocket.Upgrader
}

// NewHandler wires the HTTP handlers. origins restricts websocket upgrades
// the same way CORS restricts XHR; "*" allows any.
func NewHandler(svc *service.BookingService, hub *notify.Hub, origins []string) *Handler {
	if svc == nil {
		panic("rest.NewHandler: nil service")
	}
	if hub == nil {
		panic("rest.NewHandler: nil hub")
	}
	return &Handler{
		svc: svc,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(origins),
		},
	}
}

type createEventRequest struct {
	Title           string `json:"title" validate:"nonblank,max=120"`
	Description     string `json:"description" validate:"max=2000"`
	Category        string `json:"category" validate:"nonblank"`
	Date            string `json:"date" validate:"required,schedule_date"`
	Time            string `json:"time" validate:"omitempty,clock"`
	Access          string `json:"access" validate:"omitempty,oneof=public private"`
	MaxParticipants int    `json:"max_participants" validate:"required,min=1"`
}

type updateEventRequest struct {
	Title       *string `json:"title" validate:"omitempty,nonblank,max=120"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Category    *string `json:"category" validate:"omitempty,nonblank"`
}

type joinRequest struct {
	InviteCode string `json:"invite_code"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response.Data(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context())
	if err != nil {
		handleErr(w, r, err)
		return
	}
	includePast := strings.EqualFold(r.URL.Query().Get("past"), "true")
	response.Data(w, http.StatusOK, toBoard(events, h.svc.Now(), includePast))
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := parseEventID(w, r)
	if !ok {
		return
	}
	e, err := h.svc.GetEvent(r.Context(), eventID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	auth, _ := GetAuth(r.Context())
	response.Data(w, http.StatusOK, toView(e, h.svc.Now(), auth.UserID))
}

func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context())
	if err != nil {
		handleErr(w, r, err)
		return
	}
	now := h.svc.Now()
	err = response.Attachment(w, "text/calendar; charset=utf-8", "events.ics", func(out io.Writer) error {
		return calendar.Write(out, CalendarName, events, now)
	})
	if err != nil {
		logger.WithCtx(r.Context()).Warn().Err(err).Msg("calendar feed write failed")
	}
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var req createEventRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if err := validateRequest(req); err != nil {
		handleErr(w, r, err)
		return
	}

	e, err := h.svc.CreateEvent(r.Context(), auth.Actor(), service.Draft{
		Title:           req.Title,
		Description:     req.Description,
		Category:        req.Category,
		Date:            req.Date,
		Time:            req.Time,
		Access:          domain.Access(strings.ToLower(req.Access)),
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusCreated, toView(e, h.svc.Now(), auth.UserID))
}

func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}
	eventID, ok := parseEventID(w, r)
	if !ok {
		return
	}

	var req updateEventRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if err := validateRequest(req); err != nil {
		handleErr(w, r, err)
		return
	}

	e, err := h.svc.UpdateDetails(r.Context(), eventID, auth.Actor(), domain.EventPatch{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toView(e, h.svc.Now(), auth.UserID))
}

// EndEvent is the host's "End Event" action: the event is removed.
func (h *Handler) EndEvent(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}
	eventID, ok := parseEventID(w, r)
	if !ok {
		return
	}
	if err := h.svc.EndEvent(r.Context(), eventID, auth.Actor()); err != nil {
		handleErr(w, r, err)
		return
	}
	response.NoContent(w)
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}
	eventID, ok := parseEventID(w, r)
	if !ok {
		return
	}

	// public events may be joined with an empty body
	var req joinRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	e, err := h.svc.Join(r.Context(), eventID, auth.UserID, req.InviteCode)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toView(e, h.svc.Now(), auth.UserID))
}

func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}
	eventID, ok := parseEventID(w, r)
	if !ok {
		return
	}

	e, err := h.svc.Leave(r.Context(), eventID, auth.UserID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toView(e, h.svc.Now(), auth.UserID))
}

func (h *Handler) MeJoins(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}
	m, err := h.svc.Membership(r.Context(), auth.UserID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, m.Clone())
}

func parseEventID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid eventID", map[string]string{
			"event_id": "must be a valid uuid",
		})
		return uuid.Nil, false
	}
	return id, true
}

// Catalog exposes the store rules the booking form needs.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	response.Data(w, http.StatusOK, h.svc.Catalog())
}
