package rest

import (
	"net/http"
	"time"

	"github.com/baechuer/tablebook/internal/domain"
	"github.com/baechuer/tablebook/internal/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Frame types sent on the stream.
const (
	FrameEvents      = "events"
	FrameMemberships = "memberships"
)

type frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Stream upgrades to a websocket and pushes full snapshots: the board on
// every change, plus the caller's memberships when authenticated. Clients
// only read; anything they send is discarded.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth, authed := GetAuth(ctx)

	// subscribe before the upgrade so store errors still get a JSON response
	events, err := h.hub.SubscribeEvents(ctx)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	defer events.Cancel()

	var members <-chan domain.Membership
	if authed {
		sub, err := h.hub.SubscribeMemberships(ctx, auth.UserID)
		if err != nil {
			handleErr(w, r, err)
			return
		}
		defer sub.Cancel()
		members = sub.C
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		return
	}
	defer conn.Close()

	log := logger.WithCtx(ctx)
	closed := make(chan struct{})
	go readPump(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	send := func(f frame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(f); err != nil {
			log.Debug().Err(err).Str("frame", f.Type).Msg("stream write failed")
			return false
		}
		return true
	}

	for {
		select {
		case <-closed:
			return
		case snap, ok := <-events.C:
			if !ok {
				return
			}
			if !send(frame{Type: FrameEvents, Data: toBoard(snap, h.svc.Now(), false)}) {
				return
			}
		case m, ok := <-members:
			if !ok {
				return
			}
			if !send(frame{Type: FrameMemberships, Data: m}) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump keeps control frames flowing and reports when the peer goes away.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := map[string]bool{}
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return allowAll || origin == "" || allowed[origin]
	}
}
