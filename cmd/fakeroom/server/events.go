package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one message on a room's events feed. The first message on every
// connection is a "members" event carrying the full member list; later
// messages carry the single member that changed.
type Event struct {
	Type    string       `json:"type"`
	Member  *MemberInfo  `json:"member,omitempty"`
	Members []MemberInfo `json:"members,omitempty"`
}

const (
	eventMembers = "members"
	eventJoin    = "join"
	eventLeave   = "leave"
	eventUpdate  = "update"
)

const (
	eventBuffer = 32

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleEvents streams membership and presence changes over a websocket.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	room, err := s.rooms.get(r.PathValue("room"))
	if err != nil {
		http.Error(w, "Invalid room", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		log.Printf("Events upgrade failed: %v", err)
		return
	}

	events, snapshot, cancel := room.subscribe()
	go readEvents(conn, cancel)
	writeEvents(conn, events, snapshot)
}

// readEvents discards client messages and answers pings until the
// connection ends, then cancels the subscription.
func readEvents(conn *websocket.Conn, cancel func()) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Events read error: %v", err)
			}
			return
		}
	}
}

func writeEvents(conn *websocket.Conn, events <-chan Event, snapshot []MemberInfo) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	if err := writeEvent(conn, Event{Type: eventMembers, Members: snapshot}); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}
