package collab

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"formloom/api/internal/crdt"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub manages the websocket sessions editing forms, one room per form.
type Hub struct {
	engine *Engine

	mu    sync.RWMutex
	rooms map[string]map[*wsSession]bool
}

func NewHub(engine *Engine) *Hub {
	return &Hub{
		engine: engine,
		rooms:  make(map[string]map[*wsSession]bool),
	}
}

type wsSession struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	bound Connection
	doc   *crdt.Doc
}

// HandleConnection authenticates the request and upgrades it to a
// collaboration session on the form. Authentication failures reject the
// request before the upgrade.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request, formID string) {
	bound, doc, err := h.engine.Connect(r.Context(), formID, ConnectParams{
		Query:  r.URL.Query(),
		Header: r.Header,
	})
	if err != nil {
		http.Error(w, err.Error(), rejectStatus(err))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("collab: upgrade connection for %s: %v", formID, err)
		return
	}

	sess := &wsSession{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		bound: bound,
		doc:   doc,
	}

	h.mu.Lock()
	if h.rooms[formID] == nil {
		h.rooms[formID] = make(map[*wsSession]bool)
	}
	h.rooms[formID][sess] = true
	peers := len(h.rooms[formID])
	h.mu.Unlock()

	log.Printf("collab: %s joined form %s as %s (%d connected)", bound.UserID, formID, bound.Permission, peers)

	// Initial sync: the full current state, which the client merges.
	if state, err := doc.EncodeState(); err == nil {
		sess.send <- state
	} else {
		log.Printf("collab: encode initial state for %s: %v", formID, err)
	}

	go sess.writePump()
	go sess.readPump()
}

func rejectStatus(err error) int {
	switch {
	case errors.Is(err, ErrFormIDRequired):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAccessDenied):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *Hub) remove(sess *wsSession) {
	formID := sess.bound.FormID

	h.mu.Lock()
	room, ok := h.rooms[formID]
	if ok && room[sess] {
		delete(room, sess)
		close(sess.send)
		if len(room) == 0 {
			delete(h.rooms, formID)
		}
	}
	empty := ok && len(room) == 0
	h.mu.Unlock()

	if empty {
		h.engine.ReleaseForm(formID)
	}
}

// broadcast queues a message to every session in the form's room except the
// sender. A session with a full buffer is dropped as dead.
func (h *Hub) broadcast(formID string, message []byte, sender *wsSession) {
	h.mu.RLock()
	var stalled []*wsSession
	for sess := range h.rooms[formID] {
		if sess == sender {
			continue
		}
		select {
		case sess.send <- message:
		default:
			stalled = append(stalled, sess)
		}
	}
	h.mu.RUnlock()

	for _, sess := range stalled {
		log.Printf("collab: session buffer full on form %s, dropping connection", formID)
		h.remove(sess)
		sess.conn.Close()
	}
}

// Shutdown closes every session. Pending projections flush as rooms drain.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	var all []*wsSession
	for _, room := range h.rooms {
		for sess := range room {
			all = append(all, sess)
		}
	}
	h.mu.Unlock()

	for _, sess := range all {
		h.remove(sess)
		sess.conn.Close()
	}
}

func (s *wsSession) readPump() {
	defer func() {
		s.hub.remove(s)
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("collab: read on form %s: %v", s.bound.FormID, err)
			}
			return
		}

		changed, err := s.hub.engine.ApplyClientUpdate(s.bound.FormID, s.doc, message, s.bound)
		if err != nil {
			if errors.Is(err, ErrWriteDenied) {
				log.Printf("collab: dropped read-only update from %s on form %s", s.bound.UserID, s.bound.FormID)
			} else {
				log.Printf("collab: update from %s on form %s: %v", s.bound.UserID, s.bound.FormID, err)
			}
			continue
		}
		if changed {
			s.hub.broadcast(s.bound.FormID, message, s)
		}
	}
}

func (s *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
