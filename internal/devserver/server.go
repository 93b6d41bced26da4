// Package devserver is an in-memory fleet backend: the notifications REST
// API plus a websocket push endpoint. It backs `fleetdash devserver` and
// end-to-end tests.
package devserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nhle/fleetdash/internal/feed"
	"github.com/nhle/fleetdash/internal/logger"
	"github.com/nhle/fleetdash/internal/model"
)

const clientBuffer = 64

type stored struct {
	n   model.Notification
	seq int
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server holds the notification set and the connected push clients.
type Server struct {
	token    string
	log      *logger.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu    sync.RWMutex
	notes map[string]*stored
	seq   int

	clientsMu sync.Mutex
	clients   map[*client]struct{}
}

// New creates an empty server. When token is non-empty every request must
// carry it as a Bearer token.
func New(token string, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		token:   token,
		log:     log.WithComponent("devserver"),
		now:     time.Now,
		notes:   make(map[string]*stored),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/ws", s.handleWebSocket)
		r.Route("/api/notifications", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Post("/", s.handleCreate)
			r.Delete("/", s.handleClear)
			r.Patch("/read-all", s.handleReadAll)
			r.Patch("/{id}", s.handleUpdate)
			r.Patch("/{id}/read", s.handleRead)
			r.Delete("/{id}", s.handleDelete)
		})
	})
	return r
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Seed inserts notifications without broadcasting.
func (s *Server) Seed(ns ...model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range ns {
		s.putLocked(n)
	}
}

// Create stores a notification and pushes a created event. Missing ids
// and timestamps are filled in.
func (s *Server) Create(n model.Notification) model.Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = s.now().UTC()
	}
	n.Type = model.ParseNotificationType(string(n.Type))

	s.mu.Lock()
	s.putLocked(n)
	s.mu.Unlock()

	s.Publish(feed.EventCreated, n)
	return n
}

// List returns every notification in insertion order.
func (s *Server) List() []model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked()
}

// Publish pushes an event to every connected client. Clients that can't
// keep up are disconnected.
func (s *Server) Publish(kind feed.EventKind, payload any) {
	frame, err := feed.EncodeEvent(kind, payload)
	if err != nil {
		s.log.Error("encoding event", slog.String("error", err.Error()))
		return
	}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- frame:
		default:
			s.log.Warn("dropping slow push client")
			delete(s.clients, c)
			close(c.send)
		}
	}
}

// Clients returns the number of connected push clients.
func (s *Server) Clients() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

// DisconnectAll drops every push client, as a server restart would.
func (s *Server) DisconnectAll() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

func (s *Server) putLocked(n model.Notification) {
	if existing, ok := s.notes[n.ID]; ok {
		existing.n = n
		return
	}
	s.seq++
	s.notes[n.ID] = &stored{n: n, seq: s.seq}
}

func (s *Server) listLocked() []model.Notification {
	items := make([]*stored, 0, len(s.notes))
	for _, st := range s.notes {
		items = append(items, st)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
	out := make([]model.Notification, len(items))
	for i, st := range items {
		out[i] = st.n
	}
	return out
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"notifications": s.List()})
}

type createRequest struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	n := s.Create(model.Notification{
		ID:        req.ID,
		Type:      model.NotificationType(req.Type),
		Title:     req.Title,
		Message:   req.Message,
		Timestamp: req.Timestamp,
	})
	writeJSON(w, http.StatusCreated, n)
}

type updateRequest struct {
	Type    *string `json:"type"`
	Title   *string `json:"title"`
	Message *string `json:"message"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.mu.Lock()
	st, ok := s.notes[id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	if req.Type != nil {
		st.n.Type = model.ParseNotificationType(*req.Type)
	}
	if req.Title != nil {
		st.n.Title = *req.Title
	}
	if req.Message != nil {
		st.n.Message = *req.Message
	}
	n := st.n
	s.mu.Unlock()

	s.Publish(feed.EventUpdated, n)
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	st, ok := s.notes[id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	st.n.Read = true
	s.mu.Unlock()

	s.Publish(feed.EventUpdated, map[string]any{"id": id, "read": true})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadAll(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	var changed []map[string]any
	for id, st := range s.notes {
		if !st.n.Read {
			st.n.Read = true
			changed = append(changed, map[string]any{"id": id, "read": true})
		}
	}
	s.mu.Unlock()

	if len(changed) > 0 {
		s.Publish(feed.EventUpdated, changed)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	_, ok := s.notes[id]
	delete(s.notes, id)
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	s.Publish(feed.EventDeleted, map[string]string{"id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.notes = make(map[string]*stored)
	s.mu.Unlock()

	s.Publish(feed.EventBulkReplace, []model.Notification{})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
	s.log.Debug("push client connected", slog.String("remote", r.RemoteAddr))

	go s.writePump(c)
	s.readPump(c)
}

// readPump only watches for the client going away.
func (s *Server) readPump(c *client) {
	defer func() {
		s.clientsMu.Lock()
		if _, ok := s.clients[c]; ok {
			delete(s.clients, c)
			close(c.send)
		}
		s.clientsMu.Unlock()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	defer c.conn.Close()
	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
		time.Now().Add(time.Second))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
