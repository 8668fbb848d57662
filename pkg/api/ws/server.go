// Package ws implements the read-only debug WebSocket feed (§4.15):
// GET /ws/events pushes one JSON frame per router event (pose, command,
// lifecycle), throttled to the same synchronous delivery the application
// callbacks see. No inbound message type is accepted from this socket.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Config holds WebSocket server configuration.
type Config struct {
	Address         string        `yaml:"address" json:"address"`
	Path            string        `yaml:"path" json:"path"`
	PingInterval    time.Duration `yaml:"ping_interval" json:"ping_interval"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ReadBufferSize  int           `yaml:"read_buffer_size" json:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" json:"write_buffer_size"`
	AllowedOrigins  []string      `yaml:"allowed_origins" json:"allowed_origins"`
}

// DefaultConfig returns default WebSocket server configuration.
func DefaultConfig() Config {
	return Config{
		Address:         ":8081",
		Path:            "/ws/events",
		PingInterval:    30 * time.Second,
		WriteTimeout:    10 * time.Second,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		AllowedOrigins:  []string{"*"},
	}
}

// EventType labels the kind of event pushed over the feed.
type EventType string

const (
	EventPose       EventType = "pose"
	EventCommand    EventType = "command"
	EventLifecycle  EventType = "lifecycle"
)

// Event is one frame of the debug feed.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Server is the read-only debug WebSocket server.
type Server struct {
	mu       sync.RWMutex
	cfg      Config
	upgrader websocket.Upgrader
	clients  map[*client]bool
	srv      *http.Server
	running  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewServer creates a debug feed server.
func NewServer(cfg Config) *Server {
	if cfg.Path == "" {
		cfg = DefaultConfig()
	}
	return &Server{
		cfg:     cfg,
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				if len(cfg.AllowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// Start begins serving the debug feed.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)

	addr := s.cfg.Address
	if addr == "" {
		addr = ":8081"
	}
	s.srv = &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("debug ws server error: %v\n", err)
		}
	}()
	s.running = true
	return nil
}

// Stop closes all client connections and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	for c := range s.clients {
		c.conn.Close()
	}
	s.running = false
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 256)}

	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()

	go s.writePump(c)
	go s.readPump(c)
}

// readPump only drains and discards frames — the feed is read-only, it
// accepts no inbound message type (§4.15) — so this exists purely to
// detect client disconnects via ReadMessage's error return.
func (s *Server) readPump(c *client) {
	defer func() {
		s.removeClient(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// Broadcast pushes evt to every connected client; a client whose send
// buffer is full is dropped rather than allowed to block the broadcaster.
func (s *Server) Broadcast(evt Event) {
	msg, err := json.Marshal(evt)
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			go s.removeClient(c)
		}
	}
}
