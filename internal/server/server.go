// ABOUTME: Jam session server: websocket transport plus the event loop
// ABOUTME: All room, library, and stream state is mutated on one goroutine
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/campfire-jams/jams-go/internal/acquire"
	"github.com/campfire-jams/jams-go/internal/discovery"
	"github.com/campfire-jams/jams-go/internal/library"
	"github.com/campfire-jams/jams-go/internal/protocol"
	"github.com/campfire-jams/jams-go/internal/room"
	"github.com/campfire-jams/jams-go/internal/stream"
)

// Config configures a jam session server
type Config struct {
	// Host to bind (default: 0.0.0.0)
	Host string

	// Port to listen on (default: 5000)
	Port int

	// Name of the server for mDNS identification
	Name string

	// DownloadsDir holds audio files and the library index (default: downloads)
	DownloadsDir string

	// LibraryPath is the library index file (default: DownloadsDir/music_data.json)
	LibraryPath string

	// EnableMDNS enables mDNS service advertisement
	EnableMDNS bool
}

// conn is one connected client socket. The sid is assigned at upgrade time
// and identifies the client in every room it joins.
type conn struct {
	sid      string
	sock     *websocket.Conn
	sendChan chan protocol.Message

	closeOnce sync.Once
}

// enqueue hands a message to the writer goroutine. A client that cannot
// drain its channel loses messages rather than stalling the event loop.
func (c *conn) enqueue(msg protocol.Message) {
	select {
	case c.sendChan <- msg:
	default:
		log.Printf("Client %s send buffer full, dropping %s", c.sid, msg.Type)
	}
}

// shutdown closes the send channel exactly once, stopping the writer
func (c *conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.sendChan)
	})
}

// Server is the authoritative session host. Handlers never run concurrently:
// reader goroutines and download workers post closures onto loopCh, and a
// single goroutine executes them in order. That gives per-room FIFO without
// locks on rooms, library, or stream state.
type Server struct {
	config Config

	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	httpServer *http.Server

	// Event-loop-owned state. Touch only from posted closures.
	rooms  *room.Manager
	lib    *library.Library
	engine *stream.Engine
	conns  map[string]*conn

	pipeline *acquire.Pipeline

	advertiser *discovery.Advertiser

	loopCh   chan func()
	stopChan chan struct{}
	stopOnce sync.Once
	baseCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a server, opening the library index and downloads directory
func New(config Config) (*Server, error) {
	if config.Host == "" {
		config.Host = "0.0.0.0"
	}
	if config.Port == 0 {
		config.Port = 5000
	}
	if config.Name == "" {
		config.Name = "Jams Server"
	}
	if config.DownloadsDir == "" {
		config.DownloadsDir = "downloads"
	}
	if config.LibraryPath == "" {
		config.LibraryPath = config.DownloadsDir + "/music_data.json"
	}

	if err := os.MkdirAll(config.DownloadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create downloads directory: %w", err)
	}

	lib, err := library.Open(config.LibraryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open library: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// LAN deployment, all origins accepted
				return true
			},
		},
		rooms:    room.NewManager(rand.NewSource(time.Now().UnixNano())),
		lib:      lib,
		engine:   stream.NewEngine(),
		conns:    make(map[string]*conn),
		pipeline: acquire.NewPipeline(config.DownloadsDir),
		loopCh:   make(chan func(), 256),
		stopChan: make(chan struct{}),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	return s, nil
}

// Start runs the server until Stop is called or the listener fails
func (s *Server) Start() error {
	log.Printf("Server starting: %s", s.config.Name)

	if s.config.EnableMDNS {
		adv, err := discovery.Advertise(s.config.Name, s.config.Port)
		if err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			s.advertiser = adv
		}
	}

	s.mux.HandleFunc("/jams", s.handleWebSocket)

	// Event loop
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop()
	}()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	log.Printf("WebSocket server listening on %s", addr)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-s.stopChan:
		log.Printf("Server shutting down...")
	case err := <-errChan:
		log.Printf("HTTP server error: %v", err)
		s.Stop()
		return err
	}

	if s.advertiser != nil {
		s.advertiser.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	s.wg.Wait()
	log.Printf("Server stopped cleanly")
	return nil
}

// Stop stops the server and cancels in-flight downloads
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		close(s.stopChan)
	})
}

// runLoop executes posted closures one at a time until shutdown
func (s *Server) runLoop() {
	for {
		select {
		case fn := <-s.loopCh:
			fn()
		case <-s.stopChan:
			return
		}
	}
}

// post schedules fn on the event loop. Posts during shutdown are dropped.
func (s *Server) post(fn func()) {
	select {
	case s.loopCh <- fn:
	case <-s.stopChan:
	}
}

// handleWebSocket upgrades a connection and runs its reader until it drops
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &conn{
		sid:      uuid.New().String(),
		sock:     sock,
		sendChan: make(chan protocol.Message, 256),
	}
	log.Printf("Client connected: %s", c.sid)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(c)
	}()

	s.post(func() { s.conns[c.sid] = c })

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error from %s: %v", c.sid, err)
			}
			break
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Bad message from %s: %v", c.sid, err)
			continue
		}

		s.post(func() { s.dispatch(c, msg) })
	}

	s.post(func() { s.handleDisconnect(c) })
}

// clientWriter drains the send channel onto the socket, pinging periodically
func (s *Server) clientWriter(c *conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer c.sock.Close()

	const writeDeadline = 10 * time.Second

	for {
		select {
		case msg, ok := <-c.sendChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			c.sock.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.sock.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				return
			}

		case <-s.stopChan:
			return
		}
	}
}

// Emit helpers. All run on the event loop.

// sendTo unicasts one event to one client
func (s *Server) sendTo(c *conn, msgType string, payload interface{}) {
	log.Printf("DEBUG sendTo %s -> %s", msgType, c.sid)
	c.enqueue(protocol.MustEncode(msgType, payload))
}

// sendToSID unicasts to a client by sid, if still connected
func (s *Server) sendToSID(sid, msgType string, payload interface{}) {
	if c, ok := s.conns[sid]; ok {
		s.sendTo(c, msgType, payload)
	}
}

// broadcast sends one event to every member of a room
func (s *Server) broadcast(r *room.Room, msgType string, payload interface{}) {
	msg := protocol.MustEncode(msgType, payload)
	log.Printf("DEBUG broadcast %s users=%d payload=%s", msgType, len(r.Users), string(msg.Data))
	for _, u := range r.Users {
		if c, ok := s.conns[u.SID]; ok {
			log.Printf("DEBUG broadcast %s -> %s", msgType, c.sid)
			c.enqueue(msg)
		} else {
			log.Printf("DEBUG broadcast %s MISSING conn for %s", msgType, u.SID)
		}
	}
}

// broadcastExcept sends to every room member but the named sid
func (s *Server) broadcastExcept(r *room.Room, exceptSID, msgType string, payload interface{}) {
	msg := protocol.MustEncode(msgType, payload)
	for _, u := range r.Users {
		if u.SID == exceptSID {
			continue
		}
		if c, ok := s.conns[u.SID]; ok {
			c.enqueue(msg)
		}
	}
}

// sendError unicasts a protocol error to one client
func (s *Server) sendError(c *conn, message string) {
	s.sendTo(c, protocol.EventError, protocol.ErrorPayload{Message: message})
}
