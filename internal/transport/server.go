package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/epiring/epiring/internal/overlay"
	"github.com/epiring/epiring/pkg"
)

const (
	// Time allowed to write a message to a peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from a peer
	maxMessageSize = 1 << 16
)

// Handler is the local node logic the server dispatches inbound peer
// messages to.
type Handler interface {
	HandleFindNode(req *overlay.FindNodeRequest) *overlay.FindNodeResponse
	HandleStaleSpan(pred, succ overlay.NodeHandle, dead []overlay.NodeHandle)
	Learn(h overlay.NodeHandle)
}

// Server accepts websocket links from peers and answers their FindNode
// queries from the local node view.
type Server struct {
	addr     string
	handler  Handler
	logger   *pkg.Logger
	upgrader websocket.Upgrader

	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates a peer-facing transport server bound to addr.
func NewServer(addr string, handler Handler, logger *pkg.Logger) *Server {
	return &Server{
		addr:    addr,
		handler: handler,
		logger:  logger.WithFields(pkg.Fields{"component": "transport_server"}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Start begins accepting peer links. It returns once the listener is
// running; serving continues in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handlePeer)

	s.httpServer = &http.Server{
		Addr:        s.addr,
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info().Str("address", s.addr).Msg("Starting transport server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			s.logger.Error().Err(err).Msg("Transport server error")
		}
	}()

	// Give the listener a moment to fail fast on a bad address.
	select {
	case err := <-errCh:
		return fmt.Errorf("transport server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping transport server")

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown transport server: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Info().Msg("Transport server stopped")
	return nil
}

// handlePeer upgrades an inbound peer connection and serves it.
func (s *Server) handlePeer(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade peer connection")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.servePeer(conn)
	}()
}

// servePeer reads messages from one peer link until it closes. Writes are
// serialized per link; the read loop is the only reader.
func (s *Server) servePeer(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)

	var writeMu sync.Mutex

	for {
		var m wireMessage
		if err := conn.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Debug().Err(err).Msg("Peer link read error")
			}
			return
		}

		switch m.Type {
		case msgFindNode:
			s.handleFindNode(conn, &writeMu, &m)

		case msgStaleSpan:
			s.handler.HandleStaleSpan(
				handlePtrFromWire(m.Pred),
				handlePtrFromWire(m.Succ),
				handlesFromWire(m.Dead),
			)

		default:
			s.logger.Debug().Str("type", m.Type).Msg("Ignoring unknown peer message")
		}
	}
}

// handleFindNode answers one query on the link it arrived on.
func (s *Server) handleFindNode(conn *websocket.Conn, writeMu *sync.Mutex, m *wireMessage) {
	// The requester identifies itself so we can learn it.
	if src := handlePtrFromWire(m.Source); !src.IsUnspecified() {
		s.handler.Learn(src)
	}

	req, err := findNodeRequestFromWire(m)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Dropping malformed FindNode request")
		return
	}

	rsp := s.handler.HandleFindNode(req)
	reply := findNodeReplyMessage(m.ID, rsp)

	writeMu.Lock()
	defer writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(reply); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write FindNode reply")
	}
}
