package api

import (
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/epiring/epiring/internal/ring"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Outbound frames queued per stream before drops kick in
	sendBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: Configure in production
	},
}

// lookupQuery is one interactive request on the stream: a raw key to hash,
// or a ring id in hex.
type lookupQuery struct {
	Key string `json:"key,omitempty"`
	ID  string `json:"id,omitempty"`
}

type lookupError struct {
	Error string `json:"error"`
}

// streamHandler serves interactive lookups over one websocket: the client
// sends queries, each answer arrives as a lookupResult on the same link.
// Useful for watching a node resolve keys without curl round-trips.
//
// The handler goroutine only reads. Every outbound frame, pings included,
// goes through the connection's single writePump goroutine; gorilla conns
// support one concurrent writer and no more.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade lookup stream")
		return
	}

	send := make(chan []byte, sendBufferSize)
	defer close(send)
	go s.writePump(conn, send, pingPeriod)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("Lookup stream opened")

	for {
		var q lookupQuery
		if err := conn.ReadJSON(&q); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("Lookup stream read error")
			}
			return
		}

		target, err := s.queryTarget(&q)
		if err != nil {
			s.queueFrame(send, lookupError{Error: err.Error()})
			continue
		}

		result, err := s.coordinator.Lookup(r.Context(), target)
		if err != nil {
			s.queueFrame(send, lookupError{Error: err.Error()})
			continue
		}

		s.queueFrame(send, lookupResultJSON(target, result))
	}
}

// queryTarget resolves a stream query to a ring key.
func (s *Server) queryTarget(q *lookupQuery) (*big.Int, error) {
	switch {
	case q.Key != "":
		return ring.HashString(q.Key), nil
	case q.ID != "":
		id, ok := new(big.Int).SetString(q.ID, 16)
		if !ok || !ring.Valid(id) {
			return nil, errMalformedID
		}
		return id, nil
	default:
		return nil, errMissingTarget
	}
}

// queueFrame marshals one frame for the writer goroutine. A client too slow
// to drain its buffer loses frames rather than stalling the lookup loop.
func (s *Server) queueFrame(send chan<- []byte, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal lookup stream frame")
		return
	}

	select {
	case send <- data:
	default:
		s.logger.Debug().Msg("Lookup stream client too slow, dropping frame")
	}
}

// writePump is the connection's only writer: it drains queued frames and
// keeps the stream alive with pings until the send channel closes or a
// write fails. It owns the connection's lifetime.
func (s *Server) writePump(conn *websocket.Conn, send <-chan []byte, pingEvery time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The handler is done with the stream
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
