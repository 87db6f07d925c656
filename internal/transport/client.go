package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/epiring/epiring/internal/overlay"
	"github.com/epiring/epiring/pkg"
)

// Compile-time checks that Client serves both collaborator roles.
var (
	_ overlay.Transport         = (*Client)(nil)
	_ overlay.StaleSpanNotifier = (*Client)(nil)
)

// Client manages websocket links to remote peers. Links are pooled per
// address and multiplexed: every request carries a correlation id and the
// per-link reader routes replies back to the waiting caller, so concurrent
// lookups share one link per peer.
type Client struct {
	local       overlay.NodeHandle
	logger      *pkg.Logger
	dialTimeout time.Duration

	nextID atomic.Uint64

	mu     sync.RWMutex
	links  map[string]*peerLink
	closed bool
}

// NewClient creates a transport client. The local handle is attached to
// outbound requests so queried peers can learn about this node.
func NewClient(local overlay.NodeHandle, dialTimeout time.Duration, logger *pkg.Logger) *Client {
	return &Client{
		local:       local,
		logger:      logger.WithFields(pkg.Fields{"component": "transport_client"}),
		dialTimeout: dialTimeout,
		links:       make(map[string]*peerLink),
	}
}

// peerLink is one pooled websocket connection plus its pending-request
// table. Writes are serialized; the reader goroutine owns all reads.
type peerLink struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan *wireMessage
	closed  bool
}

// getLink returns the pooled link to the given address, dialing if needed.
func (c *Client) getLink(address string) (*peerLink, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, pkg.ErrTransportClosed
	}
	link, exists := c.links[address]
	c.mu.RUnlock()

	if exists {
		return link, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, pkg.ErrTransportClosed
	}
	// Double-check after acquiring the write lock
	if link, exists = c.links[address]; exists {
		return link, nil
	}

	u := url.URL{Scheme: "ws", Host: address, Path: "/ws"}
	dialer := websocket.Dialer{HandshakeTimeout: c.dialTimeout}

	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}

	link = &peerLink{
		conn:    conn,
		pending: make(map[uint64]chan *wireMessage),
	}
	c.links[address] = link

	go c.readLoop(address, link)

	c.logger.Debug().Str("address", address).Msg("Opened peer link")
	return link, nil
}

// readLoop routes inbound replies to their waiting callers until the link
// dies, then fails everything still pending and drops the link.
func (c *Client) readLoop(address string, link *peerLink) {
	for {
		var m wireMessage
		if err := link.conn.ReadJSON(&m); err != nil {
			c.dropLink(address, link)
			return
		}

		if m.Type != msgFindNodeReply {
			continue
		}

		link.mu.Lock()
		ch, ok := link.pending[m.ID]
		if ok {
			delete(link.pending, m.ID)
		}
		link.mu.Unlock()

		if ok {
			ch <- &m
		}
	}
}

// dropLink closes a failed link and unblocks its pending callers.
func (c *Client) dropLink(address string, link *peerLink) {
	c.mu.Lock()
	if c.links[address] == link {
		delete(c.links, address)
	}
	c.mu.Unlock()

	link.mu.Lock()
	link.closed = true
	for id, ch := range link.pending {
		close(ch)
		delete(link.pending, id)
	}
	link.mu.Unlock()

	link.conn.Close()
	c.logger.Debug().Str("address", address).Msg("Peer link dropped")
}

// send writes one message on the link, serialized against other writers.
func (link *peerLink) send(m *wireMessage) error {
	link.writeMu.Lock()
	defer link.writeMu.Unlock()
	return link.conn.WriteJSON(m)
}

// FindNode queries dest for its view of the target's neighborhood. The
// context deadline is the per-hop timeout; expiry surfaces as an error and
// the caller decides what it means for the peer.
func (c *Client) FindNode(ctx context.Context, dest overlay.NodeHandle, req *overlay.FindNodeRequest) (*overlay.FindNodeResponse, error) {
	link, err := c.getLink(dest.Address())
	if err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	ch := make(chan *wireMessage, 1)

	link.mu.Lock()
	if link.closed {
		link.mu.Unlock()
		return nil, pkg.ErrTransportClosed
	}
	link.pending[id] = ch
	link.mu.Unlock()

	defer func() {
		link.mu.Lock()
		delete(link.pending, id)
		link.mu.Unlock()
	}()

	if err := link.send(findNodeMessage(id, c.local, req)); err != nil {
		return nil, fmt.Errorf("FindNode send to %s failed: %w", dest.Address(), err)
	}

	select {
	case m, ok := <-ch:
		if !ok {
			return nil, pkg.ErrTransportClosed
		}
		return findNodeResponseFromWire(m), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("FindNode to %s: %w", dest.Address(), pkg.ErrRequestTimeout)
	}
}

// NotifyStaleSpan sends a repair hint to both boundary nodes of a dead
// span. It is fire-and-forget: delivery failures are logged, never
// surfaced, and nothing waits for an answer.
func (c *Client) NotifyStaleSpan(pred, succ overlay.NodeHandle, dead []overlay.NodeHandle) {
	m := staleSpanMessage(pred, succ, dead)

	for _, boundary := range []overlay.NodeHandle{pred, succ} {
		if boundary.IsUnspecified() {
			continue
		}

		link, err := c.getLink(boundary.Address())
		if err == nil {
			err = link.send(m)
		}
		if err != nil {
			c.logger.Debug().
				Str("address", boundary.Address()).
				Err(err).
				Msg("Failed to deliver stale-span notice")
		}
	}
}

// Close closes all peer links.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	links := c.links
	c.links = make(map[string]*peerLink)
	c.mu.Unlock()

	c.logger.Info().
		Int("links", len(links)).
		Msg("Closing all peer links")

	for address, link := range links {
		if err := link.conn.Close(); err != nil {
			c.logger.Error().
				Err(err).
				Str("address", address).
				Msg("Failed to close peer link")
		}
	}

	return nil
}
