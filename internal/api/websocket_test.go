package api

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epiring/epiring/internal/overlay"
	"github.com/epiring/epiring/pkg"
)

// ownerTransport answers every query with a responsibility claim from one
// fixed owner, so stream lookups resolve without a real ring behind them.
type ownerTransport struct {
	owner overlay.NodeHandle
	pred  overlay.NodeHandle
	succ  overlay.NodeHandle
}

func (t ownerTransport) FindNode(ctx context.Context, dest overlay.NodeHandle, req *overlay.FindNodeRequest) (*overlay.FindNodeResponse, error) {
	return &overlay.FindNodeResponse{
		Source:  t.owner,
		Closest: []overlay.NodeHandle{t.owner, t.pred, t.succ},
	}, nil
}

func newStreamServer(t *testing.T) (*Server, overlay.NodeHandle) {
	t.Helper()

	logger, err := pkg.NewLogger(&pkg.LogConfig{Level: "disabled"})
	require.NoError(t, err)

	local := overlay.NewNodeHandle(big.NewInt(100), "127.0.0.1", 4100)
	owner := overlay.NewNodeHandle(big.NewInt(300), "127.0.0.1", 4300)

	node := overlay.NewNode(local, 16, logger)
	node.Learn(owner)

	coord := overlay.NewCoordinator(node, ownerTransport{
		owner: owner,
		pred:  overlay.NewNodeHandle(big.NewInt(200), "127.0.0.1", 4200),
		succ:  overlay.NewNodeHandle(big.NewInt(400), "127.0.0.1", 4400),
	}, nil, overlay.LookupConfig{
		RedundantNodes: 2,
		PerHopTimeout:  100 * time.Millisecond,
	}, logger)

	return NewServer(coord, node, logger), owner
}

func dialStream(t *testing.T, handler http.HandlerFunc) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamServesLookups(t *testing.T) {
	s, owner := newStreamServer(t)
	conn := dialStream(t, s.streamHandler)

	require.NoError(t, conn.WriteJSON(lookupQuery{Key: "user:42"}))

	var result lookupResult
	require.NoError(t, conn.ReadJSON(&result))
	assert.True(t, result.Success)
	require.NotEmpty(t, result.Siblings)
	assert.Equal(t, owner.Address(), result.Siblings[0].Addr)
}

func TestStreamRejectsBadQueries(t *testing.T) {
	s, _ := newStreamServer(t)
	conn := dialStream(t, s.streamHandler)

	tests := []struct {
		name  string
		query lookupQuery
		want  string
	}{
		{name: "malformed id", query: lookupQuery{ID: "zz"}, want: errMalformedID.Error()},
		{name: "empty query", query: lookupQuery{}, want: errMissingTarget.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteJSON(tt.query))

			var e lookupError
			require.NoError(t, conn.ReadJSON(&e))
			assert.Equal(t, tt.want, e.Error)
		})
	}
}

func TestStreamWritesAreSerialized(t *testing.T) {
	s, _ := newStreamServer(t)

	// Run the pump with an aggressive ping period so pings race against
	// queued frames; the pump must serialize everything onto the one
	// connection.
	sends := make(chan chan []byte, 1)
	conn := dialStream(t, func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		send := make(chan []byte, sendBufferSize)
		sends <- send
		s.writePump(c, send, time.Millisecond)
	})
	send := <-sends

	pings := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return nil
	})

	frames := make(chan []byte, 2*sendBufferSize)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- msg
		}
	}()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < sendBufferSize/4; i++ {
				s.queueFrame(send, lookupError{Error: "noise"})
			}
		}()
	}
	wg.Wait()

	// A full burst fits the buffer exactly, so every frame must arrive.
	deadline := time.After(2 * time.Second)
	for received := 0; received < sendBufferSize; received++ {
		select {
		case <-frames:
		case <-deadline:
			t.Fatalf("received %d of %d frames", received, sendBufferSize)
		}
	}

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping arrived")
	}

	close(send)
}
