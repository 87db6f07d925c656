package integration

import (
	"context"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epiring/epiring/internal/overlay"
	"github.com/epiring/epiring/internal/transport"
	"github.com/epiring/epiring/pkg"
)

// testCluster is a set of in-process nodes talking over real websocket
// links on loopback.
type testCluster struct {
	handles []overlay.NodeHandle
	nodes   []*overlay.Node
	servers []*transport.Server
	clients []*transport.Client
	coords  []*overlay.Coordinator
	logger  *pkg.Logger
}

// freePort grabs an ephemeral port and releases it for the node to bind.
func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// newTestCluster builds a fully wired ring from the given keys, ascending:
// every node serves its view over a real transport and knows every peer.
func newTestCluster(t *testing.T, keys ...int64) *testCluster {
	t.Helper()

	logger, err := pkg.NewLogger(&pkg.LogConfig{Level: "disabled"})
	require.NoError(t, err)

	tc := &testCluster{logger: logger}

	for _, key := range keys {
		handle := overlay.NewNodeHandle(big.NewInt(key), "127.0.0.1", freePort(t))
		node := overlay.NewNode(handle, 64, logger)
		client := transport.NewClient(handle, time.Second, logger)
		server := transport.NewServer(handle.Address(), node, logger)
		require.NoError(t, server.Start())

		coord := overlay.NewCoordinator(node, client, client, overlay.LookupConfig{
			RedundantNodes: 2,
			PerHopTimeout:  500 * time.Millisecond,
		}, logger)

		tc.handles = append(tc.handles, handle)
		tc.nodes = append(tc.nodes, node)
		tc.servers = append(tc.servers, server)
		tc.clients = append(tc.clients, client)
		tc.coords = append(tc.coords, coord)
	}

	for i, node := range tc.nodes {
		pred := tc.handles[(i-1+len(keys))%len(keys)]
		succ := tc.handles[(i+1)%len(keys)]
		node.SetPredecessor(pred)
		node.SetSuccessors([]overlay.NodeHandle{succ})

		for j, peer := range tc.handles {
			if j != i {
				node.Learn(peer)
			}
		}
	}

	t.Cleanup(func() { tc.shutdown(t) })
	return tc
}

// stopNode takes one node off the network without telling its neighbors.
func (tc *testCluster) stopNode(t *testing.T, i int) {
	t.Helper()
	require.NoError(t, tc.servers[i].Stop())
	tc.servers[i] = nil
}

func (tc *testCluster) shutdown(t *testing.T) {
	t.Helper()

	for _, client := range tc.clients {
		if err := client.Close(); err != nil {
			t.Logf("Error closing client: %v", err)
		}
	}
	for _, server := range tc.servers {
		if server == nil {
			continue
		}
		if err := server.Stop(); err != nil {
			t.Logf("Error stopping server: %v", err)
		}
	}
}

func TestLookupAcrossCluster(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tc := newTestCluster(t, 100, 200, 300, 400, 500)

	tests := []struct {
		name      string
		target    int64
		wantOwner int64
	}{
		{name: "between two nodes", target: 260, wantOwner: 300},
		{name: "exactly on a node", target: 400, wantOwner: 400},
		{name: "wraps past the highest key", target: 700, wantOwner: 100},
		{name: "below the lowest key", target: 50, wantOwner: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Every node must resolve the same owner.
			for i, coord := range tc.coords {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				result, err := coord.Lookup(ctx, big.NewInt(tt.target))
				cancel()

				require.NoErrorf(t, err, "lookup from node %d", i)
				require.Truef(t, result.Success, "lookup from node %d", i)
				assert.Equalf(t, tt.wantOwner, result.Owner().Key.Int64(), "lookup from node %d", i)
			}
		})
	}
}

func TestDeadOwnerRecovery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tc := newTestCluster(t, 100, 200, 300, 400, 500)

	// Take the owner of 260 down. Its neighbors keep their stale pointers,
	// so the lookup has to detect the dead span instead of walking into it.
	tc.stopNode(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := tc.coords[0].Lookup(ctx, big.NewInt(260))
	require.NoError(t, err)

	require.True(t, result.Success)
	assert.Equal(t, int64(400), result.Owner().Key.Int64())

	// The repair hint travels to both span boundaries: the predecessor
	// drops its dead successor, the successor clears its predecessor.
	dead := tc.handles[2]
	assert.Eventually(t, func() bool {
		succ := tc.nodes[1].Snapshot().Successor
		return succ.IsUnspecified() || !succ.Equals(dead)
	}, 3*time.Second, 50*time.Millisecond, "predecessor boundary should drop the dead successor")

	assert.Eventually(t, func() bool {
		pred := tc.nodes[3].Snapshot().Predecessor
		return pred.IsUnspecified() || !pred.Equals(dead)
	}, 3*time.Second, 50*time.Millisecond, "successor boundary should clear its stale predecessor")
}

func TestLookupSurvivesRestartedLink(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tc := newTestCluster(t, 100, 200, 300)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := tc.coords[0].Lookup(ctx, big.NewInt(250))
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, int64(300), result.Owner().Key.Int64())

	// A second lookup reuses the pooled links.
	result, err = tc.coords[0].Lookup(ctx, big.NewInt(150))
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, int64(200), result.Owner().Key.Int64())
}
