package overlay

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T, key, pred int64, succs ...int64) *Node {
	t.Helper()

	n := NewNode(handleAt(key), 16, testLogger(t))
	if pred >= 0 {
		n.SetPredecessor(handleAt(pred))
	}
	list := make([]NodeHandle, 0, len(succs))
	for _, s := range succs {
		list = append(list, handleAt(s))
	}
	n.SetSuccessors(list)
	return n
}

func TestNodeResponsible(t *testing.T) {
	n := newTestNode(t, 300, 200, 400)

	assert.True(t, n.Responsible(big.NewInt(250)))
	assert.True(t, n.Responsible(big.NewInt(300)), "own key included")
	assert.False(t, n.Responsible(big.NewInt(200)), "predecessor's key excluded")
	assert.False(t, n.Responsible(big.NewInt(350)))

	// Without a predecessor the node assumes ownership of everything.
	lone := newTestNode(t, 300, -1)
	assert.True(t, lone.Responsible(big.NewInt(999)))
}

func TestHandleFindNodeResponsibleReply(t *testing.T) {
	n := newTestNode(t, 300, 200, 400)

	rsp := n.HandleFindNode(&FindNodeRequest{Target: big.NewInt(250), Fanout: 3})

	require.True(t, rsp.Responsible())
	require.Len(t, rsp.Closest, 3)
	assert.Equal(t, int64(300), rsp.Closest[0].Key.Int64())
	assert.Equal(t, int64(200), rsp.Closest[1].Key.Int64())
	assert.Equal(t, int64(400), rsp.Closest[2].Key.Int64())
}

func TestHandleFindNodeReferral(t *testing.T) {
	n := newTestNode(t, 300, 200, 400)
	for _, k := range []int64{500, 600, 700, 800} {
		n.Learn(handleAt(k))
	}

	rsp := n.HandleFindNode(&FindNodeRequest{Target: big.NewInt(620), Fanout: 2})

	// Referrals point clockwise: the first cached node at or after the
	// target leads, not the numerically nearest one behind it.
	assert.False(t, rsp.Responsible())
	require.Len(t, rsp.Closest, 2)
	assert.Equal(t, int64(700), rsp.Closest[0].Key.Int64())
	assert.Equal(t, int64(800), rsp.Closest[1].Key.Int64())
	for _, h := range rsp.Closest {
		assert.False(t, h.Equals(n.Handle()), "a referral never lists the responder")
	}
}

func TestHandleFindNodeExclusiveVariant(t *testing.T) {
	n := newTestNode(t, 300, 200, 400)
	for _, k := range []int64{500, 600, 700} {
		n.Learn(handleAt(k))
	}

	rsp := n.HandleFindNode(&FindNodeRequest{
		Target:  big.NewInt(620),
		Fanout:  2,
		Variant: VariantExclusiveIterative,
		Exclude: []NodeHandle{handleAt(600)},
	})

	require.Len(t, rsp.Closest, 2)
	for _, h := range rsp.Closest {
		assert.NotEqual(t, int64(600), h.Key.Int64())
	}
}

func TestHandleStaleSpanEvictsDeadNodes(t *testing.T) {
	n := newTestNode(t, 300, 200, 400)
	n.Learn(handleAt(500))
	n.Learn(handleAt(600))
	require.Equal(t, 2, n.Cache().Len())

	n.HandleStaleSpan(handleAt(450), handleAt(650), []NodeHandle{handleAt(500), handleAt(600)})

	assert.Zero(t, n.Cache().Len())
}

func TestHandleStaleSpanClearsOwnPointers(t *testing.T) {
	// This node is the span's successor boundary and its predecessor
	// pointer walked into the dead span: clear it for stabilization.
	n := newTestNode(t, 300, 200, 400)
	n.HandleStaleSpan(handleAt(100), n.Handle(), []NodeHandle{handleAt(200)})
	assert.True(t, n.Snapshot().Predecessor.IsUnspecified())

	// This node is the predecessor boundary: drop the dead successor.
	m := newTestNode(t, 300, 200, 400, 500)
	m.HandleStaleSpan(m.Handle(), handleAt(500), []NodeHandle{handleAt(400)})
	assert.Equal(t, int64(500), m.Snapshot().Successor.Key.Int64())
}

func TestSeedCandidatesIncludeNeighbors(t *testing.T) {
	n := newTestNode(t, 300, 200, 400)
	n.Learn(handleAt(600))

	seeds := n.SeedCandidates(big.NewInt(620), 4)

	assert.True(t, containsHandle(seeds, handleAt(600)))
	assert.True(t, containsHandle(seeds, handleAt(200)))
	assert.True(t, containsHandle(seeds, handleAt(400)))
}

func TestSnapshotIsPointInTime(t *testing.T) {
	n := newTestNode(t, 300, 200, 400)
	snap := n.Snapshot()

	n.SetPredecessor(handleAt(250))
	n.SetSuccessors([]NodeHandle{handleAt(450)})

	assert.Equal(t, int64(200), snap.Predecessor.Key.Int64())
	assert.Equal(t, int64(400), snap.Successor.Key.Int64())
	assert.Equal(t, int64(300), snap.Local.Key.Int64())
}
