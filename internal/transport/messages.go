package transport

import (
	"fmt"
	"math/big"

	"github.com/epiring/epiring/internal/overlay"
)

// Message types exchanged over a peer link.
const (
	msgFindNode      = "find_node"
	msgFindNodeReply = "find_node_reply"
	msgStaleSpan     = "stale_span"
)

// wireHandle is the JSON form of a node handle. An empty key marks the
// unspecified sentinel.
type wireHandle struct {
	Key  string `json:"key,omitempty"`
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// wireMessage is the single envelope for all peer messages. Replies carry
// the id of the request they answer; stale-span notices carry no id at all.
type wireMessage struct {
	Type string `json:"type"`
	ID   uint64 `json:"id,omitempty"`

	// find_node
	Source  *wireHandle  `json:"source,omitempty"`
	Target  string       `json:"target,omitempty"`
	Fanout  int          `json:"fanout,omitempty"`
	Variant string       `json:"variant,omitempty"`
	Exclude []wireHandle `json:"exclude,omitempty"`

	// find_node_reply
	Closest []wireHandle `json:"closest,omitempty"`

	// stale_span
	Pred *wireHandle  `json:"pred,omitempty"`
	Succ *wireHandle  `json:"succ,omitempty"`
	Dead []wireHandle `json:"dead,omitempty"`
}

func handleToWire(h overlay.NodeHandle) wireHandle {
	w := wireHandle{Host: h.Host, Port: h.Port}
	if h.Key != nil {
		w.Key = h.Key.Text(16)
	}
	return w
}

func handleFromWire(w wireHandle) overlay.NodeHandle {
	if w.Key == "" {
		return overlay.UnspecifiedHandle
	}
	key, ok := new(big.Int).SetString(w.Key, 16)
	if !ok {
		return overlay.UnspecifiedHandle
	}
	return overlay.NewNodeHandle(key, w.Host, w.Port)
}

func handlesToWire(list []overlay.NodeHandle) []wireHandle {
	out := make([]wireHandle, len(list))
	for i, h := range list {
		out[i] = handleToWire(h)
	}
	return out
}

func handlesFromWire(list []wireHandle) []overlay.NodeHandle {
	out := make([]overlay.NodeHandle, len(list))
	for i, w := range list {
		out[i] = handleFromWire(w)
	}
	return out
}

func handlePtrToWire(h overlay.NodeHandle) *wireHandle {
	w := handleToWire(h)
	return &w
}

func handlePtrFromWire(w *wireHandle) overlay.NodeHandle {
	if w == nil {
		return overlay.UnspecifiedHandle
	}
	return handleFromWire(*w)
}

// findNodeMessage encodes a request under the given correlation id.
func findNodeMessage(id uint64, source overlay.NodeHandle, req *overlay.FindNodeRequest) *wireMessage {
	return &wireMessage{
		Type:    msgFindNode,
		ID:      id,
		Source:  handlePtrToWire(source),
		Target:  req.Target.Text(16),
		Fanout:  req.Fanout,
		Variant: req.Variant.String(),
		Exclude: handlesToWire(req.Exclude),
	}
}

// findNodeRequestFromWire decodes an inbound request.
func findNodeRequestFromWire(m *wireMessage) (*overlay.FindNodeRequest, error) {
	target, ok := new(big.Int).SetString(m.Target, 16)
	if !ok {
		return nil, fmt.Errorf("malformed target key %q", m.Target)
	}

	variant, err := overlay.ParseRoutingVariant(m.Variant)
	if err != nil {
		return nil, err
	}

	return &overlay.FindNodeRequest{
		Target:  target,
		Fanout:  m.Fanout,
		Variant: variant,
		Exclude: handlesFromWire(m.Exclude),
	}, nil
}

// findNodeReplyMessage encodes a response under the request's id.
func findNodeReplyMessage(id uint64, rsp *overlay.FindNodeResponse) *wireMessage {
	return &wireMessage{
		Type:    msgFindNodeReply,
		ID:      id,
		Source:  handlePtrToWire(rsp.Source),
		Closest: handlesToWire(rsp.Closest),
	}
}

// findNodeResponseFromWire decodes an inbound reply.
func findNodeResponseFromWire(m *wireMessage) *overlay.FindNodeResponse {
	return &overlay.FindNodeResponse{
		Source:  handlePtrFromWire(m.Source),
		Closest: handlesFromWire(m.Closest),
	}
}

// staleSpanMessage encodes a fire-and-forget repair hint.
func staleSpanMessage(pred, succ overlay.NodeHandle, dead []overlay.NodeHandle) *wireMessage {
	return &wireMessage{
		Type: msgStaleSpan,
		Pred: handlePtrToWire(pred),
		Succ: handlePtrToWire(succ),
		Dead: handlesToWire(dead),
	}
}
