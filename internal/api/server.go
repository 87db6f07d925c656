package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/epiring/epiring/internal/overlay"
	"github.com/epiring/epiring/internal/telemetry"
	"github.com/epiring/epiring/pkg"
)

var (
	errMalformedID   = errors.New("malformed id")
	errMissingTarget = errors.New("missing key or id parameter")
)

// Server is the HTTP debug surface of a node: health, metrics, and an
// on-demand lookup endpoint.
type Server struct {
	coordinator *overlay.Coordinator
	node        *overlay.Node
	logger      *pkg.Logger
	httpServer  *http.Server
}

// NewServer creates the debug API server.
func NewServer(coordinator *overlay.Coordinator, node *overlay.Node, logger *pkg.Logger) *Server {
	return &Server{
		coordinator: coordinator,
		node:        node,
		logger:      logger.WithFields(pkg.Fields{"component": "http_api"}),
	}
}

// Start starts the HTTP server on the given port.
func (s *Server) Start(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.HandleFunc("/api/lookup", s.lookupHandler)
	mux.HandleFunc("/api/node", s.nodeHandler)
	mux.HandleFunc("/ws", s.streamHandler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Int("port", port).Msg("Starting HTTP API server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping HTTP API server")

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}

	s.logger.Info().Msg("HTTP API server stopped")
	return nil
}

// healthHandler handles health check requests.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// lookupResult is the JSON shape of a lookup answer.
type lookupResult struct {
	Key      string       `json:"key"`
	Success  bool         `json:"success"`
	Hops     int          `json:"hops"`
	Siblings []nodeRecord `json:"siblings"`
}

type nodeRecord struct {
	Key  string `json:"key"`
	Addr string `json:"addr"`
}

// lookupResultJSON shapes a lookup answer for either HTTP or the stream.
func lookupResultJSON(target *big.Int, result *overlay.Result) lookupResult {
	out := lookupResult{
		Key:     target.Text(16),
		Success: result.Success,
		Hops:    result.Hops,
	}
	for _, h := range result.Siblings {
		out.Siblings = append(out.Siblings, nodeRecord{Key: h.KeyHex(), Addr: h.Address()})
	}
	return out
}

// lookupHandler resolves ?key= (hashed) or ?id= (raw hex ring key) to the
// owner and replica set.
func (s *Server) lookupHandler(w http.ResponseWriter, r *http.Request) {
	target, err := s.queryTarget(&lookupQuery{
		Key: r.URL.Query().Get("key"),
		ID:  r.URL.Query().Get("id"),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.coordinator.Lookup(r.Context(), target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !result.Success {
		w.WriteHeader(http.StatusNotFound)
	}
	json.NewEncoder(w).Encode(lookupResultJSON(target, result))
}

// nodeHandler reports the local node's position and cache occupancy.
func (s *Server) nodeHandler(w http.ResponseWriter, r *http.Request) {
	seed := s.node.Snapshot()

	out := map[string]any{
		"self":       nodeRecord{Key: seed.Local.KeyHex(), Addr: seed.Local.Address()},
		"cache_size": s.node.Cache().Len(),
		"in_flight":  s.coordinator.ActiveLookups(),
	}
	if !seed.Predecessor.IsUnspecified() {
		out["predecessor"] = nodeRecord{Key: seed.Predecessor.KeyHex(), Addr: seed.Predecessor.Address()}
	}
	if !seed.Successor.IsUnspecified() {
		out["successor"] = nodeRecord{Key: seed.Successor.KeyHex(), Addr: seed.Successor.Address()}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
