package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/epiring/epiring/internal/api"
	"github.com/epiring/epiring/internal/config"
	"github.com/epiring/epiring/internal/discovery"
	"github.com/epiring/epiring/internal/overlay"
	"github.com/epiring/epiring/internal/transport"
	"github.com/epiring/epiring/pkg"
)

func main() {
	// Parse command-line flags
	host := flag.String("host", "127.0.0.1", "Host address to bind to")
	port := flag.Int("port", 8440, "Port for the peer transport server")
	httpPort := flag.Int("http-port", 8080, "Port for the HTTP debug API")
	peers := flag.String("peers", "", "Comma-separated peer addresses (host:port) to bootstrap from")
	etcd := flag.String("etcd", "", "Comma-separated etcd endpoints for peer discovery")
	redundant := flag.Int("redundant", 3, "Redundancy/fan-out factor per lookup")
	hopTimeout := flag.Duration("hop-timeout", 2*time.Second, "Per-hop request timeout")
	variant := flag.String("variant", "iterative", "Routing variant (iterative, exclusive-iterative)")
	cacheSize := flag.Int("cache-size", 128, "Neighbor cache capacity")
	logLevel := flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	logFormat := flag.String("log-format", "console", "Log format (json, console)")
	flag.Parse()

	// Create configuration
	cfg := &config.Config{
		Host:           *host,
		Port:           *port,
		HTTPPort:       *httpPort,
		Peers:          splitList(*peers),
		EtcdEndpoints:  splitList(*etcd),
		RedundantNodes: *redundant,
		PerHopTimeout:  *hopTimeout,
		RoutingVariant: *variant,
		CacheSize:      *cacheSize,
		LogLevel:       *logLevel,
		LogFormat:      *logFormat,
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logConfig := pkg.DefaultLogConfig()
	logConfig.Level = cfg.LogLevel
	logConfig.Format = cfg.LogFormat

	logger, err := pkg.NewLogger(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	local := overlay.HandleFromAddress(cfg.Host, cfg.Port)

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Int("http_port", cfg.HTTPPort).
		Str("node_key", local.ShortKeyHex(16)).
		Msg("Starting epiring node")

	// Local node view
	node := overlay.NewNode(local, cfg.CacheSize, logger)

	// Peer transport
	client := transport.NewClient(local, cfg.PerHopTimeout, logger)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := transport.NewServer(serverAddr, node, logger)
	if err := server.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start transport server")
		os.Exit(1)
	}

	// Lookup coordinator
	routingVariant, _ := overlay.ParseRoutingVariant(cfg.RoutingVariant)
	coordinator := overlay.NewCoordinator(node, client, client, overlay.LookupConfig{
		RedundantNodes: cfg.RedundantNodes,
		PerHopTimeout:  cfg.PerHopTimeout,
		Variant:        routingVariant,
	}, logger)

	// HTTP debug API
	httpServer := api.NewServer(coordinator, node, logger)
	if err := httpServer.Start(cfg.HTTPPort); err != nil {
		logger.Error().Err(err).Msg("Failed to start HTTP API server")
		cleanup(server, client, httpServer, nil, logger)
		os.Exit(1)
	}

	// Bootstrap: resolve peers from etcd or the static list and seed the cache
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var registry *discovery.Registry
	bootstrapPeers := cfg.Peers

	if len(cfg.EtcdEndpoints) > 0 {
		registry, err = discovery.NewRegistry(cfg.EtcdEndpoints, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to connect to etcd")
			cleanup(server, client, httpServer, nil, logger)
			os.Exit(1)
		}

		if err := registry.Register(ctx, local.KeyHex(), serverAddr, 10); err != nil {
			logger.Error().Err(err).Msg("Failed to register in etcd")
			cleanup(server, client, httpServer, registry, logger)
			os.Exit(1)
		}

		discovered, err := registry.Peers(ctx, serverAddr)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to list peers from etcd")
		} else {
			bootstrapPeers = append(bootstrapPeers, discovered...)
		}
	}

	seedPeers(node, bootstrapPeers, logger)

	// Join: resolve our own key to find the node currently owning it, which
	// becomes our successor once stabilization takes over.
	if node.Cache().Len() > 0 {
		joinCtx, joinCancel := context.WithTimeout(ctx, 30*time.Second)
		result, err := coordinator.MaintenanceLookup(joinCtx, local.Key)
		joinCancel()

		// A peer that already knows us may route the lookup right back;
		// we never become our own successor.
		var successors []overlay.NodeHandle
		if result != nil {
			for _, h := range result.Siblings {
				if !h.Equals(local) {
					successors = append(successors, h)
				}
			}
		}

		if err != nil || !result.Success || len(successors) == 0 {
			if err == nil {
				err = pkg.ErrLookupFailed
			}
			logger.Warn().Err(err).Msg("Join lookup failed, starting with an empty neighborhood")
		} else {
			node.SetSuccessors(successors)
			logger.Info().
				Str("successor", successors[0].Address()).
				Msg("Joined overlay")
		}
	}

	logger.Info().
		Int("peers", node.Cache().Len()).
		Msg("Node is ready")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info().
		Str("signal", sig.String()).
		Msg("Received shutdown signal")

	cancel()
	cleanup(server, client, httpServer, registry, logger)

	logger.Info().Msg("Node shutdown complete")
}

// seedPeers primes the neighbor cache from bootstrap addresses.
func seedPeers(node *overlay.Node, peers []string, logger *pkg.Logger) {
	for _, addr := range peers {
		host, port, err := splitAddress(addr)
		if err != nil {
			logger.Warn().Str("peer", addr).Err(err).Msg("Skipping malformed peer address")
			continue
		}
		node.Learn(overlay.HandleFromAddress(host, port))
	}
}

// splitAddress parses "host:port".
func splitAddress(addr string) (string, int, error) {
	idx := strings.LastIndex(addr, ":")
	if idx <= 0 {
		return "", 0, fmt.Errorf("address %q is not host:port", addr)
	}

	var port int
	if _, err := fmt.Sscanf(addr[idx+1:], "%d", &port); err != nil {
		return "", 0, fmt.Errorf("address %q has a malformed port: %w", addr, err)
	}

	return addr[:idx], port, nil
}

// splitList parses a comma-separated flag value.
func splitList(s string) []string {
	if s == "" {
		return nil
	}

	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// cleanup performs graceful shutdown of all components.
func cleanup(server *transport.Server, client *transport.Client, httpServer *api.Server, registry *discovery.Registry, logger *pkg.Logger) {
	logger.Info().Msg("Starting graceful shutdown")

	if httpServer != nil {
		if err := httpServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping HTTP server")
		}
	}

	if err := server.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping transport server")
	}

	if err := client.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing transport client")
	}

	if registry != nil {
		if err := registry.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing discovery registry")
		}
	}
}
