// Package discovery registers nodes in etcd and lists peers for bootstrap.
// It is optional: nodes can also bootstrap from a static peer list.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/epiring/epiring/pkg"
)

const nodePrefix = "/epiring/nodes/"

// Registry keeps this node's etcd lease alive and answers peer listings.
type Registry struct {
	cli    *clientv3.Client
	logger *pkg.Logger
	lease  clientv3.LeaseID
}

// NewRegistry connects to etcd.
func NewRegistry(endpoints []string, logger *pkg.Logger) (*Registry, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &Registry{
		cli:    cli,
		logger: logger.WithFields(pkg.Fields{"component": "discovery"}),
	}, nil
}

// Register announces this node under a leased key and keeps the lease
// alive in the background until the context is canceled.
func (r *Registry) Register(ctx context.Context, id, addr string, ttlSeconds int64) error {
	lease, err := r.cli.Grant(ctx, ttlSeconds)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	r.lease = lease.ID

	key := nodePrefix + id
	if _, err := r.cli.Put(ctx, key, addr, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}

	keepAlive, err := r.cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("failed to keep lease alive: %w", err)
	}

	go func() {
		for range keepAlive {
			// Drain keep-alive acks until the context dies.
		}
		r.logger.Debug().Str("node", id).Msg("Lease keep-alive stopped")
	}()

	r.logger.Info().
		Str("node", id).
		Str("addr", addr).
		Msg("Registered in etcd")

	return nil
}

// Peers lists the addresses of all currently registered nodes, excluding
// the given local address.
func (r *Registry) Peers(ctx context.Context, selfAddr string) ([]string, error) {
	resp, err := r.cli.Get(ctx, nodePrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}

	peers := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		addr := strings.TrimSpace(string(kv.Value))
		if addr != "" && addr != selfAddr {
			peers = append(peers, addr)
		}
	}

	return peers, nil
}

// Close releases the lease and the etcd connection.
func (r *Registry) Close() error {
	if r.lease != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := r.cli.Revoke(ctx, r.lease); err != nil {
			r.logger.Debug().Err(err).Msg("Failed to revoke lease")
		}
	}
	return r.cli.Close()
}
