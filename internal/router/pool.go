package router

import (
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"aolcore/pkg/logging"
)

const (
	keepaliveTime    = 30 * time.Second
	keepaliveTimeout = 10 * time.Second
)

// ChannelPool maintains one long-lived client connection per host:port,
// created lazily and closed on shutdown or explicit eviction.
type ChannelPool struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewChannelPool creates an empty connection pool.
func NewChannelPool() *ChannelPool {
	return &ChannelPool{conns: make(map[string]*grpc.ClientConn)}
}

// Get returns the pooled connection for an address, dialing it on first use.
func (p *ChannelPool) Get(addr string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[addr]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                keepaliveTime,
			Timeout:             keepaliveTimeout,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel for %s: %w", addr, err)
	}
	p.conns[addr] = conn
	return conn, nil
}

// Evict closes and removes the connection for an address.
func (p *ChannelPool) Evict(addr string) {
	p.mu.Lock()
	conn, ok := p.conns[addr]
	delete(p.conns, addr)
	p.mu.Unlock()

	if ok {
		if err := conn.Close(); err != nil {
			logging.Debug("Router", "Error closing channel to %s: %v", addr, err)
		}
	}
}

// Close shuts down every pooled connection.
func (p *ChannelPool) Close() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*grpc.ClientConn)
	p.mu.Unlock()

	for addr, conn := range conns {
		if err := conn.Close(); err != nil {
			logging.Debug("Router", "Error closing channel to %s: %v", addr, err)
		}
	}
}

// Size returns the number of open connections.
func (p *ChannelPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
