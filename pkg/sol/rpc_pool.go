package sol

import (
	"context"
	"fmt"
	"sync/atomic"
)

// RPCPool distributes requests across several RPC endpoints.
type RPCPool struct {
	endpoints []string
	clients   []*Client
	index     uint64
}

// NewRPCPool creates one rate limited client per endpoint.
func NewRPCPool(ctx context.Context, endpoints []string, reqLimitPerSecond int) (*RPCPool, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no RPC endpoints")
	}

	pool := &RPCPool{
		endpoints: endpoints,
		clients:   make([]*Client, 0, len(endpoints)),
	}

	for _, endpoint := range endpoints {
		client, err := NewClient(ctx, endpoint, reqLimitPerSecond)
		if err != nil {
			return nil, err
		}
		pool.clients = append(pool.clients, client)
	}

	return pool, nil
}

// GetClient returns the next client in round-robin order.
func (p *RPCPool) GetClient() *Client {
	if len(p.clients) == 1 {
		return p.clients[0]
	}
	idx := atomic.AddUint64(&p.index, 1) % uint64(len(p.clients))
	return p.clients[idx]
}

// GetAllClients returns all clients in the pool.
func (p *RPCPool) GetAllClients() []*Client {
	return p.clients
}

// Size returns the number of clients in the pool.
func (p *RPCPool) Size() int {
	return len(p.clients)
}

// WithCommitment applies commitment to every client in the pool.
func (p *RPCPool) WithCommitment(commitment string) *RPCPool {
	for _, c := range p.clients {
		c.WithCommitment(commitment)
	}
	return p
}
