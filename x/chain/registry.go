package chain

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/compose-network/bridge-deployer/x/resource"
)

// Registry maps each configured network to its client.
type Registry struct {
	mu      sync.RWMutex
	clients map[resource.NetworkID]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[resource.NetworkID]Client)}
}

func (r *Registry) Add(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Network()] = c
}

func (r *Registry) Get(network resource.NetworkID) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[network]
	if !ok {
		return nil, fmt.Errorf("chain: no client for network %q", network)
	}
	return c, nil
}

// Networks returns the registered networks sorted by id.
func (r *Registry) Networks() []resource.NetworkID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]resource.NetworkID, 0, len(r.clients))
	for id := range r.clients {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close closes every client that holds a connection.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, c := range r.clients {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
			}
		}
	}
	return errors.Join(errs...)
}
