// Package registry holds the admin-gated address registries that route
// transfers (chain -> inbox) and swaps (token pair -> swapper), plus the
// static contract tables the planners need.
package registry

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/relay/internal/errors"
)

// Registry maps a key to exactly one address or to nothing. Only the owner
// may write, the last write wins and entries are never deleted.
type Registry[K comparable] struct {
	mu      sync.RWMutex
	name    string
	owner   common.Address
	entries map[K]common.Address
	missing func(K) error
}

// New builds an empty registry. missing produces the error returned by
// Resolve for absent keys.
func New[K comparable](name string, owner common.Address, missing func(K) error) *Registry[K] {
	return &Registry[K]{
		name:    name,
		owner:   owner,
		entries: map[K]common.Address{},
		missing: missing,
	}
}

func (r *Registry[K]) Owner() common.Address { return r.owner }

// Authorize fails with Unauthorized unless caller owns the registry. Writers
// call it before validating their arguments.
func (r *Registry[K]) Authorize(caller common.Address) error {
	if caller != r.owner {
		return clierr.New(clierr.CodeUnauthorized, fmt.Sprintf("%s: caller %s is not the owner", r.name, caller.Hex()))
	}
	return nil
}

// Set registers or overwrites the entry for key. It returns the previous
// address (zero if none) so callers can report overwrites.
func (r *Registry[K]) Set(caller common.Address, key K, addr common.Address) (common.Address, error) {
	if err := r.Authorize(caller); err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s: refusing to register the zero address", r.name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.entries[key]
	r.entries[key] = addr
	return prev, nil
}

func (r *Registry[K]) Resolve(key K) (common.Address, error) {
	r.mu.RLock()
	addr, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		if r.missing != nil {
			return common.Address{}, r.missing(key)
		}
		return common.Address{}, clierr.New(clierr.CodeInternal, fmt.Sprintf("%s: no entry for %v", r.name, key))
	}
	return addr, nil
}

type Entry[K comparable] struct {
	Key     K
	Address common.Address
}

// Entries returns a snapshot of the registry in unspecified order.
func (r *Registry[K]) Entries() []Entry[K] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry[K], 0, len(r.entries))
	for k, v := range r.entries {
		out = append(out, Entry[K]{Key: k, Address: v})
	}
	return out
}

func (r *Registry[K]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
