// Package watch keeps per-address callbacks fired by block activity.
package watch

import (
	"strings"
	"sync"

	"github.com/rexliu/dappd/pkg/ledger"
)

// Callback is invoked when a watched address appears in a block.
type Callback func()

// Registry maps addresses to callbacks. At most one callback per address.
type Registry struct {
	mu        sync.RWMutex
	callbacks map[string]Callback
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{callbacks: make(map[string]Callback)}
}

func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Watch installs cb for addr, replacing any previous callback.
func (r *Registry) Watch(addr string, cb Callback) {
	key := normalize(addr)
	if key == "" || cb == nil {
		return
	}
	r.mu.Lock()
	r.callbacks[key] = cb
	r.mu.Unlock()
}

// Unwatch removes the callback for addr. Absent addresses are ignored.
func (r *Registry) Unwatch(addr string) {
	r.mu.Lock()
	delete(r.callbacks, normalize(addr))
	r.mu.Unlock()
}

// Watching reports whether addr has a callback.
func (r *Registry) Watching(addr string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.callbacks[normalize(addr)]
	return ok
}

// Len returns the number of watched addresses.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.callbacks)
}

// NotifyBlock invokes the callback of every watched address that appears as
// sender, recipient or coinbase in block, once per address. It returns the
// number of callbacks fired.
func (r *Registry) NotifyBlock(block ledger.Block) int {
	seen := make(map[string]struct{})
	var due []Callback

	r.mu.RLock()
	visit := func(addr string) {
		key := normalize(addr)
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		if cb, ok := r.callbacks[key]; ok {
			due = append(due, cb)
		}
	}
	for _, tx := range block.Transactions {
		visit(tx.Sender)
		visit(tx.Recipient)
		visit(tx.Coinbase)
	}
	visit(block.Coinbase)
	r.mu.RUnlock()

	for _, cb := range due {
		cb()
	}
	return len(due)
}
