// Package registry holds the authoritative store of active listings, keyed
// by (asset contract, asset id) and ordered so operators can scan it.
package registry

import (
	"sync"
	"time"

	"github.com/tidwall/btree"

	"bazaar/internal/market"
)

type entry struct {
	contract market.Address
	assetID  uint64
	order    market.Order
}

func less(a, b entry) bool {
	if a.contract != b.contract {
		return a.contract < b.contract
	}
	return a.assetID < b.assetID
}

// Registry implements market.OrderRegistry on an ordered in-memory tree.
// All methods are safe for concurrent use; journaled undo closures re-enter
// through the same lock.
type Registry struct {
	mu     sync.RWMutex
	orders *btree.BTreeG[entry]
}

func New() *Registry {
	return &Registry{orders: btree.NewBTreeG(less)}
}

func (r *Registry) Get(contract market.Address, assetID uint64) (market.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.orders.Get(entry{contract: contract, assetID: assetID})
	if !ok {
		return market.Order{}, false
	}
	return e.order, true
}

// Put stores order under its asset key, silently replacing any existing
// entry. The journal restores the replaced entry (or the absence of one)
// on rollback.
func (r *Registry) Put(j *market.Journal, order market.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, replaced := r.orders.Set(entry{
		contract: order.AssetContract,
		assetID:  order.AssetID,
		order:    order,
	})
	j.Record(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if replaced {
			r.orders.Set(prev)
		} else {
			r.orders.Delete(entry{contract: order.AssetContract, assetID: order.AssetID})
		}
	})
}

// Remove deletes the entry for the asset key and returns it. A missing
// entry is market.ErrNotListed, distinct from a present all-zero order.
func (r *Registry) Remove(j *market.Journal, contract market.Address, assetID uint64) (market.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.orders.Delete(entry{contract: contract, assetID: assetID})
	if !ok {
		return market.Order{}, market.ErrNotListed
	}
	j.Record(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.orders.Set(prev)
	})
	return prev.order, nil
}

// Len reports the number of active listings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.orders.Len()
}

// Scan visits every listing in key order until fn returns false.
func (r *Registry) Scan(fn func(market.Order) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.orders.Scan(func(e entry) bool {
		return fn(e.order)
	})
}

// StaleBefore returns listings whose expiry is at or before t. Expiry only
// blocks execution; stale entries stay listed until cancelled, and this
// scan exists so operators can find them.
func (r *Registry) StaleBefore(t time.Time) []market.Order {
	var stale []market.Order
	r.Scan(func(o market.Order) bool {
		if !t.Before(o.ExpiresAt) {
			stale = append(stale, o)
		}
		return true
	})
	return stale
}
