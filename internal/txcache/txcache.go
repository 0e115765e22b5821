// Package txcache holds recently seen full transactions in memory so that
// repeated client lookups (get_transaction, get_merkle, history replies)
// don't round-trip to the daemon: a map guarded by a single RWMutex, with
// an optional bounded LRU variant for long-running low-memory deployments.
package txcache

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	lru "github.com/hashicorp/golang-lru/v2"

	"electrumindexer/internal/btcdomain"
)

// Cache stores full transactions keyed by txid. The zero value is not
// usable; construct with New or NewBounded.
type Cache interface {
	Get(txid chainhash.Hash) (btcdomain.Transaction, bool)
	Put(txid chainhash.Hash, tx btcdomain.Transaction)
	Remove(txid chainhash.Hash)
	Len() int
}

// unboundedCache never evicts; suitable for the default deployment where
// operators are expected to size their host's memory for the full
// transaction working set.
type unboundedCache struct {
	mu sync.RWMutex
	m  map[chainhash.Hash]btcdomain.Transaction
}

// New returns an unbounded Cache.
func New() Cache {
	return &unboundedCache{m: make(map[chainhash.Hash]btcdomain.Transaction)}
}

func (c *unboundedCache) Get(txid chainhash.Hash) (btcdomain.Transaction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tx, ok := c.m[txid]
	return tx, ok
}

func (c *unboundedCache) Put(txid chainhash.Hash, tx btcdomain.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[txid] = tx
}

func (c *unboundedCache) Remove(txid chainhash.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, txid)
}

func (c *unboundedCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// boundedCache evicts least-recently-used entries once it reaches its
// configured capacity, for the config.Storage.LowMemory deployment profile.
type boundedCache struct {
	mu  sync.RWMutex
	lru *lru.Cache[chainhash.Hash, btcdomain.Transaction]
}

// NewBounded returns a Cache holding at most size transactions, evicting
// the least recently used entry once full.
func NewBounded(size int) (Cache, error) {
	l, err := lru.New[chainhash.Hash, btcdomain.Transaction](size)
	if err != nil {
		return nil, err
	}
	return &boundedCache{lru: l}, nil
}

func (c *boundedCache) Get(txid chainhash.Hash) (btcdomain.Transaction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Get(txid)
}

func (c *boundedCache) Put(txid chainhash.Hash, tx btcdomain.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(txid, tx)
}

func (c *boundedCache) Remove(txid chainhash.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(txid)
}

func (c *boundedCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}
