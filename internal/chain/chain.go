// Package chain maintains the in-memory height-to-block-hash sequence that
// backs reorg detection and height lookups. It is rebuilt from the headers
// family on startup and kept current by the one sync-loop writer, while
// reads serve Electrum subscription queries concurrently.
package chain

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"electrumindexer/internal/rowcodec"
	"electrumindexer/internal/store"
)

// Chain is the ordered sequence of block hashes from genesis to tip. Index i
// holds the hash of the block at height i. All access is guarded by mu;
// exactly one writer (the sync loop) calls Append/Truncate, and arbitrarily
// many readers call At/TipHeight/TipHash concurrently.
type Chain struct {
	mu     sync.RWMutex
	hashes []chainhash.Hash
	byHash map[chainhash.Hash]uint32
}

// Load rebuilds a Chain from every header row stored in s, in ascending
// height order. A store with no headers yields an empty Chain (no genesis
// block indexed yet).
func Load(s *store.Store) (*Chain, error) {
	rows := make(map[uint32]chainhash.Hash)
	var maxHeight uint32
	var maxHeader [rowcodec.HeaderLen]byte
	var any bool

	it, err := s.IterPrefix(storeHeadersFamily(), nil)
	if err != nil {
		return nil, fmt.Errorf("chain: load: %w", err)
	}
	err = it.Each(func(key []byte) error {
		header, height, ok := rowcodec.ParseHeaderRow(key)
		if !ok {
			return nil // the tip singleton row, not a height-indexed entry
		}
		h := chainhash.DoubleHashH(header[:])
		if existing, dup := rows[height]; dup && existing != h {
			return fmt.Errorf("%w: duplicate divergent header at height %d", store.ErrStorageCorrupt, height)
		}
		rows[height] = h
		if !any || height > maxHeight {
			maxHeight = height
			maxHeader = header
			any = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c := &Chain{byHash: make(map[chainhash.Hash]uint32)}
	if !any {
		return c, nil
	}

	tip, tipOK, err := s.GetTip()
	if err != nil {
		return nil, fmt.Errorf("chain: load: read tip: %w", err)
	}
	if !tipOK {
		return nil, fmt.Errorf("%w: tip singleton missing while headers are present", store.ErrStorageCorrupt)
	}
	if !bytes.Equal(tip, maxHeader[:]) {
		return nil, fmt.Errorf("%w: tip singleton does not match header at max height %d", store.ErrStorageCorrupt, maxHeight)
	}

	c.hashes = make([]chainhash.Hash, maxHeight+1)
	for height := uint32(0); height <= maxHeight; height++ {
		hash, ok := rows[height]
		if !ok {
			return nil, fmt.Errorf("%w: missing header at height %d", store.ErrStorageCorrupt, height)
		}
		c.hashes[height] = hash
		c.byHash[hash] = height
	}
	return c, nil
}

// storeHeadersFamily isolates the one place this package needs to know the
// store's family enumeration, in case it grows additional header-adjacent
// families in the future.
func storeHeadersFamily() store.Family {
	return store.FamilyHeaders
}

// Append records hash as the new block at height, which must equal the
// current chain length (i.e. one past the current tip).
func (c *Chain) Append(height uint32, hash chainhash.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int(height) != len(c.hashes) {
		return fmt.Errorf("chain: append height %d, want %d", height, len(c.hashes))
	}
	c.hashes = append(c.hashes, hash)
	if c.byHash == nil {
		c.byHash = make(map[chainhash.Hash]uint32)
	}
	c.byHash[hash] = height
	return nil
}

// Truncate drops every entry at or above height, used when a reorg is
// detected and the chain must be rewound to the fork point.
func (c *Chain) Truncate(height uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int(height) >= len(c.hashes) {
		return
	}
	for h := height; h < uint32(len(c.hashes)); h++ {
		delete(c.byHash, c.hashes[h])
	}
	c.hashes = c.hashes[:height]
}

// HeightOf returns the height at which hash was indexed, or ok=false if
// hash is not part of the current chain (either never seen, or dropped by a
// prior Truncate).
func (c *Chain) HeightOf(hash chainhash.Hash) (height uint32, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	height, ok = c.byHash[hash]
	return height, ok
}

// At returns the block hash at height, or ok=false if height exceeds the
// current tip.
func (c *Chain) At(height uint32) (hash chainhash.Hash, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if int(height) >= len(c.hashes) {
		return chainhash.Hash{}, false
	}
	return c.hashes[height], true
}

// Len returns one past the current tip height, i.e. the number of blocks
// indexed so far.
func (c *Chain) Len() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint32(len(c.hashes))
}

// TipHeight returns the height of the most recently indexed block. It
// returns ok=false for an empty chain.
func (c *Chain) TipHeight() (height uint32, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.hashes) == 0 {
		return 0, false
	}
	return uint32(len(c.hashes)) - 1, true
}

// TipHash returns the hash of the most recently indexed block. It returns
// ok=false for an empty chain.
func (c *Chain) TipHash() (hash chainhash.Hash, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.hashes) == 0 {
		return chainhash.Hash{}, false
	}
	return c.hashes[len(c.hashes)-1], true
}
