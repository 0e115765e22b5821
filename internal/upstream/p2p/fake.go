package p2p

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Fake is an in-memory Client built from a linear list of headers and
// blocks, used by internal/indexer and internal/status tests in place of a
// live TCP peer.
type Fake struct {
	mu      sync.Mutex
	headers []wire.BlockHeader
	blocks  map[chainhash.Hash]*wire.MsgBlock
}

// NewFake returns an empty Fake; populate it with SetChain before use.
func NewFake() *Fake {
	return &Fake{blocks: make(map[chainhash.Hash]*wire.MsgBlock)}
}

// SetChain replaces the fake's header/block view wholesale, simulating the
// daemon advancing (or reorganizing) to a new chain.
func (f *Fake) SetChain(headers []wire.BlockHeader, blocks []*wire.MsgBlock) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers = headers
	f.blocks = make(map[chainhash.Hash]*wire.MsgBlock, len(blocks))
	for _, b := range blocks {
		f.blocks[b.Header.BlockHash()] = b
	}
}

func (f *Fake) TipHash(ctx context.Context) (chainhash.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.headers) == 0 {
		return chainhash.Hash{}, nil
	}
	return f.headers[len(f.headers)-1].BlockHash(), nil
}

// GetHeaders returns every header after the first locator hash it
// recognizes, oldest first, matching the narrowing behavior a real peer's
// getheaders response gives against a block-locator object. An empty
// locator returns the whole chain from genesis.
func (f *Fake) GetHeaders(ctx context.Context, locator []chainhash.Hash, stopHash chainhash.Hash) ([]wire.BlockHeader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := 0
	for _, want := range locator {
		found := false
		for i, h := range f.headers {
			if h.BlockHash() == want {
				start = i + 1
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if start >= len(f.headers) {
		return nil, nil
	}
	return append([]wire.BlockHeader(nil), f.headers[start:]...), nil
}

func (f *Fake) GetBlock(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blk, ok := f.blocks[hash]
	if !ok {
		return nil, errBlockNotFound{hash}
	}
	return blk, nil
}

func (f *Fake) Close() error { return nil }

type errBlockNotFound struct{ hash chainhash.Hash }

func (e errBlockNotFound) Error() string { return "p2p: block not found: " + e.hash.String() }
