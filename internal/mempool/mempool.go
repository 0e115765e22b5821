// Package mempool maintains a point-in-time view of the daemon's unconfirmed
// transaction pool, scoped down to the funding/spending relationships the
// status tracker needs: which scripthashes an unconfirmed transaction
// touches, and at what fee.
package mempool

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"electrumindexer/internal/rowcodec"
	"electrumindexer/internal/upstream/rpc"
)

// Entry is one transaction currently sitting in the mempool view.
type Entry struct {
	Tx  *wire.MsgTx
	Fee int64 // satoshis
}

// Mempool is a read-mostly snapshot of unconfirmed transactions, rebuilt
// wholesale on every Sync call. Sync builds the new view outside the lock
// and swaps it in under the write lock, so reads (FilterByScriptHash,
// FeeHistogram, ...) may run concurrently with a Sync and see either the old
// or the new view. The tracker package calls Sync only from its single sync
// loop.
type Mempool struct {
	mu      sync.RWMutex
	entries map[chainhash.Hash]Entry
	byFund  map[[rowcodec.PrefixLen]byte][]chainhash.Hash
	bySpent map[[rowcodec.PrefixLen]byte][]chainhash.Hash
}

// New returns an empty Mempool.
func New() *Mempool {
	return &Mempool{
		entries: make(map[chainhash.Hash]Entry),
		byFund:  make(map[[rowcodec.PrefixLen]byte][]chainhash.Hash),
		bySpent: make(map[[rowcodec.PrefixLen]byte][]chainhash.Hash),
	}
}

// Sync replaces the mempool view with the daemon's current pool contents.
// Transactions already known from a prior Sync skip the round-trip to
// GetRawTransaction; unseen txids are fetched individually.
func (m *Mempool) Sync(ctx context.Context, client rpc.Client) error {
	txids, err := client.RawMempool(ctx)
	if err != nil {
		return fmt.Errorf("mempool: sync: %w", err)
	}

	m.mu.RLock()
	prior := m.entries
	m.mu.RUnlock()

	next := make(map[chainhash.Hash]Entry, len(txids))
	byFund := make(map[[rowcodec.PrefixLen]byte][]chainhash.Hash)
	bySpent := make(map[[rowcodec.PrefixLen]byte][]chainhash.Hash)

	for _, txid := range txids {
		entry, ok := prior[txid]
		if !ok {
			tx, err := client.GetRawTransaction(ctx, txid)
			if err != nil {
				return fmt.Errorf("mempool: fetch %s: %w", txid, err)
			}
			fee, err := client.MempoolEntryFee(ctx, txid)
			if err != nil {
				return fmt.Errorf("mempool: fee %s: %w", txid, err)
			}
			entry = Entry{Tx: tx, Fee: fee}
		}
		next[txid] = entry

		for _, out := range entry.Tx.TxOut {
			sh := rowcodec.ScriptHash(out.PkScript)
			var prefix [rowcodec.PrefixLen]byte
			copy(prefix[:], sh[:rowcodec.PrefixLen])
			byFund[prefix] = append(byFund[prefix], txid)
		}
		for _, in := range entry.Tx.TxIn {
			if in.PreviousOutPoint.Hash == (chainhash.Hash{}) {
				continue // coinbase input: no real outpoint being spent
			}
			oh := rowcodec.OutpointHash(in.PreviousOutPoint)
			var prefix [rowcodec.PrefixLen]byte
			copy(prefix[:], oh[:rowcodec.PrefixLen])
			bySpent[prefix] = append(bySpent[prefix], txid)
		}
	}

	m.mu.Lock()
	m.entries = next
	m.byFund = byFund
	m.bySpent = bySpent
	m.mu.Unlock()
	return nil
}

// FilterByScriptHash returns every mempool transaction with an output whose
// script hashes to scriptHash. Like the confirmed index, the match is
// candidate-only on the 8-byte prefix; callers must re-verify the full
// 32-byte hash.
func (m *Mempool) FilterByScriptHash(scriptHash [32]byte) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var prefix [rowcodec.PrefixLen]byte
	copy(prefix[:], scriptHash[:rowcodec.PrefixLen])

	var out []Entry
	for _, txid := range m.byFund[prefix] {
		if e, ok := m.entries[txid]; ok {
			out = append(out, e)
		}
	}
	return out
}

// FilterBySpentOutpoint returns every mempool transaction with an input
// spending an outpoint whose hash is outpointHash. As with
// FilterByScriptHash, the match is candidate-only on the 8-byte prefix.
func (m *Mempool) FilterBySpentOutpoint(outpointHash [32]byte) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var prefix [rowcodec.PrefixLen]byte
	copy(prefix[:], outpointHash[:rowcodec.PrefixLen])

	var out []Entry
	for _, txid := range m.bySpent[prefix] {
		if e, ok := m.entries[txid]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Get returns the mempool entry for txid, if present.
func (m *Mempool) Get(txid chainhash.Hash) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[txid]
	return e, ok
}

// Len reports the number of transactions currently tracked.
func (m *Mempool) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// FeeHistogram buckets mempool transactions by approximate fee rate, the
// shape Electrum's mempool.get_fee_histogram expects: a list of
// [fee_rate, cumulative_vsize] pairs in descending fee-rate order. vsize is
// approximated from serialized size, since witness discounting requires a
// full weight calculation the mempool view doesn't track per-input.
func (m *Mempool) FeeHistogram() [][2]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type bucket struct {
		rate  int64
		vsize int64
	}
	var buckets []bucket
	for _, e := range m.entries {
		size := int64(e.Tx.SerializeSize())
		if size == 0 {
			continue
		}
		rate := e.Fee / size
		buckets = append(buckets, bucket{rate: rate, vsize: size})
	}

	// Simple descending-rate aggregation; real Electrum servers bucket
	// logarithmically, but this is sufficient for clients that only use
	// the histogram to estimate confirmation targets.
	agg := make(map[int64]int64)
	for _, b := range buckets {
		agg[b.rate] += b.vsize
	}

	out := make([][2]int64, 0, len(agg))
	for rate, vsize := range agg {
		out = append(out, [2]int64{rate, vsize})
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j][0] > out[i][0] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}
