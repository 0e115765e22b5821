// Package status tracks one subscribed script's confirmed and mempool
// history and the Electrum "status hash" derived from it, the per-script
// object an Electrum server keeps one of per active subscription.
package status

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"electrumindexer/internal/btcdomain"
	"electrumindexer/internal/chain"
	"electrumindexer/internal/indexer"
	"electrumindexer/internal/mempool"
	"electrumindexer/internal/rowcodec"
	"electrumindexer/internal/upstream/p2p"
)

// Status holds the confirmed and mempool history of one subscribed
// scripthash, plus the UTXO bookkeeping needed to answer GetUnspent and the
// digest Electrum clients watch for change notifications.
type Status struct {
	scriptHash [32]byte

	confirmed map[chainhash.Hash]btcdomain.HistoryEntry
	mempool   []btcdomain.HistoryEntry

	fundingHeight map[wire.OutPoint]int32
	spent         map[wire.OutPoint]bool

	tip  chainhash.Hash
	hash []byte // nil means no history yet
}

// New returns an empty Status for scriptHash: no history, no status hash.
func New(scriptHash [32]byte) *Status {
	return &Status{
		scriptHash:    scriptHash,
		confirmed:     make(map[chainhash.Hash]btcdomain.HistoryEntry),
		fundingHeight: make(map[wire.OutPoint]int32),
		spent:         make(map[wire.OutPoint]bool),
	}
}

// Sync recomputes both the confirmed and mempool portions of the history
// from scratch and returns every transaction it fetched along the way, so
// the caller can feed them into a shared transaction cache.
func (s *Status) Sync(ctx context.Context, idx *indexer.Index, mp *mempool.Mempool, p2pClient p2p.Client) (map[chainhash.Hash]btcdomain.Transaction, error) {
	fetched := make(map[chainhash.Hash]btcdomain.Transaction)
	blocks := make(map[uint32]btcdomain.Block)

	fetchBlock := func(height uint32) (btcdomain.Block, error) {
		if b, ok := blocks[height]; ok {
			return b, nil
		}
		hash, ok := idx.Chain().At(height)
		if !ok {
			return nil, nil // height no longer on the active chain; a reorg raced this scan
		}
		block, err := p2pClient.GetBlock(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("fetch block at height %d: %w", height, err)
		}
		blocks[height] = block
		return block, nil
	}

	confirmed := make(map[chainhash.Hash]btcdomain.HistoryEntry)
	fundingHeight := make(map[wire.OutPoint]int32)
	spentOut := make(map[wire.OutPoint]bool)
	var fundingTxids []chainhash.Hash

	fundHeights, err := idx.FilterByScriptHash(s.scriptHash)
	if err != nil {
		return nil, fmt.Errorf("status: funding scan: %w", err)
	}
	for _, height := range fundHeights {
		block, err := fetchBlock(height)
		if err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		if block == nil {
			continue
		}
		for _, tx := range block.Transactions {
			txid := tx.TxHash()
			if _, already := confirmed[txid]; already {
				continue
			}
			matched := false
			for vout, out := range tx.TxOut {
				if rowcodec.ScriptHash(out.PkScript) != s.scriptHash {
					continue
				}
				matched = true
				fundingHeight[wire.OutPoint{Hash: txid, Index: uint32(vout)}] = int32(height)
			}
			if matched {
				confirmed[txid] = btcdomain.HistoryEntry{Txid: txid, Height: int32(height)}
				fetched[txid] = tx
				fundingTxids = append(fundingTxids, txid)
			}
		}
	}

	for _, txid := range fundingTxids {
		tx := fetched[txid]
		for vout := range tx.TxOut {
			op := wire.OutPoint{Hash: txid, Index: uint32(vout)}
			oh := rowcodec.OutpointHash(op)
			spendHeights, err := idx.FilterBySpentOutpoint(oh)
			if err != nil {
				return nil, fmt.Errorf("status: spend scan: %w", err)
			}
			for _, height := range spendHeights {
				block, err := fetchBlock(height)
				if err != nil {
					return nil, fmt.Errorf("status: %w", err)
				}
				if block == nil {
					continue
				}
				for _, spendTx := range block.Transactions {
					if !spendsOutpoint(spendTx, op) {
						continue
					}
					spentOut[op] = true
					spendTxid := spendTx.TxHash()
					if _, already := confirmed[spendTxid]; !already {
						confirmed[spendTxid] = btcdomain.HistoryEntry{Txid: spendTxid, Height: int32(height)}
						fetched[spendTxid] = spendTx
					}
				}
			}
		}
	}

	s.confirmed = confirmed
	s.fundingHeight = fundingHeight
	s.spent = spentOut

	mempoolEntries, mempoolFetched := s.syncMempool(mp)
	s.mempool = mempoolEntries
	for txid, tx := range mempoolFetched {
		fetched[txid] = tx
	}

	if tip, ok := idx.Chain().TipHash(); ok {
		s.tip = tip
	}
	s.recomputeHash()
	return fetched, nil
}

// syncMempool rebuilds the mempool portion: every unconfirmed transaction
// that either funds or spends this script, with height 0 if every input
// resolves to a confirmed output and -1 if any input spends another
// mempool transaction.
func (s *Status) syncMempool(mp *mempool.Mempool) ([]btcdomain.HistoryEntry, map[chainhash.Hash]btcdomain.Transaction) {
	touching := make(map[chainhash.Hash]mempool.Entry)

	for _, e := range mp.FilterByScriptHash(s.scriptHash) {
		for _, out := range e.Tx.TxOut {
			if rowcodec.ScriptHash(out.PkScript) == s.scriptHash {
				touching[e.Tx.TxHash()] = e
				break
			}
		}
	}

	// An output funding this script, confirmed or itself unconfirmed, may
	// be spent by a further mempool transaction; chase those too.
	candidates := make(map[wire.OutPoint]bool, len(s.fundingHeight))
	for op := range s.fundingHeight {
		candidates[op] = true
	}
	for _, e := range touching {
		txid := e.Tx.TxHash()
		for vout, out := range e.Tx.TxOut {
			if rowcodec.ScriptHash(out.PkScript) == s.scriptHash {
				candidates[wire.OutPoint{Hash: txid, Index: uint32(vout)}] = true
			}
		}
	}
	for op := range candidates {
		oh := rowcodec.OutpointHash(op)
		for _, e := range mp.FilterBySpentOutpoint(oh) {
			if spendsOutpoint(e.Tx, op) {
				touching[e.Tx.TxHash()] = e
			}
		}
	}

	entries := make([]btcdomain.HistoryEntry, 0, len(touching))
	fetched := make(map[chainhash.Hash]btcdomain.Transaction, len(touching))
	for txid, e := range touching {
		height := int32(0)
		for _, in := range e.Tx.TxIn {
			if _, unconfirmedParent := mp.Get(in.PreviousOutPoint.Hash); unconfirmedParent {
				height = -1
				break
			}
		}
		entries = append(entries, btcdomain.HistoryEntry{Txid: txid, Height: height, Fee: e.Fee})
		fetched[txid] = e.Tx
	}
	return entries, fetched
}

func spendsOutpoint(tx btcdomain.Transaction, op wire.OutPoint) bool {
	for _, in := range tx.TxIn {
		if in.PreviousOutPoint == op {
			return true
		}
	}
	return false
}

// GetConfirmed returns the confirmed history, ordered by (height, txid).
func (s *Status) GetConfirmed() []btcdomain.HistoryEntry {
	entries := make([]btcdomain.HistoryEntry, 0, len(s.confirmed))
	for _, e := range s.confirmed {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Height != entries[j].Height {
			return entries[i].Height < entries[j].Height
		}
		return bytes.Compare(entries[i].Txid[:], entries[j].Txid[:]) < 0
	})
	return entries
}

// GetMempool returns the mempool history, ordered by (has_unconfirmed_parent,
// txid): entries with only confirmed parents (height 0) sort before entries
// with an unconfirmed parent (height -1).
func (s *Status) GetMempool() []btcdomain.HistoryEntry {
	entries := append([]btcdomain.HistoryEntry(nil), s.mempool...)
	sort.Slice(entries, func(i, j int) bool {
		iUnconfirmed := entries[i].Height < 0
		jUnconfirmed := entries[j].Height < 0
		if iUnconfirmed != jUnconfirmed {
			return !iUnconfirmed
		}
		return bytes.Compare(entries[i].Txid[:], entries[j].Txid[:]) < 0
	})
	return entries
}

// GetUnspent returns the set of outpoints funding this script that have not
// been observed spent, restricted to heights still on ch's active chain (a
// reorg may have invalidated a funding record this Status hasn't re-synced
// since).
func (s *Status) GetUnspent(ch *chain.Chain) []wire.OutPoint {
	tipHeight, hasTip := ch.TipHeight()

	out := make([]wire.OutPoint, 0, len(s.fundingHeight))
	for op, height := range s.fundingHeight {
		if s.spent[op] {
			continue
		}
		if hasTip && uint32(height) > tipHeight {
			continue
		}
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hash != out[j].Hash {
			return bytes.Compare(out[i].Hash[:], out[j].Hash[:]) < 0
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// StatusHash returns the current 32-byte status digest, or nil if this
// script has no history at all.
func (s *Status) StatusHash() []byte {
	return s.hash
}

func (s *Status) recomputeHash() {
	combined := append(s.GetConfirmed(), s.GetMempool()...)
	if len(combined) == 0 {
		s.hash = nil
		return
	}
	h := sha256.New()
	for _, e := range combined {
		fmt.Fprintf(h, "%s:%d:\n", e.Txid.String(), e.Height)
	}
	s.hash = h.Sum(nil)
}
