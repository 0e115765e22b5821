// Package indexer drives the sync loop that walks the daemon's block chain
// and maintains the five-family index described by internal/store: headers
// for the chain itself, txid/funding/spending for the history lookups the
// status tracker needs.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"

	"electrumindexer/internal/btcdomain"
	"electrumindexer/internal/chain"
	"electrumindexer/internal/metrics"
	"electrumindexer/internal/rowcodec"
	"electrumindexer/internal/store"
	"electrumindexer/internal/upstream/p2p"
	"electrumindexer/internal/upstream/rpc"
)

// flushEvery bounds how many blocks accumulate in one WriteBatch before
// being flushed to the store, keeping a crash mid-sync from losing more
// than one batch's worth of progress.
const flushEvery = 2000

// Index owns the mutable chain view and drives it forward from the daemon.
// It is the single writer; internal/status reads through it concurrently.
type Index struct {
	store   *store.Store
	chain   *chain.Chain
	params  *chaincfg.Params
	metrics *metrics.Metrics
	log     *logrus.Logger
}

// Load rebuilds an Index's in-memory chain view from s.
func Load(s *store.Store, params *chaincfg.Params, m *metrics.Metrics, log *logrus.Logger) (*Index, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c, err := chain.Load(s)
	if err != nil {
		return nil, fmt.Errorf("indexer: load: %w", err)
	}
	return &Index{store: s, chain: c, params: params, metrics: m, log: log}, nil
}

// Chain exposes the underlying chain view for read-only callers (tracker,
// status).
func (idx *Index) Chain() *chain.Chain {
	return idx.chain
}

// buildLocator returns an exponentially spaced set of chain hashes used to
// ask a peer for headers: the most recent ten heights, then doubling steps
// back toward genesis. This mirrors the standard Bitcoin getheaders locator
// so the peer can find the common ancestor in a handful of round trips even
// after a deep reorg.
func (idx *Index) buildLocator() []chainhash.Hash {
	tip, ok := idx.chain.TipHeight()
	if !ok {
		return nil
	}

	var locator []chainhash.Hash
	step := uint32(1)
	height := tip
	for {
		if h, ok := idx.chain.At(height); ok {
			locator = append(locator, h)
		}
		if height == 0 {
			break
		}
		if len(locator) >= 10 {
			step *= 2
		}
		if height < step {
			height = 0
		} else {
			height -= step
		}
	}
	return locator
}

// Sync advances the index toward the daemon's current best block, handling
// any reorg encountered along the way. It returns once the index has caught
// up to the daemon's tip at the time Sync was called (the caller's poll
// loop is responsible for calling Sync again to pick up further blocks).
func (idx *Index) Sync(ctx context.Context, p2pClient p2p.Client, rpcClient rpc.Client) error {
	best, err := rpcClient.BestBlockHash(ctx)
	if err != nil {
		idx.metrics.SyncError()
		return fmt.Errorf("indexer: best block hash: %w", err)
	}

	if tip, ok := idx.chain.TipHash(); ok && tip == best {
		return nil
	}

	for {
		locator := idx.buildLocator()
		headers, err := p2pClient.GetHeaders(ctx, locator, chainhash.Hash{})
		if err != nil {
			idx.metrics.SyncError()
			return fmt.Errorf("indexer: get headers: %w", err)
		}
		if len(headers) == 0 {
			return nil
		}

		if err := idx.applyHeaders(ctx, p2pClient, headers); err != nil {
			idx.metrics.SyncError()
			return err
		}

		if tip, ok := idx.chain.TipHash(); ok && tip == best {
			return idx.store.Flush()
		}
	}
}

// applyHeaders processes a contiguous run of headers returned by a single
// getheaders response, detecting and resolving a reorg at the first header
// whose parent doesn't match the chain's current tip.
func (idx *Index) applyHeaders(ctx context.Context, p2pClient p2p.Client, headers []wire.BlockHeader) error {
	batch := store.NewWriteBatch()
	staged := 0

	for _, hdr := range headers {
		tipHash, hasTip := idx.chain.TipHash()

		if hasTip && hdr.PrevBlock != tipHash {
			forkHeight, ok := idx.chain.HeightOf(hdr.PrevBlock)
			if !ok {
				return fmt.Errorf("%w: header's parent %s not found in the current chain", store.ErrStorageCorrupt, hdr.PrevBlock)
			}
			if err := idx.rewind(batch, forkHeight+1); err != nil {
				return err
			}
			idx.metrics.ReorgDetected()
			idx.log.WithFields(logrus.Fields{"fork_height": forkHeight}).Warn("indexer: reorg detected, rewinding")
		}

		height := idx.chain.Len()

		blockHash := hdr.BlockHash()
		block, err := p2pClient.GetBlock(ctx, blockHash)
		if err != nil {
			return fmt.Errorf("indexer: get block %s: %w", blockHash, err)
		}

		if err := idx.indexBlock(batch, &hdr, block, height); err != nil {
			return err
		}
		if err := idx.chain.Append(height, blockHash); err != nil {
			return fmt.Errorf("indexer: append height %d: %w", height, err)
		}

		staged++
		if staged >= flushEvery {
			if err := idx.writeBatch(batch); err != nil {
				return fmt.Errorf("indexer: write batch: %w", err)
			}
			batch = store.NewWriteBatch()
			staged = 0
		}
	}

	if batch.Len() > 0 {
		if err := idx.writeBatch(batch); err != nil {
			return fmt.Errorf("indexer: write final batch: %w", err)
		}
	}
	return nil
}

// writeBatch sorts and commits batch, recording its wall-clock latency.
func (idx *Index) writeBatch(batch *store.WriteBatch) error {
	batch.Sort()
	start := time.Now()
	err := idx.store.Write(batch)
	idx.metrics.ObserveBatchWrite(time.Since(start).Seconds())
	return err
}

// rewind stages the point deletes needed to drop every row at or above
// fromHeight from every data family, and truncates the in-memory chain to
// match. Every family sorts primarily by content hash (header bytes, or a
// script/txid/outpoint prefix) and only secondarily by height, so the rows
// to remove are scattered across each family's keyspace rather than
// confined to one contiguous range, so this performs a full-family scan,
// filtering on the trailing height field as it goes — the same approach
// internal/chain.Load uses to rebuild its view on startup.
func (idx *Index) rewind(batch *store.WriteBatch, fromHeight uint32) error {
	headerIt, err := idx.store.IterPrefix(store.FamilyHeaders, nil)
	if err != nil {
		return fmt.Errorf("indexer: rewind: scan headers: %w", err)
	}
	if err := headerIt.Each(func(key []byte) error {
		_, height, ok := rowcodec.ParseHeaderRow(key)
		if !ok {
			return nil // tip singleton, not a height-bearing row
		}
		if height >= fromHeight {
			batch.Delete(store.FamilyHeaders, key)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("indexer: rewind: scan headers: %w", err)
	}

	for _, f := range []store.Family{store.FamilyTxid, store.FamilyFunding, store.FamilySpending} {
		it, err := idx.store.IterPrefix(f, nil)
		if err != nil {
			return fmt.Errorf("indexer: rewind: scan %s: %w", f, err)
		}
		if err := it.Each(func(key []byte) error {
			if rowcodec.RowHeight(key) >= fromHeight {
				batch.Delete(f, key)
			}
			return nil
		}); err != nil {
			return fmt.Errorf("indexer: rewind: scan %s: %w", f, err)
		}
	}

	idx.chain.Truncate(fromHeight)
	return nil
}

// indexBlock stages every row a confirmed block contributes: its header,
// one txid row per transaction, one funding row per output script, and one
// spending row per non-coinbase input's previous outpoint.
func (idx *Index) indexBlock(batch *store.WriteBatch, hdr *wire.BlockHeader, block *wire.MsgBlock, height uint32) error {
	headerBytes, err := btcdomain.HeaderBytes(hdr)
	if err != nil {
		return fmt.Errorf("indexer: serialize header at height %d: %w", height, err)
	}

	batch.Put(store.FamilyHeaders, rowcodec.HeaderRow(headerBytes, height))

	for _, tx := range block.Transactions {
		txid := tx.TxHash()
		batch.Put(store.FamilyTxid, rowcodec.TxidRow(txid, height))

		for _, out := range tx.TxOut {
			sh := rowcodec.ScriptHash(out.PkScript)
			batch.Put(store.FamilyFunding, rowcodec.FundingRow(sh, height))
		}

		for _, in := range tx.TxIn {
			if in.PreviousOutPoint.Hash == (chainhash.Hash{}) {
				continue // coinbase input: no real outpoint to index
			}
			oh := rowcodec.OutpointHash(in.PreviousOutPoint)
			batch.Put(store.FamilySpending, rowcodec.SpendingRow(oh, height))
		}
	}

	batch.SetTip(headerBytes[:])

	idx.metrics.BlockIndexed(height)
	idx.metrics.TxsIndexed(len(block.Transactions))
	return nil
}

// FilterByTxid returns the lowest height with a candidate row under the
// txid's 8-byte prefix. The index stores only prefixes, so another txid
// sharing those 8 bytes yields a false match; no block is fetched here to
// rule that out.
func (idx *Index) FilterByTxid(txid chainhash.Hash) (height uint32, found bool, err error) {
	it, err := idx.store.IterPrefix(store.FamilyTxid, txid[:rowcodec.PrefixLen])
	if err != nil {
		return 0, false, fmt.Errorf("indexer: filter by txid: %w", err)
	}
	err = it.Each(func(key []byte) error {
		if !found {
			found = true
			height = rowcodec.RowHeight(key)
		}
		return nil
	})
	return height, found, err
}

// FilterByScriptHash returns every height at which scriptHash has a
// candidate funding row. Callers must re-fetch the block at each returned
// height and verify the exact 32-byte script hash before trusting a match.
func (idx *Index) FilterByScriptHash(scriptHash [32]byte) ([]uint32, error) {
	return idx.scanPrefixHeights(store.FamilyFunding, scriptHash[:rowcodec.PrefixLen])
}

// FilterBySpentOutpoint returns every height at which outpointHash has a
// candidate spending row, for resolving which transaction spent a
// previously funded output.
func (idx *Index) FilterBySpentOutpoint(outpointHash [32]byte) ([]uint32, error) {
	return idx.scanPrefixHeights(store.FamilySpending, outpointHash[:rowcodec.PrefixLen])
}

func (idx *Index) scanPrefixHeights(family store.Family, prefix []byte) ([]uint32, error) {
	it, err := idx.store.IterPrefix(family, prefix)
	if err != nil {
		return nil, fmt.Errorf("indexer: scan %s: %w", family, err)
	}
	var heights []uint32
	err = it.Each(func(key []byte) error {
		heights = append(heights, rowcodec.RowHeight(key))
		return nil
	})
	return heights, err
}
