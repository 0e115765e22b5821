package indexer

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"

	"electrumindexer/internal/store"
	"electrumindexer/internal/upstream/p2p"
	"electrumindexer/internal/upstream/rpc"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(new(bytes.Buffer))
	return l
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "idx"), false, discardLogger())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// buildChain returns n linked headers (genesis first) and one coinbase-only
// block per header, each block's coinbase paying a distinct script so
// tests can tell blocks apart via FilterByScriptHash. seed perturbs the
// nonce so chains built with different seeds diverge in hash.
func buildChain(n int, seed uint32) ([]wire.BlockHeader, []*wire.MsgBlock) {
	headers := make([]wire.BlockHeader, n)
	blocks := make([]*wire.MsgBlock, n)

	var prev chainhash.Hash
	for i := 0; i < n; i++ {
		tx := wire.NewMsgTx(wire.TxVersion)
		tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 0xFFFFFFFF}})
		script := []byte{byte(seed), byte(i), 0xAC}
		tx.AddTxOut(wire.NewTxOut(5000000000, script))

		blk := &wire.MsgBlock{
			Header: wire.BlockHeader{
				Version:   1,
				PrevBlock: prev,
				Timestamp: time.Unix(int64(1700000000+i), 0),
				Bits:      0x1d00ffff,
				Nonce:     seed*1000 + uint32(i),
			},
			Transactions: []*wire.MsgTx{tx},
		}
		blk.Header.MerkleRoot = blk.Transactions[0].TxHash()

		headers[i] = blk.Header
		blocks[i] = blk
		prev = blk.Header.BlockHash()
	}
	return headers, blocks
}

func openTestIndex(t *testing.T, s *store.Store) *Index {
	t.Helper()
	idx, err := Load(s, &chaincfg.MainNetParams, nil, discardLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return idx
}

func TestSyncIndexesLinearChain(t *testing.T) {
	s := openTestStore(t)
	idx := openTestIndex(t, s)

	headers, blocks := buildChain(5, 1)
	fakeP2P := p2p.NewFake()
	fakeP2P.SetChain(headers, blocks)
	fakeRPC := rpc.NewFake()
	fakeRPC.SetTip(headers[len(headers)-1].BlockHash(), int64(len(headers)-1))

	if err := idx.Sync(context.Background(), fakeP2P, fakeRPC); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	height, ok := idx.Chain().TipHeight()
	if !ok || height != 4 {
		t.Fatalf("TipHeight = %d, ok=%v, want 4, true", height, ok)
	}
	tipHash, _ := idx.Chain().TipHash()
	if tipHash != headers[4].BlockHash() {
		t.Fatal("tip hash mismatch after linear sync")
	}

	txHeight, found, err := idx.FilterByTxid(blocks[0].Transactions[0].TxHash())
	if err != nil {
		t.Fatalf("FilterByTxid: %v", err)
	}
	if !found || txHeight != 0 {
		t.Fatalf("FilterByTxid(genesis tx) = height %d, found %v, want 0, true", txHeight, found)
	}
}

func TestSyncIsIdempotentAtTip(t *testing.T) {
	s := openTestStore(t)
	idx := openTestIndex(t, s)

	headers, blocks := buildChain(3, 1)
	fakeP2P := p2p.NewFake()
	fakeP2P.SetChain(headers, blocks)
	fakeRPC := rpc.NewFake()
	fakeRPC.SetTip(headers[len(headers)-1].BlockHash(), int64(len(headers)-1))

	if err := idx.Sync(context.Background(), fakeP2P, fakeRPC); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	if err := idx.Sync(context.Background(), fakeP2P, fakeRPC); err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	height, _ := idx.Chain().TipHeight()
	if height != 2 {
		t.Fatalf("TipHeight = %d after repeated Sync at tip, want 2", height)
	}
}

func TestSyncHandlesReorg(t *testing.T) {
	s := openTestStore(t)
	idx := openTestIndex(t, s)

	chainA, blocksA := buildChain(6, 1) // heights 0..5
	fakeP2P := p2p.NewFake()
	fakeP2P.SetChain(chainA, blocksA)
	fakeRPC := rpc.NewFake()
	fakeRPC.SetTip(chainA[5].BlockHash(), 5)

	if err := idx.Sync(context.Background(), fakeP2P, fakeRPC); err != nil {
		t.Fatalf("Sync chain A: %v", err)
	}
	if height, _ := idx.Chain().TipHeight(); height != 5 {
		t.Fatalf("TipHeight = %d after chain A, want 5", height)
	}

	// Chain B shares heights 0..3 with A, then diverges with alternate
	// blocks at heights 4..6.
	chainB := make([]wire.BlockHeader, 7)
	blocksB := make([]*wire.MsgBlock, 7)
	copy(chainB[:4], chainA[:4])
	copy(blocksB[:4], blocksA[:4])
	tailHeaders, tailBlocks := buildChain(3, 2)
	for i, h := range tailHeaders {
		h.PrevBlock = chainB[3+i].BlockHash()
		blk := tailBlocks[i]
		blk.Header.PrevBlock = h.PrevBlock
		chainB[4+i] = blk.Header
		blocksB[4+i] = blk
	}

	fakeP2P.SetChain(chainB, blocksB)
	fakeRPC.SetTip(chainB[6].BlockHash(), 6)

	if err := idx.Sync(context.Background(), fakeP2P, fakeRPC); err != nil {
		t.Fatalf("Sync chain B: %v", err)
	}

	height, ok := idx.Chain().TipHeight()
	if !ok || height != 6 {
		t.Fatalf("TipHeight = %d, ok=%v after reorg, want 6, true", height, ok)
	}
	tipHash, _ := idx.Chain().TipHash()
	if tipHash != chainB[6].BlockHash() {
		t.Fatal("tip hash must match chain B after reorg")
	}

	// Chain A's height-4 transaction must no longer resolve.
	_, foundA, err := idx.FilterByTxid(blocksA[4].Transactions[0].TxHash())
	if err != nil {
		t.Fatalf("FilterByTxid: %v", err)
	}
	if foundA {
		t.Fatal("chain A's height-4 transaction must be gone after the reorg")
	}

	_, foundB, err := idx.FilterByTxid(blocksB[4].Transactions[0].TxHash())
	if err != nil {
		t.Fatalf("FilterByTxid: %v", err)
	}
	if !foundB {
		t.Fatal("chain B's height-4 transaction must be present after the reorg")
	}
}
