package mempool

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/wire"

	"electrumindexer/internal/rowcodec"
	"electrumindexer/internal/upstream/rpc"
)

func txWithScript(script []byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(1000, script))
	return tx
}

func TestSyncAndFilterByScriptHash(t *testing.T) {
	fake := rpc.NewFake()
	script := []byte{0x76, 0xa9, 0x14, 0x01}
	tx := txWithScript(script)
	fake.AddMempoolTx(tx, 500)

	m := New()
	if err := m.Sync(context.Background(), fake); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}

	sh := rowcodec.ScriptHash(script)
	got := m.FilterByScriptHash(sh)
	if len(got) != 1 || got[0].Tx.TxHash() != tx.TxHash() {
		t.Fatalf("FilterByScriptHash returned %d entries, want the tx we synced", len(got))
	}

	other := rowcodec.ScriptHash([]byte{0xff})
	if got := m.FilterByScriptHash(other); len(got) != 0 {
		t.Fatalf("FilterByScriptHash for an unrelated script returned %d entries, want 0", len(got))
	}
}

func TestSyncDropsEvictedTransactions(t *testing.T) {
	fake := rpc.NewFake()
	tx := txWithScript([]byte{0x51})
	fake.AddMempoolTx(tx, 100)

	m := New()
	if err := m.Sync(context.Background(), fake); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, ok := m.Get(tx.TxHash()); !ok {
		t.Fatal("tx must be present after first sync")
	}

	// Simulate the transaction confirming and leaving the mempool.
	emptyFake := rpc.NewFake()
	if err := m.Sync(context.Background(), emptyFake); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, ok := m.Get(tx.TxHash()); ok {
		t.Fatal("tx must be dropped once it no longer appears in getrawmempool")
	}
}
