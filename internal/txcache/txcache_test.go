package txcache

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func TestUnboundedPutGetRemove(t *testing.T) {
	c := New()
	var txid chainhash.Hash
	txid[0] = 0x01
	tx := wire.NewMsgTx(1)

	if _, ok := c.Get(txid); ok {
		t.Fatal("Get on empty cache must miss")
	}
	c.Put(txid, tx)
	got, ok := c.Get(txid)
	if !ok || got != tx {
		t.Fatal("Get after Put must return the same transaction")
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	c.Remove(txid)
	if _, ok := c.Get(txid); ok {
		t.Fatal("Get after Remove must miss")
	}
}

func TestBoundedEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewBounded(2)
	if err != nil {
		t.Fatalf("NewBounded: %v", err)
	}

	var a, b, d chainhash.Hash
	a[0], b[0], d[0] = 1, 2, 3
	tx := wire.NewMsgTx(1)

	c.Put(a, tx)
	c.Put(b, tx)
	c.Get(a) // touch a, making b the least recently used
	c.Put(d, tx)

	if _, ok := c.Get(b); ok {
		t.Fatal("b should have been evicted as the least recently used entry")
	}
	if _, ok := c.Get(a); !ok {
		t.Fatal("a was touched and must survive")
	}
	if _, ok := c.Get(d); !ok {
		t.Fatal("d was just inserted and must be present")
	}
}
