package rowcodec

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func TestHeaderRowRoundTrip(t *testing.T) {
	var hdr [HeaderLen]byte
	for i := range hdr {
		hdr[i] = byte(i)
	}
	row := HeaderRow(hdr, 42)
	if len(row) != HeaderLen+HeightLen {
		t.Fatalf("row len = %d, want %d", len(row), HeaderLen+HeightLen)
	}
	gotHdr, gotHeight, ok := ParseHeaderRow(row)
	if !ok {
		t.Fatal("ParseHeaderRow: ok = false")
	}
	if gotHdr != hdr {
		t.Fatalf("header mismatch")
	}
	if gotHeight != 42 {
		t.Fatalf("height = %d, want 42", gotHeight)
	}
}

func TestParseHeaderRowRejectsTipKey(t *testing.T) {
	if _, _, ok := ParseHeaderRow(TipKey); ok {
		t.Fatal("TipKey must not parse as a data row")
	}
}

func TestTxidRowHeightOrdering(t *testing.T) {
	var txid chainhash.Hash
	copy(txid[:], bytes.Repeat([]byte{0xAB}, 32))

	low := TxidRow(txid, 1)
	high := TxidRow(txid, 2)
	if bytes.Compare(low, high) >= 0 {
		t.Fatalf("rows with the same prefix must sort by ascending height")
	}
	if RowHeight(low) != 1 || RowHeight(high) != 2 {
		t.Fatalf("RowHeight mismatch")
	}
}

func TestScriptHashDeterministic(t *testing.T) {
	script := []byte{0x76, 0xa9, 0x14}
	a := ScriptHash(script)
	b := ScriptHash(script)
	if a != b {
		t.Fatal("ScriptHash must be deterministic")
	}
}

func TestOutpointHashDistinguishesVout(t *testing.T) {
	var txid chainhash.Hash
	copy(txid[:], bytes.Repeat([]byte{0x01}, 32))
	h0 := OutpointHash(wire.OutPoint{Hash: txid, Index: 0})
	h1 := OutpointHash(wire.OutPoint{Hash: txid, Index: 1})
	if h0 == h1 {
		t.Fatal("different vouts must hash differently")
	}
}
