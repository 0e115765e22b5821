package chain

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/sirupsen/logrus"

	"electrumindexer/internal/rowcodec"
	"electrumindexer/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	log := logrus.New()
	log.SetOutput(new(bytes.Buffer))
	s, err := store.Open(filepath.Join(t.TempDir(), "idx"), false, log)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func headerAt(fill byte) [rowcodec.HeaderLen]byte {
	var h [rowcodec.HeaderLen]byte
	for i := range h {
		h[i] = fill
	}
	return h
}

func TestLoadEmptyStore(t *testing.T) {
	s := openTestStore(t)
	c, err := Load(s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", c.Len())
	}
	if _, ok := c.TipHeight(); ok {
		t.Fatal("TipHeight on empty chain must report ok=false")
	}
}

func TestLoadRebuildsFromHeaderRows(t *testing.T) {
	s := openTestStore(t)

	b := store.NewWriteBatch()
	h0 := headerAt(0x00)
	h1 := headerAt(0x01)
	h2 := headerAt(0x02)
	b.Put(store.FamilyHeaders, rowcodec.HeaderRow(h0, 0))
	b.Put(store.FamilyHeaders, rowcodec.HeaderRow(h1, 1))
	b.Put(store.FamilyHeaders, rowcodec.HeaderRow(h2, 2))
	b.SetTip(h2[:])
	b.Sort()
	if err := s.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	c, err := Load(s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
	height, ok := c.TipHeight()
	if !ok || height != 2 {
		t.Fatalf("TipHeight = %d, ok=%v, want 2, true", height, ok)
	}

	want := chainhash.DoubleHashH(h2[:])
	got, ok := c.TipHash()
	if !ok || got != want {
		t.Fatalf("TipHash mismatch")
	}
}

func TestLoadRejectsMissingTip(t *testing.T) {
	s := openTestStore(t)

	b := store.NewWriteBatch()
	b.Put(store.FamilyHeaders, rowcodec.HeaderRow(headerAt(0x00), 0))
	b.Sort()
	if err := s.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := Load(s); err == nil {
		t.Fatal("Load must fail when the tip singleton is absent but headers exist")
	}
}

func TestLoadRejectsTipMismatch(t *testing.T) {
	s := openTestStore(t)

	b := store.NewWriteBatch()
	h0 := headerAt(0x00)
	h1 := headerAt(0x01)
	b.Put(store.FamilyHeaders, rowcodec.HeaderRow(h0, 0))
	b.Put(store.FamilyHeaders, rowcodec.HeaderRow(h1, 1))
	b.SetTip(h0[:]) // wrong: should be h1, the max-height header
	b.Sort()
	if err := s.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := Load(s); err == nil {
		t.Fatal("Load must fail when the tip singleton does not match the max-height header")
	}
}

func TestAppendRejectsNonSequentialHeight(t *testing.T) {
	c := &Chain{}
	if err := c.Append(0, chainhash.Hash{}); err != nil {
		t.Fatalf("Append(0): %v", err)
	}
	if err := c.Append(5, chainhash.Hash{}); err == nil {
		t.Fatal("Append must reject a height that isn't exactly the current length")
	}
}

func TestTruncateRewindsChain(t *testing.T) {
	c := &Chain{}
	for i := uint32(0); i < 5; i++ {
		var h chainhash.Hash
		h[0] = byte(i)
		if err := c.Append(i, h); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	c.Truncate(3)
	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 after Truncate(3)", c.Len())
	}
	if _, ok := c.At(3); ok {
		t.Fatal("height 3 must no longer be present after Truncate(3)")
	}
	if h, ok := c.At(2); !ok || h[0] != 2 {
		t.Fatal("heights below the truncation point must survive")
	}
}

func TestHeightOfTracksTruncation(t *testing.T) {
	c := &Chain{}
	var h0, h1 chainhash.Hash
	h0[0], h1[0] = 1, 2
	if err := c.Append(0, h0); err != nil {
		t.Fatalf("Append(0): %v", err)
	}
	if err := c.Append(1, h1); err != nil {
		t.Fatalf("Append(1): %v", err)
	}
	if height, ok := c.HeightOf(h1); !ok || height != 1 {
		t.Fatalf("HeightOf(h1) = %d, ok=%v, want 1, true", height, ok)
	}
	c.Truncate(1)
	if _, ok := c.HeightOf(h1); ok {
		t.Fatal("HeightOf must forget a hash dropped by Truncate")
	}
	if height, ok := c.HeightOf(h0); !ok || height != 0 {
		t.Fatal("HeightOf must still resolve a surviving hash")
	}
}
