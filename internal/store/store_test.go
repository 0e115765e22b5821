package store

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(new(bytes.Buffer))
	return l
}

func openTemp(t *testing.T) *Store {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "idx")
	s, err := Open(dir, false, discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenEmptyStartsInBulkState(t *testing.T) {
	s := openTemp(t)
	if !s.Bulk() {
		t.Fatal("a freshly created store must start in bulk-load state")
	}
	if _, ok, err := s.GetTip(); err != nil || ok {
		t.Fatalf("GetTip on empty store: ok=%v err=%v, want ok=false", ok, err)
	}
}

func TestWriteAndReadTip(t *testing.T) {
	s := openTemp(t)

	hdr := bytes.Repeat([]byte{0x11}, 80)
	if err := s.SetTip(hdr); err != nil {
		t.Fatalf("SetTip: %v", err)
	}

	got, ok, err := s.GetTip()
	if err != nil || !ok {
		t.Fatalf("GetTip: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, hdr) {
		t.Fatalf("tip mismatch")
	}
}

func TestWriteBatchPrefixScan(t *testing.T) {
	s := openTemp(t)

	b := NewWriteBatch()
	b.Put(FamilyTxid, []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0x00, 0x00, 0x00, 0x01})
	b.Put(FamilyTxid, []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0x00, 0x00, 0x00, 0x02})
	b.Put(FamilyTxid, []byte{0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0x00, 0x00, 0x00, 0x01})
	b.Sort()
	if err := s.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	it, err := s.IterPrefix(FamilyTxid, []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA})
	if err != nil {
		t.Fatalf("IterPrefix: %v", err)
	}
	var rows [][]byte
	if err := it.Each(func(key []byte) error {
		rows = append(rows, append([]byte(nil), key...))
		return nil
	}); err != nil {
		t.Fatalf("Each: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (the 0xBB row must not match the 0xAA prefix)", len(rows))
	}
}

func TestDeleteRangeDropsRowsAtOrAboveFork(t *testing.T) {
	s := openTemp(t)

	b := NewWriteBatch()
	prefix := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	b.Put(FamilyFunding, append(append([]byte{}, prefix...), 0x00, 0x00, 0x00, 0x05))
	b.Put(FamilyFunding, append(append([]byte{}, prefix...), 0x00, 0x00, 0x00, 0x10))
	b.Sort()
	if err := s.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	del := NewWriteBatch()
	from := append(append([]byte{}, prefix...), 0x00, 0x00, 0x00, 0x08)
	to := bytes.Repeat([]byte{0xFF}, 12) // bare upper bound within this family's keyspace
	del.DeleteRange(FamilyFunding, from, to)
	if err := s.Write(del); err != nil {
		t.Fatalf("Write delete: %v", err)
	}

	it, err := s.IterPrefix(FamilyFunding, prefix)
	if err != nil {
		t.Fatalf("IterPrefix: %v", err)
	}
	var rows int
	if err := it.Each(func(key []byte) error { rows++; return nil }); err != nil {
		t.Fatalf("Each: %v", err)
	}
	if rows != 1 {
		t.Fatalf("got %d surviving rows, want 1 (height 0x10 must be deleted)", rows)
	}
}

func TestFlushTransitionsOutOfBulkState(t *testing.T) {
	s := openTemp(t)

	b := NewWriteBatch()
	b.Put(FamilyHeaders, bytes.Repeat([]byte{0x01}, 84))
	if err := s.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if s.Bulk() {
		t.Fatal("Flush must transition the store out of bulk-load state")
	}

	cfg, found, err := s.readConfig()
	if err != nil || !found {
		t.Fatalf("readConfig: found=%v err=%v", found, err)
	}
	if !cfg.Compacted {
		t.Fatal("config row must record compacted=true after Flush")
	}
}

func TestReopenAfterCompactionStaysInSteadyState(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	log := discardLogger()

	s, err := Open(dir, false, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir, false, log)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if s2.Bulk() {
		t.Fatal("reopening a compacted store must start in steady state")
	}
}

func TestConfigRowIsJSON(t *testing.T) {
	s := openTemp(t)

	val, closer, err := s.db.Get(namespaced(FamilyConfig, []byte("C")))
	if err != nil {
		t.Fatalf("get config row: %v", err)
	}
	defer closer.Close()

	var decoded map[string]interface{}
	if err := json.Unmarshal(val, &decoded); err != nil {
		t.Fatalf("config row is not valid JSON: %v (%q)", err, val)
	}
	if _, ok := decoded["compacted"]; !ok {
		t.Fatal(`config row JSON must have a "compacted" field`)
	}
	if _, ok := decoded["format"]; !ok {
		t.Fatal(`config row JSON must have a "format" field`)
	}
}

func TestOpenRejectsOlderFormat(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	log := discardLogger()

	s, err := Open(dir, false, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.writeConfig(storeConfig{Format: CurrentFormat - 1, Compacted: false}); err != nil {
		t.Fatalf("writeConfig: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err = Open(dir, false, log)
	if err == nil {
		t.Fatal("Open must reject a store written with an older format")
	}
	if !strings.Contains(err.Error(), "re-index") {
		t.Fatalf("Open error = %q, want it to mention re-index", err)
	}
}
