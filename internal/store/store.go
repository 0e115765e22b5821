// Package store is a column-family-shaped key/value façade over pebble,
// implementing the index's two-phase (bulk/steady) storage lifecycle.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/sirupsen/logrus"

	"electrumindexer/internal/rowcodec"
)

// CurrentFormat is the on-disk layout version this package writes and
// expects to read. Bumping it forces every existing database to be
// re-indexed rather than silently misread.
const CurrentFormat uint64 = 2

// Store wraps a pebble database namespaced into the five logical families
// described by the package doc. Exactly one writer and arbitrarily many
// readers are expected to share a Store; callers are responsible for that
// discipline, mirroring the single sync-loop writer in internal/indexer.
type Store struct {
	db        *pebble.DB
	path      string
	lowMemory bool
	bulk      bool
	log       *logrus.Logger
}

// storeConfig is the config family's singleton value, serialized as JSON
// on disk so it stays a human-inspectable external interface rather than a
// private binary layout.
type storeConfig struct {
	Compacted bool   `json:"compacted"`
	Format    uint64 `json:"format"`
}

func encodeConfig(c storeConfig) []byte {
	buf, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("store: marshal config: %v", err))
	}
	return buf
}

func decodeConfig(buf []byte) (storeConfig, bool) {
	var c storeConfig
	if err := json.Unmarshal(buf, &c); err != nil {
		return storeConfig{}, false
	}
	return c, true
}

// Open opens (or creates) the database at path. If a previously persisted
// config row marks the store as already compacted, it is opened directly in
// steady state; otherwise it opens in bulk-load state and stays there until
// the first Flush compacts every family. A database written by a version of
// this package with a different legacy layout — detected by the first
// on-disk key not carrying a recognized family tag — is rejected with
// ErrFormatMismatch.
func Open(path string, lowMemory bool, log *logrus.Logger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	db, err := pebble.Open(path, buildOptions(lowMemory, true))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	s := &Store{db: db, path: path, lowMemory: lowMemory, bulk: true, log: log}

	if err := s.checkLegacyLayout(); err != nil {
		db.Close()
		return nil, err
	}

	cfg, found, err := s.readConfig()
	if err != nil {
		db.Close()
		return nil, err
	}
	if !found {
		cfg = storeConfig{Format: CurrentFormat, Compacted: false}
		if err := s.writeConfig(cfg); err != nil {
			db.Close()
			return nil, err
		}
	} else if cfg.Format != CurrentFormat {
		db.Close()
		return nil, fmt.Errorf("%w: on-disk format %d, have %d", ErrFormatMismatch, cfg.Format, CurrentFormat)
	}

	if cfg.Compacted {
		if err := s.reopen(false); err != nil {
			return nil, err
		}
		log.WithField("path", path).Info("store: opened in steady state")
	} else {
		log.WithField("path", path).Info("store: opened in bulk-load state")
	}

	return s, nil
}

// checkLegacyLayout rejects a database laid out by something other than
// this package's namespace scheme: any first key whose leading byte isn't
// one of the five known family tags.
func (s *Store) checkLegacyLayout() error {
	it, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer it.Close()

	if !it.First() {
		return nil // empty database, nothing to check
	}
	tag := Family(it.Key()[0])
	for _, f := range allFamilies {
		if f == tag {
			return nil
		}
	}
	return fmt.Errorf("%w: unrecognized namespace tag 0x%02x", ErrFormatMismatch, tag)
}

func (s *Store) readConfig() (storeConfig, bool, error) {
	key := namespaced(FamilyConfig, rowcodec.ConfigKey)
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return storeConfig{}, false, nil
	}
	if err != nil {
		return storeConfig{}, false, err
	}
	defer closer.Close()

	cfg, ok := decodeConfig(val)
	if !ok {
		return storeConfig{}, false, fmt.Errorf("%w: malformed config row", ErrFormatMismatch)
	}
	return cfg, true, nil
}

func (s *Store) writeConfig(cfg storeConfig) error {
	key := namespaced(FamilyConfig, rowcodec.ConfigKey)
	return s.db.Set(key, encodeConfig(cfg), pebble.Sync)
}

// reopen closes the current pebble handle and reopens it with Options for
// the requested lifecycle phase. This is the mechanism by which the store
// crosses the bulk/steady boundary, since pebble.Options are read-only once
// passed to Open.
func (s *Store) reopen(bulk bool) error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close before reopen: %w", err)
	}
	db, err := pebble.Open(s.path, buildOptions(s.lowMemory, bulk))
	if err != nil {
		return fmt.Errorf("store: reopen %s: %w", s.path, err)
	}
	s.db = db
	s.bulk = bulk
	return nil
}

// Bulk reports whether the store is still in its initial bulk-load phase.
func (s *Store) Bulk() bool {
	return s.bulk
}

// Write atomically applies every row staged in batch. Writes are
// unsynced while the store is in bulk-load state and fsynced once it has
// transitioned to steady state.
func (s *Store) Write(batch *WriteBatch) error {
	if batch.Len() == 0 && batch.tip == nil {
		return nil
	}
	pb := s.db.NewBatch()
	defer pb.Close()

	for _, r := range batch.rows {
		key := namespaced(r.family, r.key)
		if r.delete {
			to := namespaced(r.family, r.to)
			if err := pb.DeleteRange(key, to, nil); err != nil {
				return err
			}
			continue
		}
		if err := pb.Set(key, nil, nil); err != nil {
			return err
		}
	}

	if batch.tip != nil {
		if err := pb.Set(namespaced(FamilyHeaders, rowcodec.TipKey), batch.tip, nil); err != nil {
			return err
		}
	}

	opts := pebble.NoSync
	if !s.bulk {
		opts = pebble.Sync
	}
	return s.db.Apply(pb, opts)
}

// IterPrefix returns a PrefixIterator over every row in family whose key
// starts with prefix.
func (s *Store) IterPrefix(family Family, prefix []byte) (*PrefixIterator, error) {
	return newPrefixIterator(s.db, family, prefix)
}

// GetTip returns the 80-byte header bytes last recorded as the chain tip,
// or ok=false if no tip has ever been recorded (header rows written
// without a tip do not count).
func (s *Store) GetTip() (header []byte, ok bool, err error) {
	key := namespaced(FamilyHeaders, rowcodec.TipKey)
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	out := append([]byte(nil), val...)
	return out, true, nil
}

// SetTip records header as the current chain tip. Unlike every other row in
// the headers family, the tip is a singleton and carries an actual value.
func (s *Store) SetTip(header []byte) error {
	key := namespaced(FamilyHeaders, rowcodec.TipKey)
	opts := pebble.NoSync
	if !s.bulk {
		opts = pebble.Sync
	}
	return s.db.Set(key, header, opts)
}

// Flush forces pending memtable contents to disk and, the first time it is
// called on a store not yet marked compacted (whether or not any data has
// been written), performs a full compaction across every family and
// permanently transitions the store out of bulk-load state. Subsequent calls are cheap no-ops beyond the memtable
// flush.
func (s *Store) Flush() error {
	if err := s.db.Flush(); err != nil {
		return fmt.Errorf("store: flush: %w", err)
	}

	cfg, found, err := s.readConfig()
	if err != nil {
		return err
	}
	if found && cfg.Compacted {
		return nil
	}

	for _, f := range allFamilies {
		start := namespaced(f, nil)
		end := []byte{byte(f) + 1}
		if err := s.db.Compact(start, end, true); err != nil {
			return fmt.Errorf("store: compact family %s: %w", f, err)
		}
	}

	if err := s.writeConfig(storeConfig{Format: CurrentFormat, Compacted: true}); err != nil {
		return err
	}

	if s.bulk {
		if err := s.reopen(false); err != nil {
			return err
		}
		s.log.WithField("path", s.path).Info("store: transitioned to steady state")
	}
	return nil
}

// Close releases the underlying pebble handle.
func (s *Store) Close() error {
	return s.db.Close()
}
