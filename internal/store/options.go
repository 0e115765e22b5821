package store

import (
	"runtime"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
)

// targetFileSize and writeBufferSize follow the same generous SST and
// memtable sizing as the daemon's own RocksDB tuning: 256 MiB each.
const (
	targetFileSize  = 256 << 20
	writeBufferSize = 256 << 20
	maxOpenFiles    = 16
)

// namespaceComparer wraps pebble's default byte-order comparer with a Split
// function that exposes an 8-byte prefix (after the 1-byte family tag) to
// pebble's block/table bloom filters, giving every family efficient
// prefix-seek — the pebble analogue of RocksDB's fixed-length prefix
// extractor.
var namespaceComparer = func() *pebble.Comparer {
	c := *pebble.DefaultComparer
	c.Name = "electrumindexer.namespace-prefix.v1"
	c.Split = func(key []byte) int {
		if len(key) >= 1+8 {
			return 1 + 8
		}
		return len(key)
	}
	return &c
}()

// buildOptions returns the pebble.Options for the given lifecycle phase.
// bulk controls whether the store is still in its initial bulk-load phase
// (auto-compactions disabled, WAL disabled) or in steady state (both
// enabled). Because pebble only reads Options at Open time, transitioning
// between phases requires closing and reopening the database with a fresh
// Options value — see Store.transitionToSteady.
func buildOptions(lowMemory bool, bulk bool) *pebble.Options {
	opts := &pebble.Options{
		Comparer:                    namespaceComparer,
		MaxOpenFiles:                maxOpenFiles,
		MemTableSize:                writeBufferSize,
		DisableAutomaticCompactions: bulk,
		DisableWAL:                  bulk,
	}

	lvl := pebble.LevelOptions{
		Compression:    pebble.ZstdCompression,
		TargetFileSize: targetFileSize,
		FilterPolicy:   bloom.FilterPolicy(10),
	}
	opts.Levels = append(opts.Levels, lvl)

	if !lowMemory {
		cpus := runtime.GOMAXPROCS(0)
		opts.MaxConcurrentCompactions = func() int {
			if cpus > 4 {
				return 3
			}
			return 2
		}
	} else {
		opts.MaxConcurrentCompactions = func() int { return 1 }
	}

	return opts
}
