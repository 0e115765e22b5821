// Package rowcodec builds and parses the fixed-layout binary keys used by
// each index family. Values are always empty — keys carry all information.
// All multi-byte integers are fixed-width big-endian.
package rowcodec

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// PrefixLen is the length, in bytes, of the leading prefix used by the txid,
// funding and spending families. It matches the configured prefix-seek
// length of the underlying store.
const PrefixLen = 8

// HeightLen is the width of the big-endian height suffix shared by every
// family.
const HeightLen = 4

// HeaderLen is the fixed serialized size of a Bitcoin-like block header.
const HeaderLen = 80

// TipKey is the singleton key inside the headers family whose value holds
// the current tip's header bytes. It is distinguishable from data rows by
// length alone (data rows are 84 bytes, this key is 1 byte).
var TipKey = []byte("T")

// ConfigKey is the singleton key inside the config family.
var ConfigKey = []byte("C")

func putHeight(dst []byte, height uint32) {
	binary.BigEndian.PutUint32(dst, height)
}

// HeaderRow builds a `headers` family key: 80-byte header || height (BE u32).
func HeaderRow(header [HeaderLen]byte, height uint32) []byte {
	row := make([]byte, HeaderLen+HeightLen)
	copy(row, header[:])
	putHeight(row[HeaderLen:], height)
	return row
}

// ParseHeaderRow splits an 84-byte headers-family data row back into its
// header bytes and height. It returns false if key is not a data row (e.g.
// it is the TipKey singleton).
func ParseHeaderRow(key []byte) (header [HeaderLen]byte, height uint32, ok bool) {
	if len(key) != HeaderLen+HeightLen {
		return header, 0, false
	}
	copy(header[:], key[:HeaderLen])
	height = binary.BigEndian.Uint32(key[HeaderLen:])
	return header, height, true
}

// TxidRow builds a `txid` family key: txid[0:8] || height (BE u32).
func TxidRow(txid chainhash.Hash, height uint32) []byte {
	row := make([]byte, PrefixLen+HeightLen)
	copy(row, txid[:PrefixLen])
	putHeight(row[PrefixLen:], height)
	return row
}

// FundingRow builds a `funding` family key: scripthash[0:8] || height.
func FundingRow(scriptHash [32]byte, height uint32) []byte {
	row := make([]byte, PrefixLen+HeightLen)
	copy(row, scriptHash[:PrefixLen])
	putHeight(row[PrefixLen:], height)
	return row
}

// SpendingRow builds a `spending` family key: outpointHash[0:8] || height.
func SpendingRow(outpointHash [32]byte, height uint32) []byte {
	row := make([]byte, PrefixLen+HeightLen)
	copy(row, outpointHash[:PrefixLen])
	putHeight(row[PrefixLen:], height)
	return row
}

// RowHeight extracts the big-endian height suffix shared by txid, funding
// and spending family rows. It panics if key is shorter than
// PrefixLen+HeightLen — callers only ever pass rows they (or the store)
// produced.
func RowHeight(key []byte) uint32 {
	if len(key) < PrefixLen+HeightLen {
		panic(fmt.Sprintf("rowcodec: row too short: %d bytes", len(key)))
	}
	return binary.BigEndian.Uint32(key[len(key)-HeightLen:])
}

// ScriptHash is the index's notion of a script's identity: a single
// SHA-256 over the output script bytes. Note this is deliberately a single
// hash, not Bitcoin's usual double-SHA256 — the index only uses it as an
// 8-byte prefix for candidate lookups, re-verified against the full
// transaction afterwards.
func ScriptHash(pkScript []byte) [32]byte {
	return sha256.Sum256(pkScript)
}

// OutpointHash is the index's identity for a spent outpoint: single SHA-256
// over txid || vout (little-endian u32), matching the wire encoding order
// of wire.OutPoint.
func OutpointHash(op wire.OutPoint) [32]byte {
	buf := make([]byte, chainhash.HashSize+4)
	copy(buf, op.Hash[:])
	binary.LittleEndian.PutUint32(buf[chainhash.HashSize:], op.Index)
	return sha256.Sum256(buf)
}
