// Package btcdomain centralizes the wire-format types shared across the
// indexer's packages, so every package talks in terms of btcd's Bitcoin
// primitives rather than inventing parallel ones.
package btcdomain

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// BlockHash and Txid are both 32-byte double-SHA256 identifiers; aliasing
// them separately documents intent at call sites even though the
// underlying type is identical.
type (
	BlockHash = chainhash.Hash
	Txid      = chainhash.Hash
)

// ScriptHash is the index's single-SHA256 identity for an output script,
// truncated to an 8-byte prefix wherever it is used as a lookup key. See
// internal/rowcodec.ScriptHash for its derivation.
type ScriptHash = [32]byte

// OutPoint identifies a transaction output by its creating txid and index.
type OutPoint = wire.OutPoint

// Block and Transaction are full wire-decoded Bitcoin blocks/transactions.
type (
	Block       = *wire.MsgBlock
	Transaction = *wire.MsgTx
	Header      = wire.BlockHeader
)

// HistoryEntry is one confirmed or mempool appearance of a transaction
// against a subscribed script, matching the shape Electrum clients expect
// from blockchain.scripthash.get_history.
type HistoryEntry struct {
	Txid   Txid
	Height int32 // 0 for unconfirmed with confirmed inputs, -1 for unconfirmed with unconfirmed inputs
	Fee    int64 // only meaningful when Height <= 0
}

// NetworkParams resolves a configured network name to its chain
// parameters. It defaults to mainnet for an unrecognized name.
func NetworkParams(name string) *chaincfg.Params {
	switch name {
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	case "signet":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// HeaderBytes serializes a decoded block header back to its canonical
// 80-byte wire form, the representation stored in the headers family.
func HeaderBytes(h *Header) ([80]byte, error) {
	var out [80]byte
	var buf bytes.Buffer
	buf.Grow(80)
	if err := h.Serialize(&buf); err != nil {
		return out, err
	}
	copy(out[:], buf.Bytes())
	return out, nil
}
