package rpc

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Fake is an in-memory Client for tests in internal/mempool, internal/status
// and internal/indexer that need a daemon double without a live bitcoind.
type Fake struct {
	mu      sync.Mutex
	best    chainhash.Hash
	height  int64
	mempool map[chainhash.Hash]int64 // txid -> fee (satoshis)
	txs     map[chainhash.Hash]*wire.MsgTx
	Sent    []*wire.MsgTx
}

// NewFake returns an empty Fake ready for a test to populate.
func NewFake() *Fake {
	return &Fake{
		mempool: make(map[chainhash.Hash]int64),
		txs:     make(map[chainhash.Hash]*wire.MsgTx),
	}
}

// SetTip sets the value BestBlockHash/BlockCount will report.
func (f *Fake) SetTip(hash chainhash.Hash, height int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.best, f.height = hash, height
}

// AddMempoolTx registers tx in the mempool view with the given fee.
func (f *Fake) AddMempoolTx(tx *wire.MsgTx, fee int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	txid := tx.TxHash()
	f.mempool[txid] = fee
	f.txs[txid] = tx
}

// AddTx registers tx as fetchable by GetRawTransaction without adding it to
// the mempool view (e.g. a confirmed transaction).
func (f *Fake) AddTx(tx *wire.MsgTx) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[tx.TxHash()] = tx
}

func (f *Fake) BestBlockHash(ctx context.Context) (chainhash.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.best, nil
}

func (f *Fake) BlockCount(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *Fake) RawMempool(ctx context.Context) ([]chainhash.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]chainhash.Hash, 0, len(f.mempool))
	for txid := range f.mempool {
		out = append(out, txid)
	}
	return out, nil
}

func (f *Fake) MempoolEntryFee(ctx context.Context, txid chainhash.Hash) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mempool[txid], nil
}

func (f *Fake) GetRawTransaction(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[txid]
	if !ok {
		return nil, errFakeNotFound{txid}
	}
	return tx, nil
}

func (f *Fake) SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, tx)
	return tx.TxHash(), nil
}

func (f *Fake) Close() {}

type errFakeNotFound struct{ txid chainhash.Hash }

func (e errFakeNotFound) Error() string {
	return "rpc: no such transaction " + e.txid.String()
}
