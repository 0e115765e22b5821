// Package tracker composes the index, mempool view, transaction cache and
// upstream daemon collaborators into the single object a server process
// drives: one sync loop plus per-subscription status queries against it.
package tracker

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"electrumindexer/internal/btcdomain"
	"electrumindexer/internal/chain"
	"electrumindexer/internal/indexer"
	"electrumindexer/internal/mempool"
	"electrumindexer/internal/metrics"
	"electrumindexer/internal/status"
	"electrumindexer/internal/store"
	"electrumindexer/internal/txcache"
	"electrumindexer/internal/upstream/p2p"
	"electrumindexer/internal/upstream/rpc"
	"electrumindexer/pkg/config"
)

// dialTimeout bounds the initial P2P handshake and subsequent getheaders
// and getdata round trips.
const dialTimeout = 30 * time.Second

// Tracker owns the connections to a single daemon and the index built from
// it. One sync loop calls Sync; arbitrarily many goroutines may hold
// *status.Status values and call UpdateStatus/GetBalance/GetHistory against
// this Tracker concurrently.
type Tracker struct {
	store     *store.Store
	p2pClient p2p.Client
	rpcClient rpc.Client
	index     *indexer.Index
	mempool   *mempool.Mempool
	txCache   txcache.Cache
	metrics   *metrics.Metrics
	log       *logrus.Logger

	activeSubs atomic.Int64
}

// New connects to the daemon described by cfg, opens the store at cfg's
// configured path, and rebuilds the in-memory chain view from it.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*Tracker, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	params := btcdomain.NetworkParams(cfg.Network.Name)

	p2pClient, err := p2p.Dial(ctx, cfg.Network.DaemonP2PAddr, params, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("tracker: connect p2p: %w", err)
	}

	rpcClient, err := rpc.Dial(rpc.Config{
		Host:       cfg.Network.DaemonRPCAddr,
		User:       cfg.Network.RPCUser,
		Pass:       cfg.Network.RPCPassword,
		CookieFile: cfg.Network.DaemonCookie,
	})
	if err != nil {
		p2pClient.Close()
		return nil, fmt.Errorf("tracker: connect rpc: %w", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	s, err := store.Open(cfg.Storage.DBPath, cfg.Storage.LowMemory, log)
	if err != nil {
		rpcClient.Close()
		p2pClient.Close()
		return nil, fmt.Errorf("tracker: open store: %w", err)
	}

	idx, err := indexer.Load(s, params, m, log)
	if err != nil {
		s.Close()
		rpcClient.Close()
		p2pClient.Close()
		return nil, fmt.Errorf("tracker: load index: %w", err)
	}

	return &Tracker{
		store:     s,
		p2pClient: p2pClient,
		rpcClient: rpcClient,
		index:     idx,
		mempool:   mempool.New(),
		txCache:   txcache.New(),
		metrics:   m,
		log:       log,
	}, nil
}

// Chain exposes the in-memory chain view for callers building locators or
// resolving heights outside of a Status.
func (t *Tracker) Chain() *chain.Chain {
	return t.index.Chain()
}

// Subscribe creates a new Status for scriptHash and performs its first sync,
// matching the Electrum convention that subscribing returns an initial
// status alongside the subscription itself.
func (t *Tracker) Subscribe(ctx context.Context, scriptHash [32]byte) (*status.Status, error) {
	st := status.New(scriptHash)
	if _, err := t.UpdateStatus(ctx, st); err != nil {
		return nil, err
	}
	n := t.activeSubs.Add(1)
	t.metrics.SetActiveSubscriptions(int(n))
	return st, nil
}

// Unsubscribe releases the bookkeeping for a Status returned by Subscribe.
// Callers drop their own reference to st; this only updates the active
// subscription count.
func (t *Tracker) Unsubscribe(st *status.Status) {
	n := t.activeSubs.Add(-1)
	t.metrics.SetActiveSubscriptions(int(n))
}

// Sync advances the index to the daemon's current tip and refreshes the
// mempool view. It is the single entry point the sync loop calls
// repeatedly; UpdateStatus calls should follow each successful Sync.
func (t *Tracker) Sync(ctx context.Context) error {
	if err := t.index.Sync(ctx, t.p2pClient, t.rpcClient); err != nil {
		return fmt.Errorf("tracker: sync index: %w", err)
	}
	if err := t.mempool.Sync(ctx, t.rpcClient); err != nil {
		return fmt.Errorf("tracker: sync mempool: %w", err)
	}
	t.metrics.SetMempoolSize(t.mempool.Len())
	return nil
}

// UpdateStatus recomputes st against the current index and mempool state,
// extends the shared transaction cache with anything newly fetched, and
// reports whether st's status hash changed (the signal an Electrum server
// uses to decide whether to push a notification).
func (t *Tracker) UpdateStatus(ctx context.Context, st *status.Status) (changed bool, err error) {
	prev := st.StatusHash()
	fetched, err := st.Sync(ctx, t.index, t.mempool, t.p2pClient)
	if err != nil {
		return false, fmt.Errorf("tracker: update status: %w", err)
	}
	for txid, tx := range fetched {
		t.txCache.Put(txid, tx)
	}
	return !bytes.Equal(prev, st.StatusHash()), nil
}

// GetBalance sums the satoshi value of st's unspent outpoints, resolving
// each through the shared transaction cache.
func (t *Tracker) GetBalance(st *status.Status) (int64, error) {
	var balance int64
	for _, op := range st.GetUnspent(t.index.Chain()) {
		tx, ok := t.txCache.Get(op.Hash)
		if !ok {
			return 0, fmt.Errorf("tracker: balance: missing cached tx %s for unspent outpoint", op.Hash)
		}
		if int(op.Index) >= len(tx.TxOut) {
			return 0, fmt.Errorf("tracker: balance: outpoint %s:%d out of range", op.Hash, op.Index)
		}
		balance += tx.TxOut[op.Index].Value
	}
	return balance, nil
}

// GetBlockHashByTxid resolves a confirmed txid to the hash of the block it
// first appears in. A BIP-30 duplicate coinbase txid resolves to whichever
// of its two heights the index's candidate scan visits first.
func (t *Tracker) GetBlockHashByTxid(txid chainhash.Hash) (hash chainhash.Hash, found bool, err error) {
	height, found, err := t.index.FilterByTxid(txid)
	if err != nil || !found {
		return chainhash.Hash{}, false, err
	}
	hash, ok := t.index.Chain().At(height)
	return hash, ok, nil
}

// GetCachedTx returns a previously fetched transaction from the shared
// cache, if present.
func (t *Tracker) GetCachedTx(txid chainhash.Hash) (btcdomain.Transaction, bool) {
	return t.txCache.Get(txid)
}

// GetHistory returns st's full history — confirmed entries first, each
// ordered by (height, txid), followed by mempool entries ordered by
// (has_unconfirmed_parent, txid) — the sequence Electrum's
// blockchain.scripthash.get_history reply expects.
func (t *Tracker) GetHistory(st *status.Status) []btcdomain.HistoryEntry {
	confirmed := st.GetConfirmed()
	out := make([]btcdomain.HistoryEntry, 0, len(confirmed)+4)
	out = append(out, confirmed...)
	out = append(out, st.GetMempool()...)
	return out
}

// FeeHistogram exposes the mempool's fee-rate histogram for
// mempool.get_fee_histogram.
func (t *Tracker) FeeHistogram() [][2]int64 {
	return t.mempool.FeeHistogram()
}

// SendRawTransaction broadcasts tx through the daemon RPC connection.
func (t *Tracker) SendRawTransaction(ctx context.Context, tx btcdomain.Transaction) (chainhash.Hash, error) {
	hash, err := t.rpcClient.SendRawTransaction(ctx, tx)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("tracker: broadcast: %w", err)
	}
	return hash, nil
}

// Close releases the store and both daemon connections.
func (t *Tracker) Close() error {
	t.rpcClient.Close()
	p2pErr := t.p2pClient.Close()
	storeErr := t.store.Close()
	if storeErr != nil {
		return storeErr
	}
	return p2pErr
}
