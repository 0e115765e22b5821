// Package rpc talks to the daemon's JSON-RPC interface for the handful of
// operations the wire protocol doesn't cover cleanly: mempool enumeration,
// transaction broadcast, and authoritative best-height polling. It is a
// thin wrapper over btcd's own rpcclient, the companion package to the wire
// types used throughout the rest of the indexer.
package rpc

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// Client is the subset of daemon RPC operations the indexer relies on.
type Client interface {
	BestBlockHash(ctx context.Context) (chainhash.Hash, error)
	BlockCount(ctx context.Context) (int64, error)
	RawMempool(ctx context.Context) ([]chainhash.Hash, error)
	MempoolEntryFee(ctx context.Context, txid chainhash.Hash) (int64, error)
	GetRawTransaction(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error)
	SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error)
	Close()
}

// Config mirrors the connection fields of the indexer's network config
// section.
type Config struct {
	Host         string
	User         string
	Pass         string
	CookieFile   string
	DisableTLS   bool
}

// conn adapts *rpcclient.Client, whose methods already block and don't
// accept a context, to the context-aware Client interface the rest of the
// indexer expects.
type conn struct {
	rc *rpcclient.Client
}

// Dial establishes an HTTP POST JSON-RPC connection (not the websocket
// notification mode) to the daemon described by cfg.
func Dial(cfg Config) (Client, error) {
	rc, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		CookiePath:   cfg.CookieFile,
		HTTPPostMode: true,
		DisableTLS:   cfg.DisableTLS,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", cfg.Host, err)
	}
	return &conn{rc: rc}, nil
}

func (c *conn) BestBlockHash(ctx context.Context) (chainhash.Hash, error) {
	h, err := c.rc.GetBestBlockHash()
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("rpc: getbestblockhash: %w", err)
	}
	return *h, nil
}

func (c *conn) BlockCount(ctx context.Context) (int64, error) {
	n, err := c.rc.GetBlockCount()
	if err != nil {
		return 0, fmt.Errorf("rpc: getblockcount: %w", err)
	}
	return n, nil
}

func (c *conn) RawMempool(ctx context.Context) ([]chainhash.Hash, error) {
	txids, err := c.rc.GetRawMempool()
	if err != nil {
		return nil, fmt.Errorf("rpc: getrawmempool: %w", err)
	}
	out := make([]chainhash.Hash, len(txids))
	for i, h := range txids {
		out[i] = *h
	}
	return out, nil
}

// MempoolEntryFee returns the base fee, in satoshis, of a mempool entry.
func (c *conn) MempoolEntryFee(ctx context.Context, txid chainhash.Hash) (int64, error) {
	entry, err := c.rc.GetMempoolEntry(txid.String())
	if err != nil {
		return 0, fmt.Errorf("rpc: getmempoolentry %s: %w", txid, err)
	}
	return int64(entry.Fee * 1e8), nil
}

func (c *conn) GetRawTransaction(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error) {
	tx, err := c.rc.GetRawTransaction(&txid)
	if err != nil {
		return nil, fmt.Errorf("rpc: getrawtransaction %s: %w", txid, err)
	}
	return tx.MsgTx(), nil
}

func (c *conn) SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	h, err := c.rc.SendRawTransaction(tx, false)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("rpc: sendrawtransaction: %w", err)
	}
	return *h, nil
}

func (c *conn) Close() {
	c.rc.Shutdown()
}
