// Package p2p speaks the Bitcoin peer-to-peer wire protocol to a single
// trusted daemon: header/block retrieval and new-block notification,
// nothing more.
package p2p

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Client is the subset of peer-to-peer operations the indexer needs from an
// upstream full node. Implementations must be safe for concurrent use by a
// single sync loop calling these methods sequentially; they are not
// expected to support concurrent callers.
type Client interface {
	// TipHash returns the peer's current best block hash.
	TipHash(ctx context.Context) (chainhash.Hash, error)
	// GetHeaders requests up to 2000 headers starting after locator,
	// oldest first, ending at stopHash (zero for "as many as available").
	GetHeaders(ctx context.Context, locator []chainhash.Hash, stopHash chainhash.Hash) ([]wire.BlockHeader, error)
	// GetBlock fetches one full block by hash.
	GetBlock(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error)
	// Close releases the underlying connection.
	Close() error
}

// Conn is the default Client, a direct TCP connection speaking the wire
// protocol's version/verack handshake followed by getheaders/getdata.
type Conn struct {
	conn    net.Conn
	params  *chaincfg.Params
	pver    uint32
	timeout time.Duration
}

// Dial connects to addr and completes the version handshake.
func Dial(ctx context.Context, addr string, params *chaincfg.Params, timeout time.Duration) (*Conn, error) {
	d := net.Dialer{}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("p2p: dial %s: %w", addr, err)
	}

	c := &Conn{conn: nc, params: params, pver: wire.ProtocolVersion, timeout: timeout}
	if timeout > 0 {
		nc.SetDeadline(time.Now().Add(timeout))
	}
	if err := c.handshake(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("p2p: handshake with %s: %w", addr, err)
	}
	nc.SetDeadline(time.Time{})
	return c, nil
}

func (c *Conn) handshake() error {
	me := wire.NewNetAddress(&net.TCPAddr{IP: net.IPv4zero, Port: 0}, 0)
	you := wire.NewNetAddress(c.conn.RemoteAddr().(*net.TCPAddr), 0)
	nonce, err := wire.RandomUint64()
	if err != nil {
		return err
	}
	version := wire.NewMsgVersion(me, you, nonce, 0)
	version.UserAgent = "/electrumindexer:1.0.0/"
	if err := wire.WriteMessage(c.conn, version, c.pver, c.params.Net); err != nil {
		return err
	}

	sawVersion, sawVerack := false, false
	for !sawVersion || !sawVerack {
		msg, _, err := wire.ReadMessage(c.conn, c.pver, c.params.Net)
		if err != nil {
			return err
		}
		switch msg.(type) {
		case *wire.MsgVersion:
			sawVersion = true
			if err := wire.WriteMessage(c.conn, wire.NewMsgVerAck(), c.pver, c.params.Net); err != nil {
				return err
			}
		case *wire.MsgVerAck:
			sawVerack = true
		}
	}
	return nil
}

// TipHash is unavailable directly over the wire protocol (a peer never
// volunteers its tip outside of inv/headers announcements); callers drive
// chain-tip discovery via rpc.Client.BestBlockHash instead and use this
// link purely for header/block fetch.
func (c *Conn) TipHash(ctx context.Context) (chainhash.Hash, error) {
	return chainhash.Hash{}, fmt.Errorf("p2p: TipHash is not supported over the wire link, use rpc.Client.BestBlockHash")
}

// GetHeaders issues getheaders with the supplied locator and reads back the
// resulting headers message.
func (c *Conn) GetHeaders(ctx context.Context, locator []chainhash.Hash, stopHash chainhash.Hash) ([]wire.BlockHeader, error) {
	msg := wire.NewMsgGetHeaders()
	msg.HashStop = stopHash
	for _, h := range locator {
		if err := msg.AddBlockLocatorHash(&h); err != nil {
			return nil, err
		}
	}
	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
		defer c.conn.SetDeadline(time.Time{})
	}
	if err := wire.WriteMessage(c.conn, msg, c.pver, c.params.Net); err != nil {
		return nil, err
	}

	for {
		reply, _, err := wire.ReadMessage(c.conn, c.pver, c.params.Net)
		if err != nil {
			return nil, err
		}
		hm, ok := reply.(*wire.MsgHeaders)
		if !ok {
			continue
		}
		out := make([]wire.BlockHeader, len(hm.Headers))
		for i, h := range hm.Headers {
			out[i] = *h
		}
		return out, nil
	}
}

// GetBlock requests one full block via getdata and waits for the matching
// block message.
func (c *Conn) GetBlock(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error) {
	getData := wire.NewMsgGetData()
	inv := wire.NewInvVect(wire.InvTypeWitnessBlock, &hash)
	if err := getData.AddInvVect(inv); err != nil {
		return nil, err
	}
	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
		defer c.conn.SetDeadline(time.Time{})
	}
	if err := wire.WriteMessage(c.conn, getData, c.pver, c.params.Net); err != nil {
		return nil, err
	}

	for {
		reply, _, err := wire.ReadMessage(c.conn, c.pver, c.params.Net)
		if err != nil {
			return nil, err
		}
		blk, ok := reply.(*wire.MsgBlock)
		if !ok {
			continue
		}
		got := blk.Header.BlockHash()
		if got != hash {
			continue
		}
		return blk, nil
	}
}

// Close shuts down the underlying TCP connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
