package btcdomain

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

func TestNetworkParams(t *testing.T) {
	cases := map[string]*chaincfg.Params{
		"mainnet": &chaincfg.MainNetParams,
		"":        &chaincfg.MainNetParams,
		"testnet": &chaincfg.TestNet3Params,
		"regtest": &chaincfg.RegressionNetParams,
		"signet":  &chaincfg.SigNetParams,
		"bogus":   &chaincfg.MainNetParams,
	}
	for name, want := range cases {
		if got := NetworkParams(name); got.Net != want.Net {
			t.Errorf("NetworkParams(%q) = %v, want %v", name, got.Net, want.Net)
		}
	}
}

func TestHeaderBytesRoundTrip(t *testing.T) {
	h := &wire.BlockHeader{Version: 1}
	b, err := HeaderBytes(h)
	if err != nil {
		t.Fatalf("HeaderBytes: %v", err)
	}
	if len(b) != 80 {
		t.Fatalf("len = %d, want 80", len(b))
	}

	var decoded wire.BlockHeader
	if err := decoded.Deserialize(bytes.NewReader(b[:])); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if decoded.Version != h.Version {
		t.Fatalf("version mismatch after round trip")
	}
}
