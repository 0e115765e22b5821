package p2p

import "testing"

func TestFakeSatisfiesClient(t *testing.T) {
	var _ Client = NewFake()
}
