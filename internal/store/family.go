package store

// Family identifies one of the five logical column families the index is
// split into. Pebble has no native column-family concept, so each family is
// modeled as a single byte namespace prefix prepended to every on-disk key;
// the façade strips/adds this prefix at its boundary so callers see bare
// per-family keys with a fixed binary layout.
type Family byte

const (
	FamilyConfig Family = iota
	FamilyHeaders
	FamilyTxid
	FamilyFunding
	FamilySpending
)

var allFamilies = [...]Family{FamilyConfig, FamilyHeaders, FamilyTxid, FamilyFunding, FamilySpending}

func (f Family) String() string {
	switch f {
	case FamilyConfig:
		return "config"
	case FamilyHeaders:
		return "headers"
	case FamilyTxid:
		return "txid"
	case FamilyFunding:
		return "funding"
	case FamilySpending:
		return "spending"
	default:
		return "unknown"
	}
}

// namespaced prepends f's single-byte tag to key.
func namespaced(f Family, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(f)
	copy(out[1:], key)
	return out
}

// stripNamespace removes the leading family tag, returning the bare key.
// It panics if key does not belong to f — callers only ever strip keys they
// just read back from an iterator bounded to f.
func stripNamespace(f Family, key []byte) []byte {
	if len(key) == 0 || Family(key[0]) != f {
		panic("store: key does not belong to family " + f.String())
	}
	return key[1:]
}

// prefixUpperBound returns an exclusive upper bound for a forward scan over
// all namespaced keys starting with prefix. If prefix is all 0xFF (or
// empty), the family's own upper bound (the next family's tag) is used
// instead, so the scan still terminates at the family boundary rather than
// spilling into the next family.
func prefixUpperBound(f Family, prefix []byte) []byte {
	inc := make([]byte, len(prefix))
	copy(inc, prefix)
	for i := len(inc) - 1; i >= 0; i-- {
		if inc[i] < 0xFF {
			inc[i]++
			return namespaced(f, inc[:i+1])
		}
	}
	// prefix was all 0xFF (or empty): bound by the next family's tag.
	return []byte{byte(f) + 1}
}
