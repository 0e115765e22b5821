package store

import "github.com/cockroachdb/pebble"

// PrefixIterator walks every row in one family whose key starts with a
// given prefix, in ascending order. It is single-use and forward-only;
// callers must Close it when done (or after draining it) to release the
// underlying pebble snapshot.
type PrefixIterator struct {
	it      *pebble.Iterator
	family  Family
	done    bool
	started bool
}

// newPrefixIterator constructs a PrefixIterator bounded to [namespaced(family,
// prefix), prefixUpperBound(family, prefix)) and immediately seeks to the
// first matching row.
func newPrefixIterator(db *pebble.DB, family Family, prefix []byte) (*PrefixIterator, error) {
	lower := namespaced(family, prefix)
	upper := prefixUpperBound(family, prefix)
	it, err := db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, err
	}
	valid := it.First()
	return &PrefixIterator{it: it, family: family, done: !valid}, nil
}

// Next advances the iterator and reports whether a row is available. Call
// Key only after Next returns true.
func (p *PrefixIterator) Next() bool {
	if p.done {
		return false
	}
	if p.started {
		p.advance()
		if p.done {
			return false
		}
	}
	p.started = true
	if !p.it.Valid() {
		p.done = true
		return false
	}
	return true
}

// Key returns the bare (namespace-stripped) key at the iterator's current
// position, valid until the next call to Next.
func (p *PrefixIterator) Key() []byte {
	return stripNamespace(p.family, p.it.Key())
}

// advance moves the iterator past the current row; Next calls it before
// every row after the first.
func (p *PrefixIterator) advance() {
	if !p.it.Next() {
		p.done = true
	}
}

// Close releases the iterator's snapshot. Safe to call more than once.
func (p *PrefixIterator) Close() error {
	if p.it == nil {
		return nil
	}
	err := p.it.Close()
	p.it = nil
	return err
}

// Each drains the iterator, invoking fn with each bare key in ascending
// order, and closes the iterator when done or on first error from fn.
func (p *PrefixIterator) Each(fn func(key []byte) error) error {
	defer p.Close()
	for p.Next() {
		if err := fn(p.Key()); err != nil {
			return err
		}
	}
	return nil
}
