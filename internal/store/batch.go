package store

import "sort"

// row is a single namespaced key pending a write. The index never deletes
// rows on the forward-sync path — only the indexer's reorg rewind stages
// deletes, which batch.go models as tombstone rows bounded by [from, to).
type row struct {
	family Family
	key    []byte
	delete bool
	to     []byte // exclusive upper bound; only set when delete is true
}

// WriteBatch accumulates rows across every family before a single atomic
// pebble write. Callers build it up in any order, then Sort orders each
// family's rows by key before the write.
type WriteBatch struct {
	rows []row
	tip  []byte
}

// NewWriteBatch returns an empty batch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{}
}

// Put stages a row for insertion into family. The value is always empty;
// only the key's presence matters.
func (b *WriteBatch) Put(family Family, key []byte) {
	b.rows = append(b.rows, row{family: family, key: append([]byte(nil), key...)})
}

// DeleteRange stages a [from, to) tombstone scoped to family, used by reorg
// handling to drop every row at or above the fork height within a single
// known prefix.
func (b *WriteBatch) DeleteRange(family Family, from, to []byte) {
	b.rows = append(b.rows, row{
		family: family,
		key:    append([]byte(nil), from...),
		to:     append([]byte(nil), to...),
		delete: true,
	})
}

// Delete stages a single-row tombstone. Rows in every family have a fixed
// length for a given role (84 bytes for headers data rows, 12 for
// txid/funding/spending), so [key, key‖0x00) is guaranteed to bound exactly
// that one row and nothing else. Used by reorg handling when the rows to
// drop are scattered across a family's keyspace rather than confined to one
// contiguous prefix — which is the common case, since these families sort
// by content hash first and height second.
func (b *WriteBatch) Delete(family Family, key []byte) {
	to := append(append([]byte(nil), key...), 0x00)
	b.DeleteRange(family, key, to)
}

// SetTip stages the tip singleton update. It commits atomically with the
// rest of the batch's rows: a header row and its tip update must never be
// observable independently of one another.
func (b *WriteBatch) SetTip(header []byte) {
	b.tip = append([]byte(nil), header...)
}

// Len reports the number of staged rows, including range tombstones. It
// does not count a staged SetTip.
func (b *WriteBatch) Len() int {
	return len(b.rows)
}

// Sort orders the staged rows lexicographically within each family. Pebble
// does not require sorted input, but a bulk load written in key order
// produces fewer overlapping tables. Keys order by content prefix first and
// height second, so the result is not in height order across a family. The
// sort is stable, so a Delete and a Put of the same key keep their staging
// order.
func (b *WriteBatch) Sort() {
	sort.SliceStable(b.rows, func(i, j int) bool {
		ri, rj := b.rows[i], b.rows[j]
		if ri.family != rj.family {
			return ri.family < rj.family
		}
		return string(ri.key) < string(rj.key)
	})
}
