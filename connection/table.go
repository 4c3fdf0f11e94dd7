package connection

// Table is an insertion-ordered collection of connection records.
// Records are never removed; a frame either merges into an existing
// record or is appended as a new one.
//
// Table is not safe for concurrent use. The capture loop is its only writer
// and hands out copies through Snapshot.
type Table struct {
	records []*Record
	index   map[Key]int
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{index: make(map[Key]int)}
}

// Upsert merges candidate into the matching record, or appends it when no
// record describes the same connection.
func (t *Table) Upsert(candidate Record) {
	key := candidate.Key()
	if i, ok := t.index[key]; ok {
		t.records[i].Update(candidate.End, candidate.Bytes)
		return
	}
	rec := candidate
	t.index[key] = len(t.records)
	t.records = append(t.records, &rec)
}

// Lookup returns a copy of the record matching r, if any.
func (t *Table) Lookup(r Record) (Record, bool) {
	i, ok := t.index[r.Key()]
	if !ok {
		return Record{}, false
	}
	return *t.records[i], true
}

// Len returns the number of connections.
func (t *Table) Len() int { return len(t.records) }

// Snapshot returns an order-preserving copy of every record.
func (t *Table) Snapshot() []Record {
	out := make([]Record, len(t.records))
	for i, r := range t.records {
		out[i] = *r
	}
	return out
}
