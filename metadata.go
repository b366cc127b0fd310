package chassis

// Metadata is an ordered string-to-string map attached to any registry
// entry (service implementation or component record).
// Grounded on vessel's container_impl.go Inspect(), which packs groups into
// an ad hoc "__groups" metadata key on an unordered map — we generalize
// that into a real ordered map with iteration, since enumeration needs a
// deterministic, lock-borrowing iterator that an unordered Go map can't
// give you on its own.
type Metadata struct {
	keys   []string
	values map[string]string
}

// NewMetadata creates an empty metadata map.
func NewMetadata() *Metadata {
	return &Metadata{values: make(map[string]string)}
}

// Set inserts or overwrites a key. Per §4.2 this only "fails on allocation
// error," which Go does not model explicitly, so Set never fails.
func (m *Metadata) Set(name, value string) {
	if _, exists := m.values[name]; !exists {
		m.keys = append(m.keys, name)
	}
	m.values[name] = value
}

// Get returns the value for name and whether it was present.
func (m *Metadata) Get(name string) (string, bool) {
	v, ok := m.values[name]
	return v, ok
}

// Len returns the number of entries.
func (m *Metadata) Len() int { return len(m.keys) }

// MetadataIterator walks a Metadata map's entries in insertion order. It
// holds whatever readerToken was passed to CreateIterator and releases it
// on Release. Neither Registry nor ComponentHandle supplies one: their
// Metadata accessors return the map without a lock, and the iterators built
// over it in this module are created with a nil token, so no lock is held
// while they walk.
type MetadataIterator struct {
	m       *Metadata
	pos     int
	token   *readerToken
	invalid bool
}

// CreateIterator returns an iterator positioned at the first entry, or an
// invalid (one-past-the-end) iterator if the map is empty. token is the
// read-lock handle the caller already holds over the owning record.
func (m *Metadata) CreateIterator(token *readerToken) *MetadataIterator {
	it := &MetadataIterator{m: m, token: token}
	if len(m.keys) == 0 {
		it.invalid = true
	}
	return it
}

// Next advances the iterator. It reports true once it has moved one past
// the last entry — this is treated as a normal
// end-of-iteration sentinel, not conflated with operational failure.
func (it *MetadataIterator) Next() (end bool) {
	if it.invalid {
		return true
	}
	it.pos++
	if it.pos >= len(it.m.keys) {
		it.invalid = true
		return true
	}
	return false
}

// IsValid reports whether the iterator is positioned on a real entry.
func (it *MetadataIterator) IsValid() bool {
	return !it.invalid
}

// Get returns the name/value pair at the iterator's current position.
func (it *MetadataIterator) Get() (name, value string, ok bool) {
	if it.invalid {
		return "", "", false
	}
	name = it.m.keys[it.pos]
	return name, it.m.values[name], true
}

// Release drops the borrowed read lock. Safe to call multiple times.
func (it *MetadataIterator) Release() {
	if it.token != nil {
		it.token.Unlock()
		it.token = nil
	}
}

// Clone returns a deep, independent copy, used when handing metadata to a
// caller that must not observe subsequent mutation.
func (m *Metadata) Clone() *Metadata {
	c := NewMetadata()
	for _, k := range m.keys {
		c.Set(k, m.values[k])
	}
	return c
}

// Map returns a plain map snapshot, for callers that just want a copy.
func (m *Metadata) Map() map[string]string {
	out := make(map[string]string, len(m.keys))
	for _, k := range m.keys {
		out[k] = m.values[k]
	}
	return out
}
