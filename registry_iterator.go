package chassis

import "sort"

// ServiceIterator walks Registry.byName in key order, holding the read lock
// for its lifetime. Because the default entry ("s") and every full-name
// entry ("s.i") are both present in byName, the default implementation of
// a service is visible twice while iterating — once under its bare
// service key and once under its full name — matching the registry's
// dual-keying shape.
type ServiceIterator struct {
	keys    []string
	byName  map[string]*serviceImplementation
	pos     int
	token   *readerToken
	invalid bool
}

// IteratorCreate locks the registry for reading and returns an iterator
// positioned at the first entry whose key is >= prefix (lexicographically).
// An empty prefix starts at the first entry overall. If prefix is non-empty
// and no entry actually begins with it, the returned iterator is invalid,
// but the read lock is still held until Release is called — a live-but-
// empty iterator rather than a failure to acquire the lock at all.
func (r *Registry) IteratorCreate(prefix string) *ServiceIterator {
	tok := r.lock.RLock()
	return buildIterator(r.byName, prefix, tok)
}

// iteratorCreateNolock builds an iterator exactly like IteratorCreate but
// without taking the reader lock itself — for use only by a caller that
// already holds the registry's write lock, mirroring the rest of the
// registry-metadata self-description service's no-lock flavor.
func (r *Registry) iteratorCreateNolock(prefix string) *ServiceIterator {
	return buildIterator(r.byName, prefix, nil)
}

func buildIterator(byName map[string]*serviceImplementation, prefix string, tok *readerToken) *ServiceIterator {
	keys := make([]string, 0, len(byName))
	for k := range byName {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := sort.SearchStrings(keys, prefix)

	it := &ServiceIterator{keys: keys, byName: byName, pos: start, token: tok}
	if start >= len(keys) {
		it.invalid = true
	} else if prefix != "" && len(keys[start]) < len(prefix) {
		it.invalid = true
	} else if prefix != "" && keys[start][:len(prefix)] != prefix {
		it.invalid = true
	}
	return it
}

// IsValid reports whether the iterator is positioned on a real entry.
func (it *ServiceIterator) IsValid() bool {
	return !it.invalid && it.pos < len(it.keys)
}

// Get returns the key and the full name of the implementation record
// currently pointed to. The key may differ from the full name when
// positioned on a bare default-service entry.
func (it *ServiceIterator) Get() (key string, fullName string, ok bool) {
	if !it.IsValid() {
		return "", "", false
	}
	key = it.keys[it.pos]
	return key, it.byName[key].fullName, true
}

// Next advances the iterator, reporting true once it moves one past the
// last entry. Running off the end is a normal end-of-iteration state, not
// an error.
func (it *ServiceIterator) Next() (end bool) {
	if it.invalid {
		return true
	}
	it.pos++
	if it.pos >= len(it.keys) {
		it.invalid = true
		return true
	}
	return false
}

// Release drops the read lock the iterator has been holding. Safe to call
// multiple times.
func (it *ServiceIterator) Release() {
	if it.token != nil {
		it.token.Unlock()
		it.token = nil
	}
}
