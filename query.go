package chassis

// ServiceQuery narrows a metadata-enumerate walk over the registry to
// entries whose metadata matches every given key/value pair. Adapted from
// vessel's query.go ServiceQuery/Query (which filtered DI registrations by
// lifecycle/group/started-state) — generalized to the one filterable
// attribute a registered service implementation actually carries here:
// its Metadata map.
type ServiceQuery struct {
	// Metadata: every key must be present with exactly this value for a
	// service to match. An empty map matches everything.
	Metadata map[string]string
}

// Query walks r's registry-metadata-enumerate iterator and returns the
// full names of every implementation whose metadata matches q.
func Query(r *Registry, q ServiceQuery) []string {
	var names []string

	it := r.IteratorCreate("")
	defer it.Release()
	for it.IsValid() {
		_, fullName, ok := it.Get()
		if ok && metadataMatches(r, fullName, q.Metadata) {
			names = append(names, fullName)
		}
		if it.Next() {
			break
		}
	}
	return dedupeSorted(names)
}

func metadataMatches(r *Registry, fullName string, want map[string]string) bool {
	if len(want) == 0 {
		return true
	}
	meta, ok := r.Metadata(fullName)
	if !ok {
		return false
	}
	for k, v := range want {
		got, ok := meta.Get(k)
		if !ok || got != v {
			return false
		}
	}
	return true
}

// dedupeSorted removes duplicate full names. The dual-keying of C4 (a bare
// "service" key and a "service.impl" key both resolving to the same
// implementation) means a naive walk can surface the same full name twice; Query reports each match once.
func dedupeSorted(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
