package chassis

// buildDependents computes, for every record in recs, the records within
// the same batch that consume one of its provided services — i.e. the
// edges U2 needs: "A → B exists iff some required slot of B holds a handle
// that equals some provided-service handle of A." Grounded on vessel's
// graph.go DependencyGraph, generalized from name-based edges to bound
// interface-handle edges.
func buildDependents(recs []*componentRecord) map[*componentRecord][]*componentRecord {
	providerOf := make(map[Interface]*componentRecord)
	for _, r := range recs {
		for _, p := range r.provides {
			providerOf[p.Interface] = r
		}
	}

	dependents := make(map[*componentRecord][]*componentRecord)
	for _, consumer := range recs {
		for ri := range consumer.requires {
			cell := consumer.requires[ri].cell
			if cell == nil || *cell == nil {
				continue
			}
			if provider, ok := providerOf[*cell]; ok && provider != consumer {
				dependents[provider] = append(dependents[provider], consumer)
			}
		}
	}
	return dependents
}

// topoOrderForUnload orders recs so "a component is emitted after every
// component that depends on it": DFS post-order over the
// dependents graph, visiting in the caller's input order, with back-edges
// (cycles) silently ignored per the same "visit on entry, emit on exit"
// style as vessel's DependencyGraph.visit.
func topoOrderForUnload(recs []*componentRecord) []*componentRecord {
	dependents := buildDependents(recs)
	visited := make(map[*componentRecord]bool, len(recs))
	visiting := make(map[*componentRecord]bool, len(recs))
	result := make([]*componentRecord, 0, len(recs))

	var visit func(n *componentRecord)
	visit = func(n *componentRecord) {
		if visited[n] || visiting[n] {
			return
		}
		visiting[n] = true
		for _, dep := range dependents[n] {
			visit(dep)
		}
		visiting[n] = false
		visited[n] = true
		result = append(result, n)
	}

	for _, n := range recs {
		visit(n)
	}
	return result
}

// countInBatchConsumers counts how many required slots across batch hold
// iface, used by U5 to compute ext = refcount - in_batch_users.
func countInBatchConsumers(iface Interface, batch []*componentRecord) uint64 {
	var n uint64
	for _, rec := range batch {
		for ri := range rec.requires {
			cell := rec.requires[ri].cell
			if cell != nil && *cell == iface {
				n++
			}
		}
	}
	return n
}
