package chassis

import "sort"

// generationGroup is the set of components published atomically by one
// successful Load call. Groups are prepended on load; on
// unload, entries are removed from the group they belong to, and an
// emptied group is dropped.
type generationGroup struct {
	members []*componentRecord
}

// componentRegistry is C6: URN-addressed ownership of component records
// plus the generation-groups list. It is a thin structure mutated only
// under L_loader's writer lock: by the Loader, and by Chassis.Close when it
// drops a generation group that failed to unload.
type componentRegistry struct {
	byURN       map[string]*componentRecord
	generations []*generationGroup // newest first
}

func newComponentRegistry() *componentRegistry {
	return &componentRegistry{byURN: make(map[string]*componentRecord)}
}

func (c *componentRegistry) find(urn string) (*componentRecord, bool) {
	rec, ok := c.byURN[urn]
	return rec, ok
}

// insertGeneration publishes recs as one new generation group and adds
// each to byURN. Called once, at L7 Commit, for every record of a Load
// batch together.
func (c *componentRegistry) insertGeneration(recs []*componentRecord) {
	group := &generationGroup{members: append([]*componentRecord{}, recs...)}
	c.generations = append([]*generationGroup{group}, c.generations...)
	for _, r := range recs {
		c.byURN[r.urn] = r
	}
}

// remove erases urn from byURN and drops it from whichever generation
// group contains it, dropping the group itself if it becomes empty. This
// is U9's bookkeeping half.
func (c *componentRegistry) remove(urn string) {
	rec, ok := c.byURN[urn]
	if !ok {
		return
	}
	delete(c.byURN, urn)

	for gi, g := range c.generations {
		for mi, m := range g.members {
			if m == rec {
				g.members = append(g.members[:mi], g.members[mi+1:]...)
				break
			}
		}
		_ = gi
	}

	kept := c.generations[:0]
	for _, g := range c.generations {
		if len(g.members) > 0 {
			kept = append(kept, g)
		}
	}
	c.generations = kept
}

// urns returns every URN currently tracked, in lexicographic order — used
// by the loader iterator.
func (c *componentRegistry) urns() []string {
	out := make([]string, 0, len(c.byURN))
	for u := range c.byURN {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
