package link

import "linkgate.ai/internal/sim/objstore"

// StepBudget bounds the matches a single Scan call collects before it yields.
const StepBudget = 500

// Source is the partitioned view the scanner walks.
type Source interface {
	SectorCount() int
	Sector(i int) []objstore.Object
	OutsideSectors() [][]objstore.Object
}

type TypeFilter map[objstore.TypeHash]struct{}

func NewTypeFilter(names ...string) TypeFilter {
	f := TypeFilter{}
	for _, n := range names {
		if n == "" {
			continue
		}
		f[objstore.HashName(n)] = struct{}{}
	}
	return f
}

func (f TypeFilter) match(o objstore.Object) bool {
	if !o.Valid {
		return false
	}
	_, ok := f[o.Type]
	return ok
}

// Cursor carries a matching pass across Scan calls.
type Cursor struct {
	Index   int
	Matches []objstore.Object
}

func (c *Cursor) Reset() {
	c.Index = 0
	c.Matches = nil
}

// Scan collects live objects whose type is in filter, starting at cur.Index.
// It returns false when it yielded early or ran out of spatial sectors, and
// true once the catch-all partition has been collected, which ends the pass.
func Scan(src Source, filter TypeFilter, cur *Cursor) (done bool) {
	n := src.SectorCount()
	if cur.Index >= n {
		for _, group := range src.OutsideSectors() {
			for _, o := range group {
				if filter.match(o) {
					cur.Matches = append(cur.Matches, o)
				}
			}
		}
		return true
	}

	if len(filter) == 0 {
		cur.Index = n
		return false
	}

	counted := 0
	for cur.Index < n {
		for _, o := range src.Sector(cur.Index) {
			if filter.match(o) {
				cur.Matches = append(cur.Matches, o)
				counted++
			}
		}
		cur.Index++
		if counted > StepBudget {
			break
		}
	}
	return false
}
