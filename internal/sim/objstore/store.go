package objstore

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrNotFound      = errors.New("objstore: object not found")
	ErrClaimReleased = errors.New("objstore: claim already released")
	ErrForeignClaim  = errors.New("objstore: claim belongs to another store")
)

// Publisher receives every record pushed to replicas.
type Publisher interface {
	Push(obj Object)
}

type PublisherFunc func(obj Object)

func (f PublisherFunc) Push(obj Object) { f(obj) }

// Store is the local replica of the sharded object store. Objects are
// partitioned by sector; sector keys outside of the grid share one
// catch-all partition.
type Store struct {
	self PeerID
	grid Grid

	mu      sync.RWMutex
	objects map[ObjectID]*Object
	sectors [][]ObjectID
	outside map[SectorKey][]ObjectID
	nextSeq uint32

	pubMu sync.RWMutex
	pubs  []Publisher
}

func New(self PeerID, grid Grid) *Store {
	return &Store{
		self:    self,
		grid:    grid,
		objects: map[ObjectID]*Object{},
		sectors: make([][]ObjectID, grid.Count()),
		outside: map[SectorKey][]ObjectID{},
	}
}

func (s *Store) Self() PeerID { return s.self }
func (s *Store) Grid() Grid   { return s.grid }

// NewID allocates an id owned by this process.
func (s *Store) NewID() ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	return ObjectID{Owner: s.self, Seq: s.nextSeq}
}

func (s *Store) Subscribe(p Publisher) {
	if p == nil {
		return
	}
	s.pubMu.Lock()
	s.pubs = append(s.pubs, p)
	s.pubMu.Unlock()
}

// Put creates or replaces a record without pushing it. It stands in for the
// simulation creating objects; pairing code never calls it.
func (s *Store) Put(obj Object) {
	if obj.ID.IsNone() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(obj.clone())
}

// Apply stores a record received from another process. Stale revisions of
// known objects are ignored.
func (s *Store) Apply(obj Object) bool {
	if obj.ID.IsNone() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.objects[obj.ID]; cur != nil && cur.Revision > obj.Revision {
		return false
	}
	s.putLocked(obj.clone())
	return true
}

func (s *Store) putLocked(obj Object) {
	if obj.ID.Owner == s.self && obj.ID.Seq > s.nextSeq {
		s.nextSeq = obj.ID.Seq
	}
	if cur := s.objects[obj.ID]; cur != nil {
		if cur.Sector == obj.Sector {
			*cur = obj
			return
		}
		s.unindexLocked(cur)
	}
	o := obj
	s.objects[o.ID] = &o
	if i, ok := s.grid.Index(o.Sector); ok {
		s.sectors[i] = append(s.sectors[i], o.ID)
		return
	}
	s.outside[o.Sector] = append(s.outside[o.Sector], o.ID)
}

func (s *Store) Remove(id ObjectID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.objects[id]
	if cur == nil {
		return false
	}
	s.unindexLocked(cur)
	delete(s.objects, id)
	return true
}

func (s *Store) unindexLocked(o *Object) {
	if i, ok := s.grid.Index(o.Sector); ok {
		s.sectors[i] = removeID(s.sectors[i], o.ID)
		return
	}
	ids := removeID(s.outside[o.Sector], o.ID)
	if len(ids) == 0 {
		delete(s.outside, o.Sector)
		return
	}
	s.outside[o.Sector] = ids
}

func removeID(ids []ObjectID, id ObjectID) []ObjectID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

func (s *Store) Get(id ObjectID) (Object, bool) {
	if id.IsNone() {
		return Object{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o := s.objects[id]
	if o == nil {
		return Object{}, false
	}
	return o.clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *Store) SectorCount() int { return len(s.sectors) }

// Sector returns copies of the members of spatial partition i in insertion
// order.
func (s *Store) Sector(i int) []Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.sectors) || len(s.sectors[i]) == 0 {
		return nil
	}
	return s.collectLocked(s.sectors[i])
}

// OutsideSectors returns the catch-all partition grouped by sector key.
func (s *Store) OutsideSectors() [][]Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]SectorKey, 0, len(s.outside))
	for k := range s.outside {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	out := make([][]Object, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.collectLocked(s.outside[k]))
	}
	return out
}

func (s *Store) collectLocked(ids []ObjectID) []Object {
	out := make([]Object, 0, len(ids))
	for _, id := range ids {
		if o := s.objects[id]; o != nil {
			out = append(out, o.clone())
		}
	}
	return out
}

// Snapshot returns every record sorted by id.
func (s *Store) Snapshot() []Object {
	s.mu.RLock()
	out := make([]Object, 0, len(s.objects))
	for _, o := range s.objects {
		out = append(out, o.clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

func (s *Store) Load(objs []Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range objs {
		if o.ID.IsNone() {
			continue
		}
		s.putLocked(o.clone())
	}
}

func (s *Store) push(obj Object) {
	s.pubMu.RLock()
	pubs := s.pubs
	s.pubMu.RUnlock()
	for _, p := range pubs {
		p.Push(obj.clone())
	}
}
