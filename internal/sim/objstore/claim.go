package objstore

// Claim is the ownership token for one object. Field changes are staged on
// the claim and only reach the store through Publish, which also pushes the
// record to every replica, so a record is never mutated without being pushed.
type Claim struct {
	store    *Store
	obj      Object
	released bool
}

// Claim transfers ownership of id to this process. Concurrent claims from
// other processes resolve last-writer-wins through revisions.
func (s *Store) Claim(id ObjectID) (*Claim, error) {
	obj, ok := s.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	obj.Owner = s.self
	return &Claim{store: s, obj: obj}, nil
}

func (c *Claim) ID() ObjectID     { return c.obj.ID }
func (c *Claim) Object() Object   { return c.obj.clone() }
func (c *Claim) Released() bool   { return c.released }
func (c *Claim) Target() ObjectID { return c.obj.Target }

func (c *Claim) SetTarget(id ObjectID) {
	if c.released {
		return
	}
	c.obj.Target = id
}

func (c *Claim) SetLabel(label string) {
	if c.released {
		return
	}
	c.obj.Label = label
}

// Release drops the claim without publishing anything.
func (c *Claim) Release() { c.released = true }

// Publish commits the claim and force-pushes the record. The claim cannot be
// used afterwards.
func (s *Store) Publish(c *Claim) error {
	if c == nil || c.released {
		return ErrClaimReleased
	}
	if c.store != s {
		return ErrForeignClaim
	}
	c.released = true

	s.mu.Lock()
	cur := s.objects[c.obj.ID]
	if cur == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	// Only ownership and the link fields travel with a claim; the rest of the
	// record belongs to the simulation.
	next := cur.clone()
	next.Owner = c.obj.Owner
	next.Target = c.obj.Target
	next.Label = c.obj.Label
	next.Revision = cur.Revision + 1
	*cur = next
	s.mu.Unlock()

	s.push(next)
	return nil
}
