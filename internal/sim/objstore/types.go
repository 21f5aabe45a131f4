package objstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// PeerID identifies a process sharing the store.
type PeerID int64

// ObjectID is globally unique: the creating peer plus a per-peer sequence.
// The zero value means "none". Encoded as "<owner>:<seq>" in JSON.
type ObjectID struct {
	Owner PeerID
	Seq   uint32
}

var None = ObjectID{}

func (id ObjectID) IsNone() bool { return id == None }

func (id ObjectID) String() string {
	if id.IsNone() {
		return "none"
	}
	return fmt.Sprintf("%d:%d", id.Owner, id.Seq)
}

func (id ObjectID) Less(o ObjectID) bool {
	if id.Owner != o.Owner {
		return id.Owner < o.Owner
	}
	return id.Seq < o.Seq
}

func ParseObjectID(s string) (ObjectID, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "none" {
		return None, nil
	}
	owner, seq, ok := strings.Cut(s, ":")
	if !ok {
		return None, fmt.Errorf("object id %q: missing ':'", s)
	}
	o, err := strconv.ParseInt(owner, 10, 64)
	if err != nil {
		return None, fmt.Errorf("object id %q: owner: %w", s, err)
	}
	n, err := strconv.ParseUint(seq, 10, 32)
	if err != nil {
		return None, fmt.Errorf("object id %q: seq: %w", s, err)
	}
	return ObjectID{Owner: PeerID(o), Seq: uint32(n)}, nil
}

func (id ObjectID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ObjectID) UnmarshalText(b []byte) error {
	v, err := ParseObjectID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// TypeHash is the stable hash of an object type name.
type TypeHash int32

// HashName must stay stable across processes and restarts.
func HashName(name string) TypeHash {
	return TypeHash(int32(uint32(xxhash.Sum64String(name))))
}

type SectorKey struct {
	X int `json:"x"`
	Z int `json:"z"`
}

func (k SectorKey) less(o SectorKey) bool {
	if k.X != o.X {
		return k.X < o.X
	}
	return k.Z < o.Z
}

// Grid is the square of spatial sectors indexed densely. Keys outside of it
// belong to the catch-all partition.
type Grid struct {
	Width  int `json:"width"`
	Origin int `json:"origin"`
}

func (g Grid) Count() int {
	if g.Width <= 0 {
		return 0
	}
	return g.Width * g.Width
}

func (g Grid) Index(k SectorKey) (int, bool) {
	x := k.X + g.Origin
	z := k.Z + g.Origin
	if x < 0 || z < 0 || x >= g.Width || z >= g.Width {
		return -1, false
	}
	return z*g.Width + x, true
}

// Object is one replicated record. Target and Label are the only fields the
// pairing logic reads; Extra is carried through untouched.
type Object struct {
	ID       ObjectID       `json:"id"`
	Owner    PeerID         `json:"owner"`
	Type     TypeHash       `json:"type"`
	Sector   SectorKey      `json:"sector"`
	Valid    bool           `json:"valid"`
	Revision uint32         `json:"revision"`
	Target   ObjectID       `json:"target"`
	Label    string         `json:"label,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

func (o Object) clone() Object {
	if o.Extra != nil {
		extra := make(map[string]any, len(o.Extra))
		for k, v := range o.Extra {
			extra[k] = v
		}
		o.Extra = extra
	}
	return o
}
