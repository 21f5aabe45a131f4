package link

import (
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"linkgate.ai/internal/sim/objstore"
)

// Mutator is the part of the store the resolver writes through.
type Mutator interface {
	Get(id objstore.ObjectID) (objstore.Object, bool)
	Claim(id objstore.ObjectID) (*objstore.Claim, error)
	Publish(c *objstore.Claim) error
}

type ChangeKind string

const (
	Unlinked     ChangeKind = "UNLINK"
	Linked       ChangeKind = "LINK"
	LinkedOneWay ChangeKind = "LINK_ONEWAY"
)

// Unlink reasons.
const (
	ReasonLabelEmpty    = "label_empty"
	ReasonTargetMissing = "target_missing"
	ReasonLabelMismatch = "label_mismatch"
)

type Change struct {
	Kind   ChangeKind        `json:"kind"`
	From   objstore.ObjectID `json:"from"`
	To     objstore.ObjectID `json:"to"`
	Label  string            `json:"label"`
	Reason string            `json:"reason,omitempty"`
}

// Resolver repairs and establishes links over one candidate snapshot.
type Resolver struct {
	store  Mutator
	prefix string
	rnd    *rand.Rand
	log    zerolog.Logger
}

// NewResolver builds a resolver. An empty oneWayPrefix turns directional
// pairing off; a nil rnd seeds from the clock.
func NewResolver(store Mutator, oneWayPrefix string, rnd *rand.Rand, log zerolog.Logger) *Resolver {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Resolver{store: store, prefix: oneWayPrefix, rnd: rnd, log: log}
}

func (r *Resolver) OneWayPrefix() string { return r.prefix }

func (r *Resolver) isOneWay(label string) bool {
	return r.prefix != "" && strings.HasPrefix(label, r.prefix)
}

// BreakInvalid clears the target of every candidate whose link no longer
// holds. The candidate slice itself is left untouched.
func (r *Resolver) BreakInvalid(cands []objstore.Object) []Change {
	var changes []Change
	for _, c := range cands {
		if c.Target.IsNone() {
			continue
		}
		reason := r.invalidReason(c)
		if reason == "" {
			continue
		}
		cl, err := r.store.Claim(c.ID)
		if err != nil {
			r.log.Warn().Err(err).Stringer("object", c.ID).Msg("unlink: claim failed")
			continue
		}
		cl.SetTarget(objstore.None)
		if err := r.store.Publish(cl); err != nil {
			r.log.Warn().Err(err).Stringer("object", c.ID).Msg("unlink: publish failed")
			continue
		}
		changes = append(changes, Change{Kind: Unlinked, From: c.ID, To: c.Target, Label: c.Label, Reason: reason})
	}
	return changes
}

func (r *Resolver) invalidReason(c objstore.Object) string {
	if c.Label == "" {
		return ReasonLabelEmpty
	}
	target, ok := r.store.Get(c.Target)
	if !ok || !target.Valid {
		return ReasonTargetMissing
	}
	if target.Label != c.Label && !r.isOneWay(c.Label) {
		return ReasonLabelMismatch
	}
	return ""
}

// Establish links unpaired candidates by label. Candidates are updated in
// place as links are made so later candidates see them as taken.
func (r *Resolver) Establish(cands []objstore.Object) []Change {
	var changes []Change
	for i := range cands {
		a := &cands[i]
		if a.Label == "" || !a.Target.IsNone() {
			continue
		}
		oneWay := r.isOneWay(a.Label)
		want := a.Label
		if oneWay {
			want = strings.TrimPrefix(a.Label, r.prefix)
		}
		if want == "" {
			continue
		}
		j := r.pick(cands, i, want, oneWay)
		if j < 0 {
			continue
		}
		b := &cands[j]
		if err := r.link(a.ID, b.ID, oneWay); err != nil {
			r.log.Warn().Err(err).Stringer("from", a.ID).Stringer("to", b.ID).Msg("link failed")
			continue
		}
		a.Target = b.ID
		kind := LinkedOneWay
		if !oneWay {
			b.Target = a.ID
			kind = Linked
		}
		changes = append(changes, Change{Kind: kind, From: a.ID, To: b.ID, Label: a.Label})
	}
	return changes
}

// pick chooses uniformly among the unpaired candidates labelled want. A
// one-way source only pairs with a plain destination.
func (r *Resolver) pick(cands []objstore.Object, self int, want string, oneWay bool) int {
	var eligible []int
	for k, o := range cands {
		if k == self || o.ID == cands[self].ID || !o.Target.IsNone() || o.Label != want {
			continue
		}
		if oneWay && r.isOneWay(o.Label) {
			continue
		}
		eligible = append(eligible, k)
	}
	if len(eligible) == 0 {
		return -1
	}
	return eligible[r.rnd.Intn(len(eligible))]
}

// link claims both sides before touching either, then publishes a and b.
func (r *Resolver) link(a, b objstore.ObjectID, oneWay bool) error {
	ca, err := r.store.Claim(a)
	if err != nil {
		return err
	}
	cb, err := r.store.Claim(b)
	if err != nil {
		ca.Release()
		return err
	}
	ca.SetTarget(b)
	if oneWay {
		cb.SetTarget(objstore.None)
	} else {
		cb.SetTarget(a)
	}
	if err := r.store.Publish(ca); err != nil {
		cb.Release()
		return err
	}
	if err := r.store.Publish(cb); err != nil {
		undo, uerr := r.store.Claim(a)
		if uerr == nil {
			undo.SetTarget(objstore.None)
			uerr = r.store.Publish(undo)
		}
		if uerr != nil {
			r.log.Warn().Err(uerr).Stringer("object", a).Stringer("partner", b).Msg("link rollback failed")
		}
		return err
	}
	return nil
}
