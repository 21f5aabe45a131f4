package link

import (
	"bytes"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"linkgate.ai/internal/sim/objstore"
)

type testWorld struct {
	store  *objstore.Store
	pushes []objstore.Object
}

func newTestWorld() *testWorld {
	w := &testWorld{store: objstore.New(1, objstore.Grid{Width: 4, Origin: 2})}
	w.store.Subscribe(objstore.PublisherFunc(func(o objstore.Object) { w.pushes = append(w.pushes, o) }))
	return w
}

// add creates a linkable object owned by peer 2 so ownership transfer is visible.
func (w *testWorld) add(label string, target objstore.ObjectID) objstore.ObjectID {
	id := w.store.NewID()
	w.store.Put(objstore.Object{
		ID:     id,
		Owner:  2,
		Type:   objstore.HashName(testType),
		Valid:  true,
		Label:  label,
		Target: target,
	})
	return id
}

func (w *testWorld) get(t *testing.T, id objstore.ObjectID) objstore.Object {
	t.Helper()
	o, ok := w.store.Get(id)
	if !ok {
		t.Fatalf("object %v missing", id)
	}
	return o
}

func (w *testWorld) cycle(prefix string, seed int64) *Cycle {
	return NewCycle(w.store, w.store, Config{TypeName: testType, OneWayPrefix: prefix}, rand.New(rand.NewSource(seed)), zerolog.Nop())
}

func TestSymmetricPairing(t *testing.T) {
	w := newTestWorld()
	a := w.add("A", objstore.None)
	b := w.add("A", objstore.None)

	rep := w.cycle("ow:", 1).RunPass(testNow)
	if rep.Stats.Linked != 1 || rep.Stats.Unlinked != 0 {
		t.Fatalf("stats=%+v", rep.Stats)
	}
	oa, ob := w.get(t, a), w.get(t, b)
	if oa.Target != b || ob.Target != a {
		t.Fatalf("not paired: a.target=%v b.target=%v", oa.Target, ob.Target)
	}
	if oa.Owner != 1 || ob.Owner != 1 {
		t.Fatalf("ownership not taken: a=%d b=%d", oa.Owner, ob.Owner)
	}
	if len(w.pushes) != 2 {
		t.Fatalf("pushes=%d want 2", len(w.pushes))
	}
}

func TestOneWayPairing(t *testing.T) {
	w := newTestWorld()
	src := w.add("ow:A", objstore.None)
	dst := w.add("A", objstore.None)

	rep := w.cycle("ow:", 1).RunPass(testNow)
	if len(rep.Changes) != 1 || rep.Changes[0].Kind != LinkedOneWay {
		t.Fatalf("changes=%+v", rep.Changes)
	}
	if got := w.get(t, src).Target; got != dst {
		t.Fatalf("source target=%v want %v", got, dst)
	}
	if got := w.get(t, dst).Target; !got.IsNone() {
		t.Fatalf("destination target=%v want none", got)
	}
	if len(w.pushes) != 2 {
		t.Fatalf("both sides must be pushed, got %d", len(w.pushes))
	}
}

func TestOneWaySourceNeverPairsWithOneWay(t *testing.T) {
	w := newTestWorld()
	a := w.add("ow:ow:A", objstore.None)
	b := w.add("ow:A", objstore.None)

	w.cycle("ow:", 1).RunPass(testNow)
	if !w.get(t, a).Target.IsNone() {
		t.Fatalf("one-way source paired with another one-way label")
	}
	if !w.get(t, b).Target.IsNone() {
		t.Fatalf("unexpected link on %v", b)
	}
}

func TestPrefixAbsentSkipsPairing(t *testing.T) {
	w := newTestWorld()
	a := w.add("A", objstore.None)
	b := w.add("A", objstore.None)
	gone := objstore.ObjectID{Owner: 2, Seq: 999}
	stale := w.add("B", gone)

	rep := w.cycle("", 1).RunPass(testNow)
	if rep.Stats.Linked != 0 {
		t.Fatalf("linked=%d, want 0 without a prefix", rep.Stats.Linked)
	}
	if !w.get(t, a).Target.IsNone() || !w.get(t, b).Target.IsNone() {
		t.Fatalf("plain labels paired without a prefix")
	}
	if rep.Stats.Unlinked != 1 || !w.get(t, stale).Target.IsNone() {
		t.Fatalf("invalid links must still be broken: %+v", rep.Stats)
	}
}

func TestBreakInvalidLinks(t *testing.T) {
	w := newTestWorld()
	gone := objstore.ObjectID{Owner: 2, Seq: 999}
	missing := w.add("A", gone)

	other := w.add("B", objstore.None)
	mismatch := w.add("A", other)

	empty := w.add("", other)

	dst := w.add("C", objstore.None)
	oneWay := w.add("ow:C", dst)

	x := w.add("D", objstore.None)
	y := w.add("D", x)
	w.store.Put(objstore.Object{ID: x, Owner: 2, Type: objstore.HashName(testType), Valid: true, Label: "D", Target: y})

	rep := w.cycle("ow:", 1).RunPass(testNow)

	reasons := map[objstore.ObjectID]string{}
	for _, ch := range rep.Changes {
		if ch.Kind == Unlinked {
			reasons[ch.From] = ch.Reason
		}
	}
	wantReasons := map[objstore.ObjectID]string{
		missing:  ReasonTargetMissing,
		mismatch: ReasonLabelMismatch,
		empty:    ReasonLabelEmpty,
	}
	if len(reasons) != len(wantReasons) {
		t.Fatalf("unlinks=%v", reasons)
	}
	for id, r := range wantReasons {
		if reasons[id] != r {
			t.Fatalf("%v reason=%q want %q", id, reasons[id], r)
		}
		if !w.get(t, id).Target.IsNone() {
			t.Fatalf("%v still linked", id)
		}
	}
	if w.get(t, oneWay).Target != dst {
		t.Fatalf("valid one-way link was broken")
	}
	if w.get(t, x).Target != y || w.get(t, y).Target != x {
		t.Fatalf("valid symmetric link was broken")
	}
}

func TestDeadTargetCountsAsMissing(t *testing.T) {
	w := newTestWorld()
	b := w.add("A", objstore.None)
	a := w.add("A", b)
	w.store.Put(objstore.Object{ID: b, Owner: 2, Type: objstore.HashName(testType), Valid: false, Label: "A"})

	w.cycle("ow:", 1).RunPass(testNow)
	if !w.get(t, a).Target.IsNone() {
		t.Fatalf("link to dead object kept")
	}
}

func TestPhaseOrdering(t *testing.T) {
	w := newTestWorld()
	gone := objstore.ObjectID{Owner: 2, Seq: 999}
	broken := w.add("A", gone)
	fresh := w.add("A", objstore.None)

	c := w.cycle("ow:", 1)
	rep := c.RunPass(testNow)
	if len(rep.Changes) != 1 || rep.Changes[0].Kind != Unlinked || rep.Changes[0].From != broken {
		t.Fatalf("first pass changes=%+v", rep.Changes)
	}
	if !w.get(t, broken).Target.IsNone() || !w.get(t, fresh).Target.IsNone() {
		t.Fatalf("repaired object must not pair in the pass that unlinked it")
	}

	rep = c.RunPass(testNow)
	if rep.Stats.Linked != 1 {
		t.Fatalf("second pass stats=%+v", rep.Stats)
	}
	if w.get(t, broken).Target != fresh || w.get(t, fresh).Target != broken {
		t.Fatalf("second pass did not pair")
	}
}

func TestIdempotentWhenPaired(t *testing.T) {
	w := newTestWorld()
	w.add("A", objstore.None)
	w.add("A", objstore.None)
	w.add("ow:B", objstore.None)
	w.add("B", objstore.None)
	w.add("lonely", objstore.None)

	c := w.cycle("ow:", 7)
	c.RunPass(testNow)
	before := len(w.pushes)
	if before == 0 {
		t.Fatalf("first pass made no links")
	}
	snap := w.store.Snapshot()

	rep := c.RunPass(testNow)
	if len(rep.Changes) != 0 || len(w.pushes) != before {
		t.Fatalf("second pass mutated: changes=%+v pushes=%d->%d", rep.Changes, before, len(w.pushes))
	}
	after := w.store.Snapshot()
	for i := range snap {
		if snap[i].Revision != after[i].Revision {
			t.Fatalf("revision changed for %v", snap[i].ID)
		}
	}
}

func TestEachObjectLinkedOnce(t *testing.T) {
	w := newTestWorld()
	var ids []objstore.ObjectID
	for i := 0; i < 5; i++ {
		ids = append(ids, w.add("A", objstore.None))
	}
	w.cycle("ow:", 3).RunPass(testNow)

	unpaired := 0
	for _, id := range ids {
		o := w.get(t, id)
		if o.Target.IsNone() {
			unpaired++
			continue
		}
		if back := w.get(t, o.Target).Target; back != id {
			t.Fatalf("%v -> %v -> %v is not symmetric", id, o.Target, back)
		}
	}
	if unpaired != 1 {
		t.Fatalf("unpaired=%d want 1", unpaired)
	}
}

func TestPickIsNotFirstMatch(t *testing.T) {
	seen := map[objstore.ObjectID]bool{}
	for seed := int64(0); seed < 40; seed++ {
		w := newTestWorld()
		src := w.add("ow:A", objstore.None)
		for i := 0; i < 4; i++ {
			w.add("A", objstore.None)
		}
		res := NewResolver(w.store, "ow:", rand.New(rand.NewSource(seed)), zerolog.Nop())
		res.Establish(w.store.Snapshot())
		seen[w.get(t, src).Target] = true
	}
	if len(seen) < 2 {
		t.Fatalf("random pick always chose the same destination: %v", seen)
	}
}

type failingStore struct {
	*objstore.Store
	failClaim   objstore.ObjectID
	failPublish objstore.ObjectID
}

func (f *failingStore) Claim(id objstore.ObjectID) (*objstore.Claim, error) {
	if id == f.failClaim {
		return nil, errors.New("claim refused")
	}
	return f.Store.Claim(id)
}

func (f *failingStore) Publish(c *objstore.Claim) error {
	if c.ID() == f.failPublish {
		c.Release()
		return errors.New("publish refused")
	}
	return f.Store.Publish(c)
}

func TestLinkFailureLeavesNoHalfLink(t *testing.T) {
	w := newTestWorld()
	a := w.add("A", objstore.None)
	b := w.add("A", objstore.None)

	fs := &failingStore{Store: w.store, failClaim: b}
	res := NewResolver(fs, "", rand.New(rand.NewSource(1)), zerolog.Nop())
	if ch := res.Establish(w.store.Snapshot()); len(ch) != 0 {
		t.Fatalf("changes=%+v", ch)
	}
	if len(w.pushes) != 0 || !w.get(t, a).Target.IsNone() {
		t.Fatalf("claim failure published something")
	}

	fs = &failingStore{Store: w.store, failPublish: b}
	res = NewResolver(fs, "", rand.New(rand.NewSource(1)), zerolog.Nop())
	if ch := res.Establish(w.store.Snapshot()); len(ch) != 0 {
		t.Fatalf("changes=%+v", ch)
	}
	if !w.get(t, a).Target.IsNone() || !w.get(t, b).Target.IsNone() {
		t.Fatalf("half link left behind: a=%v b=%v", w.get(t, a).Target, w.get(t, b).Target)
	}
}

// lockoutStore refuses b's publish and every claim on a once a has been
// published, so the rollback of a cannot go through.
type lockoutStore struct {
	*objstore.Store
	a, b      objstore.ObjectID
	published bool
}

func (l *lockoutStore) Claim(id objstore.ObjectID) (*objstore.Claim, error) {
	if id == l.a && l.published {
		return nil, errors.New("claim refused")
	}
	return l.Store.Claim(id)
}

func (l *lockoutStore) Publish(c *objstore.Claim) error {
	switch c.ID() {
	case l.b:
		c.Release()
		return errors.New("publish refused")
	case l.a:
		l.published = true
	}
	return l.Store.Publish(c)
}

func TestLinkRollbackFailureIsLogged(t *testing.T) {
	w := newTestWorld()
	a := w.add("A", objstore.None)
	b := w.add("A", objstore.None)

	var buf bytes.Buffer
	ls := &lockoutStore{Store: w.store, a: a, b: b}
	res := NewResolver(ls, "", rand.New(rand.NewSource(1)), zerolog.New(&buf))
	if ch := res.Establish(w.store.Snapshot()); len(ch) != 0 {
		t.Fatalf("changes=%+v", ch)
	}
	if !strings.Contains(buf.String(), "link rollback failed") {
		t.Fatalf("rollback failure not logged: %s", buf.String())
	}
}
