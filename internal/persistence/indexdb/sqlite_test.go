package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"linkgate.ai/internal/sim/link"
	"linkgate.ai/internal/sim/objstore"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan link.PassReport, 1)}
	s.ch <- link.PassReport{Stats: link.PassStats{Pass: 1}}

	s.ObservePass(link.PassReport{Stats: link.PassStats{Pass: 2}})
	s.ObservePass(link.PassReport{Stats: link.PassStats{Pass: 3}})

	st := s.Stats()
	if st.DropTotal != 2 {
		t.Fatalf("DropTotal=%d want=2", st.DropTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_RecordsPassesAndChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "linkgate.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	a := objstore.ObjectID{Owner: 1, Seq: 1}
	b := objstore.ObjectID{Owner: 1, Seq: 2}
	c := objstore.ObjectID{Owner: 1, Seq: 3}
	idx.ObservePass(link.PassReport{
		Stats: link.PassStats{Pass: 1, Steps: 2, Candidates: 2, Linked: 2, Started: time.Now(), Duration: time.Millisecond},
		Changes: []link.Change{
			{Kind: link.Linked, From: a, To: b, Label: "A"},
			{Kind: link.Linked, From: b, To: a, Label: "A"},
		},
	})
	idx.ObservePass(link.PassReport{
		Stats: link.PassStats{Pass: 2, Candidates: 3, Unlinked: 1},
		Changes: []link.Change{
			{Kind: link.Unlinked, From: c, To: a, Label: "B", Reason: link.ReasonLabelMismatch},
		},
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = idx.Close() }()

	ctx := context.Background()
	n, err := idx.PassCount(ctx)
	if err != nil || n != 2 {
		t.Fatalf("PassCount=%d err=%v", n, err)
	}
	rows, err := idx.ChangesFor(ctx, a.String())
	if err != nil {
		t.Fatalf("ChangesFor: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows=%+v", rows)
	}
	last := rows[2]
	if last.Pass != 2 || last.Kind != link.Unlinked || last.Reason != link.ReasonLabelMismatch || last.From != "1:3" {
		t.Fatalf("last=%+v", last)
	}
}

func TestSQLiteIndex_RestartKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.sqlite")
	a := objstore.ObjectID{Owner: 1, Seq: 1}
	b := objstore.ObjectID{Owner: 1, Seq: 2}

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	ctx := context.Background()
	if last, err := idx.LastPass(ctx); err != nil || last != 0 {
		t.Fatalf("empty LastPass=%d err=%v", last, err)
	}
	idx.ObservePass(link.PassReport{
		Stats:   link.PassStats{Pass: 1, Linked: 1},
		Changes: []link.Change{{Kind: link.Linked, From: a, To: b, Label: "A"}},
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Second run: a fresh cycle resumes after the indexed passes.
	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	last, err := idx.LastPass(ctx)
	if err != nil || last != 1 {
		t.Fatalf("LastPass=%d err=%v", last, err)
	}
	store := objstore.New(1, objstore.Grid{Width: 2, Origin: 1})
	cycle := link.NewCycle(store, store, link.Config{TypeName: "gate", OneWayPrefix: "!"}, nil, zerolog.Nop())
	cycle.ResumeFrom(last)
	cycle.Observe(idx)
	if rep := cycle.RunPass(time.Now()); rep.Stats.Pass != 2 {
		t.Fatalf("resumed pass=%d want=2", rep.Stats.Pass)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = idx.Close() }()
	if n, err := idx.PassCount(ctx); err != nil || n != 2 {
		t.Fatalf("PassCount=%d err=%v", n, err)
	}
	rows, err := idx.ChangesFor(ctx, a.String())
	if err != nil || len(rows) != 1 || rows[0].Pass != 1 {
		t.Fatalf("first run history lost: rows=%+v err=%v", rows, err)
	}
}
