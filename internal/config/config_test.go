package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"linkgate.ai/internal/protocol"
	"linkgate.ai/internal/sim/objstore"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != protocol.Version || cfg.ModName != protocol.ModName || cfg.TickHz != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	lc := cfg.LinkConfig()
	if lc.TypeName != "" || lc.OneWayPrefix != "" {
		t.Fatalf("absent pairing keys must stay unset: %+v", lc)
	}
	if lc.Wait != 5*time.Second {
		t.Fatalf("wait=%v", lc.Wait)
	}
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "linkgate.yaml", `
peer_id: 7
listen: ":9000"
pairing:
  type_name: portal_wood
  oneway_prefix: "!"
  wait_seconds: 0.5
admins: ["alice", " ", "bob"]
objects:
  - {seq: 1, type: portal_wood, x: 1, z: 2, label: A}
  - {seq: 2, type: portal_wood, label: A, target: "7:1"}
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PeerID != 7 || cfg.Listen != ":9000" {
		t.Fatalf("cfg=%+v", cfg)
	}
	lc := cfg.LinkConfig()
	if lc.TypeName != "portal_wood" || lc.OneWayPrefix != "!" || lc.Wait != 500*time.Millisecond {
		t.Fatalf("link config=%+v", lc)
	}
	if lc.LogInterval != time.Minute {
		t.Fatalf("log interval default lost: %v", lc.LogInterval)
	}
	if len(cfg.Admins) != 2 || cfg.Admins[1] != "bob" {
		t.Fatalf("admins=%v", cfg.Admins)
	}
	objs, err := cfg.SeedObjects()
	if err != nil {
		t.Fatalf("SeedObjects: %v", err)
	}
	if len(objs) != 2 {
		t.Fatalf("objects=%d", len(objs))
	}
	if objs[0].ID != (objstore.ObjectID{Owner: 7, Seq: 1}) || objs[0].Sector != (objstore.SectorKey{X: 1, Z: 2}) {
		t.Fatalf("obj0=%+v", objs[0])
	}
	if objs[1].Target != objs[0].ID || objs[1].Type != objstore.HashName("portal_wood") {
		t.Fatalf("obj1=%+v", objs[1])
	}
}

func TestLoadTOML(t *testing.T) {
	p := writeFile(t, "linkgate.toml", `
peer_id = 3
tick_hz = 20

[grid]
width = 8
origin = 4

[pairing]
type_name = "portal_wood"

[index]
disable = true
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PeerID != 3 || cfg.TickHz != 20 || !cfg.Index.Disable {
		t.Fatalf("cfg=%+v", cfg)
	}
	if g := cfg.ObjectGrid(); g.Width != 8 || g.Origin != 4 {
		t.Fatalf("grid=%+v", g)
	}
	if cfg.Pairing.OneWayPrefix != nil {
		t.Fatalf("absent prefix decoded as %q", *cfg.Pairing.OneWayPrefix)
	}
}

func TestBlankPairingKeysAreAbsent(t *testing.T) {
	p := writeFile(t, "c.yaml", "pairing:\n  type_name: \"  \"\n  oneway_prefix: \"\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pairing.TypeName != nil || cfg.Pairing.OneWayPrefix != nil {
		t.Fatalf("blank keys kept: %+v", cfg.Pairing)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"peer id", "peer_id: 0\n", "peer_id"},
		{"wait", "pairing:\n  wait_seconds: -1\n", "wait_seconds"},
		{"dup seq", "objects:\n  - {seq: 1, type: a}\n  - {seq: 1, type: a}\n", "duplicate seq"},
		{"missing type", "objects:\n  - {seq: 1}\n", "type is required"},
		{"bad target", "objects:\n  - {seq: 1, type: a, target: x}\n", "missing ':'"},
	}
	for _, tc := range cases {
		p := writeFile(t, "c.yaml", tc.body)
		_, err := Load(p)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err=%v", tc.name, err)
		}
	}
}

func TestUnsupportedExtension(t *testing.T) {
	p := writeFile(t, "c.ini", "x=1")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for .ini")
	}
}
