package registry

import (
	"testing"

	"github.com/stratawm/strata/internal/proto"
)

func TestAttachReplaces(t *testing.T) {
	r := New()
	r.Attach("DP-1", PhysicalInfo{Model: "old"}, []proto.Mode{{Width: 800, Height: 600, RefreshMhz: 60000}})
	r.Attach("DP-1", PhysicalInfo{Model: "new"}, []proto.Mode{{Width: 1920, Height: 1080, RefreshMhz: 60000}})

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("got %d outputs, want 1", len(snap))
	}
	cap := snap["DP-1"]
	if cap.Physical.Model != "new" || len(cap.Modes) != 1 || cap.Modes[0].Width != 1920 {
		t.Errorf("attach did not replace the record: %+v", cap)
	}
}

func TestDetachUnknownIsNoop(t *testing.T) {
	r := New()
	r.Attach("DP-1", PhysicalInfo{}, nil)

	gen := r.Generation()
	r.Detach("HDMI-5")

	if len(r.Snapshot()) != 1 {
		t.Errorf("detach of unknown output changed the registry")
	}
	if r.Generation() == gen {
		t.Errorf("detach must still invalidate cached resolutions")
	}
}

func TestNormalizeModes(t *testing.T) {
	r := New()
	r.Attach("DP-1", PhysicalInfo{}, []proto.Mode{
		{Width: 1920, Height: 1080, RefreshMhz: 60000},
		{Width: 1920, Height: 1080, RefreshMhz: 60000, Preferred: true},
		{Width: 1920, Height: 1080, RefreshMhz: 60000, Vrr: true},
		{Width: 1280, Height: 720, RefreshMhz: 60000, Preferred: true},
	})

	modes := r.Snapshot()["DP-1"].Modes
	if len(modes) != 2 {
		t.Fatalf("got %d modes, want duplicates merged into 2: %+v", len(modes), modes)
	}
	if !modes[0].Preferred {
		t.Errorf("preferred flag from the duplicate should survive the merge")
	}
	if !modes[0].Vrr {
		t.Errorf("vrr flag from the duplicate should survive the merge")
	}
	if modes[1].Preferred {
		t.Errorf("only one mode may be preferred: %+v", modes)
	}
}

func TestRefreshModes(t *testing.T) {
	r := New()
	r.Attach("DP-1", PhysicalInfo{Model: "keepme"}, []proto.Mode{{Width: 800, Height: 600, RefreshMhz: 60000}})

	r.RefreshModes("DP-1", []proto.Mode{{Width: 1920, Height: 1080, RefreshMhz: 60000, Preferred: true}})
	cap := r.Snapshot()["DP-1"]
	if cap.Physical.Model != "keepme" {
		t.Errorf("refresh must not touch physical info")
	}
	if len(cap.Modes) != 1 || cap.Modes[0].Width != 1920 {
		t.Errorf("modes not replaced: %+v", cap.Modes)
	}

	gen := r.Generation()
	r.RefreshModes("HDMI-5", nil)
	if r.Generation() != gen+1 {
		t.Errorf("unknown output refresh should still bump the generation")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	r := New()
	r.Attach("DP-1", PhysicalInfo{}, []proto.Mode{{Width: 800, Height: 600, RefreshMhz: 60000}})

	snap := r.Snapshot()
	snap["DP-1"].Modes[0] = proto.Mode{}
	delete(snap, "DP-1")

	if cap, ok := r.Snapshot()["DP-1"]; !ok || cap.Modes[0].Width != 800 {
		t.Errorf("mutating a snapshot leaked into the registry")
	}
}
