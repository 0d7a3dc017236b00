package broker

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stratawm/strata/internal/backend"
	"github.com/stratawm/strata/internal/proto"
	"github.com/stratawm/strata/internal/wire"
)

func startServer(t *testing.T, opts Options) (*backend.Fake, *Broker, string) {
	t.Helper()

	fake := backend.NewFake(backend.DefaultOutputs()...)
	b := New(fake, opts)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Serve(ctx)

	socketPath := filepath.Join(t.TempDir(), "stratad.sock")
	srv := NewServer(b, socketPath)
	go srv.Serve(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server socket never came up")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fake, b, socketPath
}

func dialClient(t *testing.T, socketPath string) *wire.Client {
	t.Helper()

	client, err := wire.Dial(socketPath)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	t.Cleanup(func() { client.Close() })
	if err := client.Handshake(); err != nil {
		t.Fatalf("handshake: %s", err)
	}
	return client
}

func queryOutputs(t *testing.T, client *wire.Client) []proto.LogicalOutput {
	t.Helper()

	resp, err := client.Request(proto.GetOutputs{})
	if err != nil {
		t.Fatalf("get_outputs: %s", err)
	}
	ok, isOk := resp.(proto.Ok)
	if !isOk {
		t.Fatalf("get_outputs response = %#v", resp)
	}
	var outputs []proto.LogicalOutput
	if err := json.Unmarshal(ok.Payload, &outputs); err != nil {
		t.Fatalf("decode outputs: %s", err)
	}
	return outputs
}

// waitOutputsChanged reads events until the next outputs_changed, skipping
// unrelated events.
func waitOutputsChanged(t *testing.T, client *wire.Client) proto.OutputsChanged {
	t.Helper()

	for i := 0; i < 32; i++ {
		event, err := client.NextEvent()
		if err != nil {
			t.Fatalf("next event: %s", err)
		}
		if oc, ok := event.(proto.OutputsChanged); ok {
			return oc
		}
	}
	t.Fatal("no outputs_changed event arrived")
	return proto.OutputsChanged{}
}

func waitWindowsChanged(t *testing.T, client *wire.Client) proto.WindowsChanged {
	t.Helper()

	for i := 0; i < 32; i++ {
		event, err := client.NextEvent()
		if err != nil {
			t.Fatalf("next event: %s", err)
		}
		if wc, ok := event.(proto.WindowsChanged); ok {
			return wc
		}
	}
	t.Fatal("no windows_changed event arrived")
	return proto.WindowsChanged{}
}

func waitLayersChanged(t *testing.T, client *wire.Client) proto.LayersChanged {
	t.Helper()

	for i := 0; i < 32; i++ {
		event, err := client.NextEvent()
		if err != nil {
			t.Fatalf("next event: %s", err)
		}
		if lc, ok := event.(proto.LayersChanged); ok {
			return lc
		}
	}
	t.Fatal("no layers_changed event arrived")
	return proto.LayersChanged{}
}

func TestHandshakeVersionMismatch(t *testing.T) {
	_, _, socketPath := startServer(t, Options{})

	raw, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	defer raw.Close()
	conn := wire.NewConn(raw)

	data, err := proto.EncodeRequest(proto.Handshake{Version: proto.Version + 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(data); err != nil {
		t.Fatal(err)
	}

	payload, err := conn.Read()
	if err != nil {
		t.Fatalf("read: %s", err)
	}
	resp, err := proto.DecodeResponse(payload)
	if err != nil {
		t.Fatalf("decode: %s", err)
	}
	e, ok := resp.(proto.Err)
	if !ok || e.Err.Kind != proto.ErrVersionMismatch {
		t.Fatalf("got %#v, want version mismatch error", resp)
	}

	// The server closes the connection; no events ever arrive.
	if _, err := conn.Read(); err == nil {
		t.Fatal("connection still open after version mismatch")
	}
}

func TestHandshakeMustComeFirst(t *testing.T) {
	_, _, socketPath := startServer(t, Options{})

	raw, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	defer raw.Close()
	conn := wire.NewConn(raw)

	data, _ := proto.EncodeRequest(proto.GetOutputs{})
	if err := conn.Write(data); err != nil {
		t.Fatal(err)
	}

	payload, err := conn.Read()
	if err != nil {
		t.Fatalf("read: %s", err)
	}
	resp, err := proto.DecodeResponse(payload)
	if err != nil {
		t.Fatalf("decode: %s", err)
	}
	e, ok := resp.(proto.Err)
	if !ok || e.Err.Kind != proto.ErrInvalidRequest {
		t.Fatalf("got %#v, want invalid request error", resp)
	}
	if _, err := conn.Read(); err == nil {
		t.Fatal("connection still open after handshake violation")
	}
}

func TestInitialLayoutQueries(t *testing.T) {
	_, _, socketPath := startServer(t, Options{})
	client := dialClient(t, socketPath)

	outputs := queryOutputs(t, client)
	if len(outputs) != 2 {
		t.Fatalf("got %d outputs, want 2", len(outputs))
	}
	// Automatic placement packs in name order: DP-1 at the origin, eDP-1
	// beside it.
	if outputs[0].Output != "DP-1" || outputs[1].Output != "eDP-1" {
		t.Fatalf("output order = %s, %s", outputs[0].Output, outputs[1].Output)
	}
	if outputs[0].X != 0 || outputs[0].Y != 0 {
		t.Errorf("DP-1 at (%d, %d), want the origin", outputs[0].X, outputs[0].Y)
	}
	if outputs[1].X != outputs[0].Width {
		t.Errorf("eDP-1 at x=%d, want flush against DP-1 at %d", outputs[1].X, outputs[0].Width)
	}
	if outputs[0].Overlaps(outputs[1]) {
		t.Error("outputs overlap")
	}
	// DP-1 picks its preferred mode and honors on-if-supported VRR.
	if outputs[0].Mode.Width != 2560 || outputs[0].Mode.RefreshMhz != 143912 {
		t.Errorf("DP-1 mode = %+v, want the preferred 2560x1440@143.912", outputs[0].Mode)
	}
	if !outputs[0].Vrr {
		t.Error("DP-1 VRR off, want on-if-supported to enable it")
	}
	if outputs[1].Vrr {
		t.Error("eDP-1 VRR on without hardware support")
	}

	resp, err := client.Request(proto.GetWorkspaces{})
	if err != nil {
		t.Fatal(err)
	}
	var workspaces []proto.Workspace
	if err := json.Unmarshal(resp.(proto.Ok).Payload, &workspaces); err != nil {
		t.Fatal(err)
	}
	if len(workspaces) != 2 {
		t.Fatalf("got %d workspaces, want one per output", len(workspaces))
	}
}

func TestSetOutputConfigApplied(t *testing.T) {
	_, _, socketPath := startServer(t, Options{})
	client := dialClient(t, socketPath)

	resp, err := client.Request(proto.SetOutputConfig{Outputs: []proto.OutputConfig{{
		Output:   "DP-1",
		Mode:     proto.ConfiguredMode{Width: 1920, Height: 1080},
		Position: proto.ConfiguredPosition{Automatic: true},
		Scale:    proto.ScaleToSet{Scale: 1},
		Vrr:      proto.VrrOff,
	}}})
	if err != nil {
		t.Fatal(err)
	}
	result, ok := resp.(proto.OutputConfigResult)
	if !ok {
		t.Fatalf("got %#v, want an output config result", resp)
	}
	if got := result.Results["DP-1"].Changed; got != proto.OutputApplied {
		t.Fatalf("DP-1 outcome = %s, want applied", got)
	}

	outputs := queryOutputs(t, client)
	if outputs[0].Mode.Width != 1920 || outputs[0].Mode.Height != 1080 {
		t.Errorf("DP-1 mode = %+v, want 1920x1080", outputs[0].Mode)
	}
	if outputs[0].Scale != 1 || outputs[0].Vrr {
		t.Errorf("DP-1 scale=%v vrr=%v, want scale 1 and VRR off", outputs[0].Scale, outputs[0].Vrr)
	}
}

func TestSetOutputConfigRejectsBadMode(t *testing.T) {
	_, _, socketPath := startServer(t, Options{})
	client := dialClient(t, socketPath)

	before := queryOutputs(t, client)

	resp, err := client.Request(proto.SetOutputConfig{Outputs: []proto.OutputConfig{{
		Output:   "DP-1",
		Mode:     proto.ConfiguredMode{Width: 123, Height: 456},
		Position: proto.ConfiguredPosition{Automatic: true},
		Scale:    proto.ScaleToSet{Automatic: true},
	}}})
	if err != nil {
		t.Fatal(err)
	}
	outcome := resp.(proto.OutputConfigResult).Results["DP-1"]
	if outcome.Changed != proto.OutputFailed {
		t.Fatalf("outcome = %s, want failed", outcome.Changed)
	}
	if outcome.Error == nil || outcome.Error.Kind != proto.ErrModeUnavailable {
		t.Fatalf("outcome error = %#v, want mode unavailable", outcome.Error)
	}

	// A rejected configuration leaves the layout exactly as it was.
	after := queryOutputs(t, client)
	if len(after) != len(before) || after[0] != before[0] || after[1] != before[1] {
		t.Errorf("layout changed by a rejected config:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestSetOutputConfigMissingOutputStored(t *testing.T) {
	fake, _, socketPath := startServer(t, Options{})
	client := dialClient(t, socketPath)

	if resp, err := client.Request(proto.Subscribe{}); err != nil {
		t.Fatal(err)
	} else if _, ok := resp.(proto.Ok); !ok {
		t.Fatalf("subscribe response = %#v", resp)
	}

	resp, err := client.Request(proto.SetOutputConfig{Outputs: []proto.OutputConfig{{
		Output:   "HDMI-1",
		Mode:     proto.ConfiguredMode{Width: 800, Height: 600},
		Position: proto.ConfiguredPosition{Automatic: true},
		Scale:    proto.ScaleToSet{Scale: 1},
	}}})
	if err != nil {
		t.Fatal(err)
	}
	if got := resp.(proto.OutputConfigResult).Results["HDMI-1"].Changed; got != proto.OutputWasMissing {
		t.Fatalf("outcome = %s, want output_was_missing", got)
	}

	// The configuration takes hold when the output attaches.
	fake.Plug(backend.Output{
		Name: "HDMI-1",
		Modes: []proto.Mode{
			{Width: 1920, Height: 1080, RefreshMhz: 60000, Preferred: true},
			{Width: 800, Height: 600, RefreshMhz: 60000},
		},
	})

	for {
		oc := waitOutputsChanged(t, client)
		for _, lo := range oc.Outputs {
			if lo.Output == "HDMI-1" {
				if lo.Mode.Width != 800 || lo.Mode.Height != 600 {
					t.Fatalf("HDMI-1 mode = %+v, want the stored 800x600", lo.Mode)
				}
				return
			}
		}
	}
}

func TestResponseArrivesBeforeResultingEvents(t *testing.T) {
	_, _, socketPath := startServer(t, Options{})

	raw, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	conn := wire.NewConn(raw)

	send := func(req proto.Request) {
		t.Helper()
		data, err := proto.EncodeRequest(req)
		if err != nil {
			t.Fatal(err)
		}
		if err := conn.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	readFrame := func() []byte {
		t.Helper()
		payload, err := conn.Read()
		if err != nil {
			t.Fatalf("read: %s", err)
		}
		return payload
	}

	send(proto.Handshake{Version: proto.Version})
	readFrame()

	send(proto.Subscribe{})
	if resp, err := proto.DecodeResponse(readFrame()); err != nil {
		t.Fatal(err)
	} else if _, ok := resp.(proto.Ok); !ok {
		t.Fatalf("subscribe response = %#v", resp)
	}

	// The initial state arrives as four events, outputs first.
	wantOrder := []string{"outputs_changed", "windows_changed", "workspaces_changed", "layers_changed"}
	for _, want := range wantOrder {
		event, err := proto.DecodeEvent(readFrame())
		if err != nil {
			t.Fatal(err)
		}
		if event.EventName() != want {
			t.Fatalf("initial event = %s, want %s", event.EventName(), want)
		}
	}

	// A layout-changing request: its response must land before the
	// outputs_changed it provokes.
	send(proto.SetOutputConfig{Outputs: []proto.OutputConfig{{
		Output:   "DP-1",
		Mode:     proto.ConfiguredMode{Automatic: true},
		Position: proto.ConfiguredPosition{Automatic: true},
		Scale:    proto.ScaleToSet{Scale: 2},
	}}})

	resp, err := proto.DecodeResponse(readFrame())
	if err != nil {
		t.Fatalf("frame after set_output_config is not the response: %s", err)
	}
	if _, ok := resp.(proto.OutputConfigResult); !ok {
		t.Fatalf("got %#v, want the config result first", resp)
	}

	event, err := proto.DecodeEvent(readFrame())
	if err != nil {
		t.Fatal(err)
	}
	if event.EventName() != "outputs_changed" {
		t.Fatalf("event after response = %s, want outputs_changed", event.EventName())
	}
}

func TestUnchangedConfigEmitsNoEvents(t *testing.T) {
	fake, _, socketPath := startServer(t, Options{})
	client := dialClient(t, socketPath)

	if _, err := client.Request(proto.Subscribe{}); err != nil {
		t.Fatal(err)
	}
	// Drain the initial full state.
	for i := 0; i < 4; i++ {
		if _, err := client.NextEvent(); err != nil {
			t.Fatal(err)
		}
	}

	// Requesting what is already in effect resolves to the same layout and
	// must stay silent.
	resp, err := client.Request(proto.SetOutputConfig{Outputs: []proto.OutputConfig{{
		Output:   "eDP-1",
		Mode:     proto.ConfiguredMode{Automatic: true},
		Position: proto.ConfiguredPosition{Automatic: true},
		Scale:    proto.ScaleToSet{Automatic: true},
		Vrr:      proto.VrrOnIfCapable,
	}}})
	if err != nil {
		t.Fatal(err)
	}
	if got := resp.(proto.OutputConfigResult).Results["eDP-1"].Changed; got != proto.OutputApplied {
		t.Fatalf("outcome = %s, want applied", got)
	}

	// Provoke a real event; it must be the first thing on the wire.
	fake.Unplug("DP-1")
	oc := waitOutputsChanged(t, client)
	if len(oc.Outputs) != 1 || oc.Outputs[0].Output != "eDP-1" {
		t.Fatalf("first event after silence = %+v, want the detach's layout", oc.Outputs)
	}
}

func TestHotplugRoundTrip(t *testing.T) {
	fake, _, socketPath := startServer(t, Options{})
	client := dialClient(t, socketPath)

	if _, err := client.Request(proto.Subscribe{}); err != nil {
		t.Fatal(err)
	}

	fake.Unplug("DP-1")
	oc := waitOutputsChanged(t, client)
	if len(oc.Outputs) == 2 {
		// First outputs_changed may be the initial state; take the next.
		oc = waitOutputsChanged(t, client)
	}
	if len(oc.Outputs) != 1 || oc.Outputs[0].Output != "eDP-1" {
		t.Fatalf("after detach: %+v", oc.Outputs)
	}
	if oc.Outputs[0].X != 0 {
		t.Errorf("remaining output at x=%d, want repacked to the origin", oc.Outputs[0].X)
	}

	fake.Plug(backend.DefaultOutputs()[1])
	oc = waitOutputsChanged(t, client)
	if len(oc.Outputs) != 2 {
		t.Fatalf("after reattach: %+v", oc.Outputs)
	}
}

func TestActionsOverSocket(t *testing.T) {
	_, b, socketPath := startServer(t, Options{})
	client := dialClient(t, socketPath)

	if _, err := client.Request(proto.Subscribe{}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, err := client.NextEvent(); err != nil {
			t.Fatal(err)
		}
	}

	b.AddWindow(context.Background(), 1, "terminal", "org.strata.term")
	wc := waitWindowsChanged(t, client)
	if len(wc.Diff.Added) != 1 || wc.Diff.Added[0].ID != 1 {
		t.Fatalf("windows diff = %+v, want window 1 added", wc.Diff)
	}

	resp, err := client.Request(proto.DoAction{Action: proto.ResizeColumn{
		Change: proto.SizeChange{Kind: proto.SizeSetFixed, Pixels: 500},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := resp.(proto.Ok); !ok {
		t.Fatalf("action response = %#v", resp)
	}

	wc = waitWindowsChanged(t, client)
	if len(wc.Diff.Changed) != 1 || wc.Diff.Changed[0].Width != 500 {
		t.Fatalf("windows diff = %+v, want window 1 at width 500", wc.Diff)
	}

	// A failing action reports its error and changes nothing.
	resp, err = client.Request(proto.DoAction{Action: proto.SwitchLayout{
		Layout: proto.LayoutSwitchTarget{Kind: proto.LayoutSwitchIndex, Index: 42},
	}})
	if err != nil {
		t.Fatal(err)
	}
	e, ok := resp.(proto.Err)
	if !ok || e.Err.Kind != proto.ErrIndexOutOfRange {
		t.Fatalf("got %#v, want index out of range", resp)
	}
}

func TestLayerSurfaceReporting(t *testing.T) {
	_, b, socketPath := startServer(t, Options{})
	client := dialClient(t, socketPath)

	if _, err := client.Request(proto.Subscribe{}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, err := client.NextEvent(); err != nil {
			t.Fatal(err)
		}
	}

	bar := proto.LayerSurface{Namespace: "bar", Output: "eDP-1", Layer: proto.LayerTop, KeyboardInteractivity: proto.KeyboardInteractivityOnDemand}
	notify := proto.LayerSurface{Namespace: "notifications", Output: "eDP-1", Layer: proto.LayerOverlay, KeyboardInteractivity: proto.KeyboardInteractivityNone}
	b.SetLayers(context.Background(), []proto.LayerSurface{bar, notify})

	lc := waitLayersChanged(t, client)
	if len(lc.Diff.Added) != 2 || len(lc.Diff.Changed) != 0 || len(lc.Diff.Removed) != 0 {
		t.Fatalf("layers diff = %+v, want both surfaces added", lc.Diff)
	}

	resp, err := client.Request(proto.GetLayers{})
	if err != nil {
		t.Fatal(err)
	}
	var layers []proto.LayerSurface
	if err := json.Unmarshal(resp.(proto.Ok).Payload, &layers); err != nil {
		t.Fatal(err)
	}
	if len(layers) != 2 || layers[0] != bar || layers[1] != notify {
		t.Fatalf("get_layers = %+v", layers)
	}

	// The bar changes layer, the notification surface goes away and a
	// launcher appears, all in one report.
	launcher := proto.LayerSurface{Namespace: "launcher", Output: "DP-1", Layer: proto.LayerOverlay, KeyboardInteractivity: proto.KeyboardInteractivityExclusive}
	bar.Layer = proto.LayerOverlay
	b.SetLayers(context.Background(), []proto.LayerSurface{bar, launcher})

	lc = waitLayersChanged(t, client)
	if len(lc.Diff.Added) != 1 || lc.Diff.Added[0] != launcher {
		t.Errorf("added = %+v, want the launcher", lc.Diff.Added)
	}
	if len(lc.Diff.Changed) != 1 || lc.Diff.Changed[0] != bar {
		t.Errorf("changed = %+v, want the moved bar", lc.Diff.Changed)
	}
	if len(lc.Diff.Removed) != 1 || lc.Diff.Removed[0] != "notifications" {
		t.Errorf("removed = %+v, want notifications", lc.Diff.Removed)
	}
}

func TestLaggingSubscriberGetsOverflowError(t *testing.T) {
	_, b, socketPath := startServer(t, Options{QueueCapacity: 8})

	raw, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	conn := wire.NewConn(raw)

	send := func(req proto.Request) {
		t.Helper()
		data, _ := proto.EncodeRequest(req)
		if err := conn.Write(data); err != nil {
			t.Fatal(err)
		}
	}

	send(proto.Handshake{Version: proto.Version})
	conn.Read()
	send(proto.Subscribe{})
	// Drain the subscribe response and the initial full state.
	for i := 0; i < 5; i++ {
		if _, err := conn.Read(); err != nil {
			t.Fatal(err)
		}
	}

	// Flood without reading until the queue overflows.
	for id := uint64(1); id <= 32; id++ {
		b.AddWindow(context.Background(), id, "w", "app")
	}

	sawOverflow := false
	for i := 0; i < 64; i++ {
		payload, err := conn.Read()
		if err != nil {
			break
		}
		resp, err := proto.DecodeResponse(payload)
		if err != nil {
			continue // an event frame
		}
		if e, ok := resp.(proto.Err); ok && e.Err.Kind == proto.ErrEventBacklogOverflow {
			sawOverflow = true
			break
		}
	}
	if !sawOverflow {
		t.Fatal("lagging subscriber never received the overflow error")
	}
	if _, err := conn.Read(); err == nil {
		t.Fatal("connection still open after overflow disconnect")
	}
}
