package backend

import (
	"context"
	"log/slog"
	"sync"

	"github.com/stratawm/strata/internal/proto"
	"github.com/stratawm/strata/internal/registry"
)

// Fake is an in-memory backend. Plug and Unplug drive hot-plug notifications
// the same way a real backend's udev watcher would.
type Fake struct {
	mu      sync.Mutex
	outputs map[string]Output
	notifyC chan Notification

	// Applied records every ApplyMode call for inspection.
	Applied []AppliedMode
}

type AppliedMode struct {
	Output    string
	Mode      proto.Mode
	Transform proto.Transform
	Scale     float64
}

func NewFake(outputs ...Output) *Fake {
	f := &Fake{
		outputs: make(map[string]Output, len(outputs)),
		notifyC: make(chan Notification, 16),
	}
	for _, o := range outputs {
		f.outputs[o.Name] = o
	}
	return f
}

func (f *Fake) EnumerateOutputs(ctx context.Context) ([]Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Output, 0, len(f.outputs))
	for _, o := range f.outputs {
		out = append(out, o)
	}
	return out, nil
}

func (f *Fake) ApplyMode(ctx context.Context, output string, mode proto.Mode, transform proto.Transform, scale float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Applied = append(f.Applied, AppliedMode{Output: output, Mode: mode, Transform: transform, Scale: scale})
	slog.Debug("Applied hardware mode", "output", output, "mode", mode, "transform", transform, "scale", scale)
	return nil
}

func (f *Fake) Notifications() <-chan Notification {
	return f.notifyC
}

// Plug attaches an output and emits the attach notification.
func (f *Fake) Plug(o Output) {
	f.mu.Lock()
	f.outputs[o.Name] = o
	f.mu.Unlock()

	f.notifyC <- Notification{Kind: OutputAttached, Output: o.Name, Physical: o.Physical, Modes: o.Modes}
}

// Unplug detaches an output and emits the detach notification.
func (f *Fake) Unplug(name string) {
	f.mu.Lock()
	delete(f.outputs, name)
	f.mu.Unlock()

	f.notifyC <- Notification{Kind: OutputDetached, Output: name}
}

// RefreshModes replaces an output's mode list and emits the refresh
// notification.
func (f *Fake) RefreshModes(name string, modes []proto.Mode) {
	f.mu.Lock()
	o, ok := f.outputs[name]
	if ok {
		o.Modes = modes
		f.outputs[name] = o
	}
	f.mu.Unlock()
	if !ok {
		return
	}

	f.notifyC <- Notification{Kind: ModesRefreshed, Output: name, Modes: modes}
}

// DefaultOutputs is the headless-mode hardware: a laptop panel and one
// external monitor.
func DefaultOutputs() []Output {
	return []Output{
		{
			Name:     "eDP-1",
			Physical: registry.PhysicalInfo{Make: "Strata", Model: "Panel 13", WidthMm: 285, HeightMm: 190},
			Modes: []proto.Mode{
				{Width: 2256, Height: 1504, RefreshMhz: 60000, Preferred: true},
				{Width: 1920, Height: 1280, RefreshMhz: 60000},
				{Width: 1280, Height: 854, RefreshMhz: 60000},
			},
		},
		{
			Name:     "DP-1",
			Physical: registry.PhysicalInfo{Make: "Strata", Model: "Display 27", WidthMm: 600, HeightMm: 340},
			Modes: []proto.Mode{
				{Width: 2560, Height: 1440, RefreshMhz: 143912, Preferred: true, Vrr: true},
				{Width: 2560, Height: 1440, RefreshMhz: 59951, Vrr: true},
				{Width: 1920, Height: 1080, RefreshMhz: 60000},
			},
		},
	}
}
