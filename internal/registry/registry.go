// Package registry tracks currently attached outputs and their
// hardware-reported capabilities. Only hot-plug notifications from the
// display backend mutate it.
package registry

import (
	"sync"

	"github.com/stratawm/strata/internal/proto"
)

type PhysicalInfo struct {
	Make     string `json:"make,omitempty"`
	Model    string `json:"model,omitempty"`
	WidthMm  int    `json:"width_mm"`
	HeightMm int    `json:"height_mm"`
}

// Capability is one output's hardware-reported record.
type Capability struct {
	Output   string       `json:"output"`
	Physical PhysicalInfo `json:"physical"`
	Modes    []proto.Mode `json:"modes"`
}

// PreferredMode returns the mode marked preferred, or false if the backend
// reported none.
func (c Capability) PreferredMode() (proto.Mode, bool) {
	for _, m := range c.Modes {
		if m.Preferred {
			return m, true
		}
	}
	return proto.Mode{}, false
}

type Registry struct {
	mu         sync.Mutex
	outputs    map[string]Capability
	generation uint64
}

func New() *Registry {
	return &Registry{
		outputs: make(map[string]Capability),
	}
}

// Attach records an output. Attaching an already-present output replaces its
// record wholesale.
func (r *Registry) Attach(output string, physical PhysicalInfo, modes []proto.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.outputs[output] = Capability{
		Output:   output,
		Physical: physical,
		Modes:    normalizeModes(modes),
	}
	r.generation++
}

// Detach removes an output. Detaching an unknown output is a no-op but still
// invalidates cached resolutions, matching attach.
func (r *Registry) Detach(output string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.outputs, output)
	r.generation++
}

// RefreshModes replaces an output's mode list in place. Unknown outputs are
// ignored.
func (r *Registry) RefreshModes(output string, modes []proto.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.generation++
	cap, ok := r.outputs[output]
	if !ok {
		return
	}
	cap.Modes = normalizeModes(modes)
	r.outputs[output] = cap
}

// Snapshot returns a copy of the current capability records. Callers may hold
// it across later mutations.
func (r *Registry) Snapshot() map[string]Capability {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[string]Capability, len(r.outputs))
	for name, cap := range r.outputs {
		modes := make([]proto.Mode, len(cap.Modes))
		copy(modes, cap.Modes)
		cap.Modes = modes
		snapshot[name] = cap
	}
	return snapshot
}

// Generation increments on every mutation, so callers can detect that the
// capability set changed between two snapshots.
func (r *Registry) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// normalizeModes merges duplicate (width, height, refresh) entries and keeps
// at most one mode marked preferred. Duplicates fold their preferred and vrr
// flags into the surviving entry so a preferred duplicate is not lost.
func normalizeModes(modes []proto.Mode) []proto.Mode {
	out := make([]proto.Mode, 0, len(modes))
	sawPreferred := false
	for _, m := range modes {
		dup := -1
		for i, kept := range out {
			if kept.Same(m) {
				dup = i
				break
			}
		}
		if dup >= 0 {
			if m.Preferred && !sawPreferred {
				out[dup].Preferred = true
				sawPreferred = true
			}
			out[dup].Vrr = out[dup].Vrr || m.Vrr
			continue
		}
		if m.Preferred {
			if sawPreferred {
				m.Preferred = false
			}
			sawPreferred = true
		}
		out = append(out, m)
	}
	return out
}
