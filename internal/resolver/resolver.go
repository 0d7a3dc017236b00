// Package resolver merges per-output configuration requests against
// hardware-reported capabilities into a single logical layout.
//
// Resolution is pure: the same requests against the same capability snapshot
// produce an identical layout. Each output resolves independently; a failed
// output is reported in its outcome and never blocks the others.
//
// Two constants are deliberately part of the contract here rather than being
// guessed per call site: a requested refresh rate matches a mode when it is
// within RefreshTolerance (a fraction of the requested rate, compared in
// millihertz), and scale factors snap to multiples of ScaleStep, the
// granularity fractional scaling backends accept.
package resolver

import (
	"math"
	"sort"

	"github.com/stratawm/strata/internal/proto"
	"github.com/stratawm/strata/internal/registry"
)

const (
	// RefreshTolerance is the default tolerance for matching a requested
	// refresh rate: 1 part in 1000.
	RefreshTolerance = 0.001

	// ScaleStep is the smallest scale increment the backend supports, the
	// fractional-scale protocol unit.
	ScaleStep = 1.0 / 120

	minScale = 0.1
	maxScale = 10.0
)

type Resolver struct {
	refreshTolerance float64
}

type Option func(*Resolver)

// WithRefreshTolerance overrides the refresh-match tolerance, given as a
// fraction of the requested rate.
func WithRefreshTolerance(fraction float64) Option {
	return func(r *Resolver) {
		if fraction > 0 {
			r.refreshTolerance = fraction
		}
	}
}

func New(opts ...Option) *Resolver {
	r := &Resolver{refreshTolerance: RefreshTolerance}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result is one resolution pass: the layout holds every output that resolved,
// outcomes hold one entry per requested output.
type Result struct {
	Layout   map[string]proto.LogicalOutput
	Outcomes map[string]proto.OutputOutcome
}

// Outputs returns the layout sorted by output name.
func (r Result) Outputs() []proto.LogicalOutput {
	outputs := make([]proto.LogicalOutput, 0, len(r.Layout))
	for _, lo := range r.Layout {
		outputs = append(outputs, lo)
	}
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Output < outputs[j].Output })
	return outputs
}

// Resolve computes the logical layout for the given requests, in request
// order, against a capability snapshot. Requests naming outputs absent from
// the snapshot are reported OutputWasMissing and skipped.
func (r *Resolver) Resolve(requests []proto.OutputConfig, caps map[string]registry.Capability) Result {
	result := Result{
		Layout:   make(map[string]proto.LogicalOutput, len(requests)),
		Outcomes: make(map[string]proto.OutputOutcome, len(requests)),
	}

	// First pass: everything except position. Failures drop the output from
	// the geometry pass.
	resolved := make([]proto.LogicalOutput, 0, len(requests))
	positions := make(map[string]proto.ConfiguredPosition, len(requests))
	for _, req := range requests {
		cap, ok := caps[req.Output]
		if !ok {
			result.Outcomes[req.Output] = proto.OutputOutcome{Changed: proto.OutputWasMissing}
			continue
		}

		lo, perr := r.resolveOutput(req, cap)
		if perr != nil {
			result.Outcomes[req.Output] = proto.OutputOutcome{Changed: proto.OutputFailed, Error: perr}
			continue
		}

		resolved = append(resolved, lo)
		positions[req.Output] = req.Position
		result.Outcomes[req.Output] = proto.OutputOutcome{Changed: proto.OutputApplied}
	}

	// Second pass: placement. Explicit positions first, in request order;
	// automatic ones after, sorted by output name, packed left to right.
	var placed []proto.LogicalOutput
	var automatic []proto.LogicalOutput
	for _, lo := range resolved {
		pos := positions[lo.Output]
		if pos.Automatic {
			automatic = append(automatic, lo)
			continue
		}
		lo.X, lo.Y = pos.X, pos.Y
		if overlapsAny(lo, placed) {
			// An explicit position that collides with an already-placed
			// output degrades to automatic placement rather than failing,
			// keeping the no-overlap invariant.
			automatic = append(automatic, lo)
			continue
		}
		placed = append(placed, lo)
	}

	sort.Slice(automatic, func(i, j int) bool { return automatic[i].Output < automatic[j].Output })
	for _, lo := range automatic {
		lo.X, lo.Y = packPosition(lo, placed), 0
		placed = append(placed, lo)
	}

	for _, lo := range placed {
		result.Layout[lo.Output] = lo
	}
	return result
}

// resolveOutput settles everything but position: mode, scale, transform, vrr
// and the resulting logical size.
func (r *Resolver) resolveOutput(req proto.OutputConfig, cap registry.Capability) (proto.LogicalOutput, *proto.Error) {
	mode, perr := r.resolveMode(req.Mode, cap)
	if perr != nil {
		return proto.LogicalOutput{}, perr
	}

	scale, perr := resolveScale(req.Scale, mode, cap.Physical)
	if perr != nil {
		return proto.LogicalOutput{}, perr
	}

	transform := req.Transform
	if transform == "" {
		transform = proto.TransformNormal
	}
	if !transform.Valid() {
		return proto.LogicalOutput{}, proto.NewError(proto.ErrInvalidRequest, "unknown transform %q", transform)
	}

	vrr, perr := resolveVrr(req.Vrr, mode)
	if perr != nil {
		return proto.LogicalOutput{}, perr
	}

	width := int(math.Round(float64(mode.Width) / scale))
	height := int(math.Round(float64(mode.Height) / scale))
	if transform.Rotated() {
		width, height = height, width
	}

	return proto.LogicalOutput{
		Output:    req.Output,
		Width:     width,
		Height:    height,
		Scale:     scale,
		Transform: transform,
		Mode:      mode,
		Vrr:       vrr,
	}, nil
}

// resolveMode searches the output's mode list. Automatic takes the preferred
// mode, falling back to the first listed. Explicit requests match on
// width/height exactly, then on refresh within tolerance, preferring the
// closest rate; with no refresh given, the preferred mode wins among matches,
// else the highest rate.
func (r *Resolver) resolveMode(req proto.ConfiguredMode, cap registry.Capability) (proto.Mode, *proto.Error) {
	if req.Automatic || (req.Width == 0 && req.Height == 0) {
		if mode, ok := cap.PreferredMode(); ok {
			return mode, nil
		}
		if len(cap.Modes) > 0 {
			return cap.Modes[0], nil
		}
		return proto.Mode{}, proto.NewError(proto.ErrModeUnavailable, "%s reports no modes", cap.Output)
	}

	var matches []proto.Mode
	for _, m := range cap.Modes {
		if m.Width == req.Width && m.Height == req.Height {
			matches = append(matches, m)
		}
	}
	if len(matches) == 0 {
		return proto.Mode{}, proto.NewError(proto.ErrModeUnavailable, "%s has no %dx%d mode", cap.Output, req.Width, req.Height)
	}

	if req.RefreshMhz == nil {
		best := matches[0]
		for _, m := range matches[1:] {
			if m.Preferred && !best.Preferred {
				best = m
			} else if m.Preferred == best.Preferred && m.RefreshMhz > best.RefreshMhz {
				best = m
			}
		}
		return best, nil
	}

	want := *req.RefreshMhz
	tolerance := r.refreshTolerance * float64(want)
	bestIdx := -1
	bestDiff := 0.0
	for i, m := range matches {
		diff := math.Abs(float64(m.RefreshMhz - want))
		if diff > tolerance {
			continue
		}
		if bestIdx == -1 || diff < bestDiff {
			bestIdx, bestDiff = i, diff
		}
	}
	if bestIdx == -1 {
		return proto.Mode{}, proto.NewError(proto.ErrModeUnavailable, "%s has no %dx%d mode near %d mHz", cap.Output, req.Width, req.Height, want)
	}
	return matches[bestIdx], nil
}

// resolveScale clamps explicit scales to the backend step. Automatic scale
// derives from the mode's pixel density over the physical size: logical DPI
// relative to 96, rounded to the nearest quarter, clamped to [1, 4]. Outputs
// with no reported physical size stay at 1.
func resolveScale(req proto.ScaleToSet, mode proto.Mode, physical registry.PhysicalInfo) (float64, *proto.Error) {
	if !req.Automatic {
		s := req.Scale
		if s == 0 {
			return 1, nil
		}
		if math.IsNaN(s) || math.IsInf(s, 0) || s <= 0 {
			return 0, proto.NewError(proto.ErrInvalidRequest, "scale must be positive and finite, got %v", s)
		}
		s = math.Min(math.Max(s, minScale), maxScale)
		return math.Round(s/ScaleStep) * ScaleStep, nil
	}

	if physical.WidthMm <= 0 || mode.Width <= 0 {
		return 1, nil
	}
	dpi := float64(mode.Width) / (float64(physical.WidthMm) / 25.4)
	scale := math.Round(dpi/96*4) / 4
	return math.Min(math.Max(scale, 1), 4), nil
}

func resolveVrr(req proto.VrrToSet, mode proto.Mode) (bool, *proto.Error) {
	switch req {
	case proto.VrrOn:
		if !mode.Vrr {
			return false, proto.NewError(proto.ErrVrrUnsupported, "%dx%d@%d does not support variable refresh", mode.Width, mode.Height, mode.RefreshMhz)
		}
		return true, nil
	case proto.VrrOnIfCapable:
		return mode.Vrr, nil
	default:
		return false, nil
	}
}

func overlapsAny(lo proto.LogicalOutput, placed []proto.LogicalOutput) bool {
	for _, p := range placed {
		if lo.Overlaps(p) {
			return true
		}
	}
	return false
}

// packPosition finds the smallest x at which the output fits without
// overlapping anything already placed. Candidates are x = 0 and the right
// edge of every placed rectangle, a single-row shelf pack.
func packPosition(lo proto.LogicalOutput, placed []proto.LogicalOutput) int {
	candidates := []int{0}
	for _, p := range placed {
		candidates = append(candidates, p.X+p.Width)
	}
	sort.Ints(candidates)

	for _, x := range candidates {
		if x < 0 {
			continue
		}
		lo.X, lo.Y = x, 0
		if !overlapsAny(lo, placed) {
			return x
		}
	}

	// Unreachable: the rightmost edge always fits.
	right := 0
	for _, p := range placed {
		if p.X+p.Width > right {
			right = p.X + p.Width
		}
	}
	return right
}
