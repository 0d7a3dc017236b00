// Package broker owns the canonical compositor snapshot. It serializes every
// mutation, configuration resolution, action dispatch and hot-plug alike,
// into one total order, then fans resulting events out to subscribers over
// bounded queues. Responses reach the requester before the events their
// mutation produced.
package broker

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/stratawm/strata/internal/backend"
	"github.com/stratawm/strata/internal/bus"
	"github.com/stratawm/strata/internal/dispatch"
	"github.com/stratawm/strata/internal/proto"
	"github.com/stratawm/strata/internal/registry"
	"github.com/stratawm/strata/internal/resolver"
)

// Snapshot is an immutable view of the authoritative state. Readers may hold
// one for as long as they like.
type Snapshot struct {
	Outputs    []proto.LogicalOutput
	Layout     map[string]proto.LogicalOutput
	Windows    []proto.Window
	Workspaces []proto.Workspace
	Layers     []proto.LayerSurface
}

// outbound is one frame queued to a session: exactly one field is set.
type outbound struct {
	resp  proto.Response
	event proto.Event
}

type Options struct {
	// QueueCapacity bounds each subscriber's event queue; a subscriber that
	// falls this far behind is disconnected.
	QueueCapacity int

	// MinWindowSize clamps window and column resizes, logical pixels.
	MinWindowSize int

	// Layouts is the ordered named layout list for switch_layout.
	Layouts []string

	// RefreshTolerance overrides the resolver's refresh-match tolerance.
	RefreshTolerance float64
}

type Broker struct {
	registry   *registry.Registry
	resolver   *resolver.Resolver
	dispatcher *dispatch.Dispatcher
	backend    backend.Backend
	queueCap   int

	taskC    chan func()
	hub      *bus.Hub[outbound]
	snapshot atomic.Pointer[Snapshot]

	// Owned by the Serve goroutine.
	state       *dispatch.State
	outstanding []proto.OutputConfig
	outIndex    map[string]int
	layout      map[string]proto.LogicalOutput
}

func New(be backend.Backend, opts Options) *Broker {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 64
	}

	var resolverOpts []resolver.Option
	if opts.RefreshTolerance > 0 {
		resolverOpts = append(resolverOpts, resolver.WithRefreshTolerance(opts.RefreshTolerance))
	}

	b := &Broker{
		registry:   registry.New(),
		resolver:   resolver.New(resolverOpts...),
		dispatcher: dispatch.New(opts.MinWindowSize),
		backend:    be,
		queueCap:   opts.QueueCapacity,
		taskC:      make(chan func()),
		hub:        bus.NewHub[outbound](),
		state:      dispatch.NewState(opts.Layouts),
		outIndex:   make(map[string]int),
		layout:     make(map[string]proto.LogicalOutput),
	}
	b.snapshot.Store(&Snapshot{Layout: map[string]proto.LogicalOutput{}})
	return b
}

func (b *Broker) String() string {
	return "broker"
}

// Serve runs the mutation loop until the context ends. It enumerates the
// backend's outputs first so the initial snapshot is complete before any
// client connects.
func (b *Broker) Serve(ctx context.Context) error {
	outputs, err := b.backend.EnumerateOutputs(ctx)
	if err != nil {
		return err
	}
	for _, o := range outputs {
		b.registry.Attach(o.Name, o.Physical, o.Modes)
		b.ensureOutstanding(o.Name)
	}
	b.recompute(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-b.taskC:
			task()
		case n, ok := <-b.backend.Notifications():
			if !ok {
				return nil
			}
			b.handleHotplug(ctx, n)
		}
	}
}

// Snapshot returns the current immutable snapshot without touching the
// mutation path.
func (b *Broker) Snapshot() *Snapshot {
	return b.snapshot.Load()
}

// submit hands a task to the mutation loop. It reports false when the broker
// is shutting down.
func (b *Broker) submit(ctx context.Context, task func()) bool {
	select {
	case b.taskC <- task:
		return true
	case <-ctx.Done():
		return false
	}
}

// ensureOutstanding guarantees an output has a configuration request on
// record, defaulting everything to automatic.
func (b *Broker) ensureOutstanding(output string) {
	if _, ok := b.outIndex[output]; ok {
		return
	}
	b.outIndex[output] = len(b.outstanding)
	b.outstanding = append(b.outstanding, proto.OutputConfig{
		Output:   output,
		Mode:     proto.ConfiguredMode{Automatic: true},
		Position: proto.ConfiguredPosition{Automatic: true},
		Scale:    proto.ScaleToSet{Automatic: true},
		Vrr:      proto.VrrOnIfCapable,
	})
}

// recompute resolves the outstanding configuration against the registry,
// applies hardware changes, reconciles workspaces and publishes a fresh
// snapshot. It returns the events describing what changed.
func (b *Broker) recompute(ctx context.Context) []proto.Event {
	before := b.snapshot.Load()

	result := b.resolver.Resolve(b.outstanding, b.registry.Snapshot())

	var events []proto.Event
	if !layoutsEqual(b.layout, result.Layout) {
		b.applyHardware(ctx, result.Layout)
		b.layout = result.Layout
		b.state.SyncOutputs(result.Layout)
		events = append(events, proto.OutputsChanged{Outputs: result.Outputs()})
	}

	b.commit()
	after := b.snapshot.Load()

	if diff := diffWindows(before.Windows, after.Windows); !diff.Empty() {
		events = append(events, proto.WindowsChanged{Diff: diff})
	}
	if diff := diffWorkspaces(before.Workspaces, after.Workspaces); !diff.Empty() {
		events = append(events, proto.WorkspacesChanged{Diff: diff})
	}
	if diff := diffLayers(before.Layers, after.Layers); !diff.Empty() {
		events = append(events, proto.LayersChanged{Diff: diff})
	}
	return events
}

func (b *Broker) applyHardware(ctx context.Context, layout map[string]proto.LogicalOutput) {
	for name, lo := range layout {
		if old, ok := b.layout[name]; ok && old == lo {
			continue
		}
		if err := b.backend.ApplyMode(ctx, name, lo.Mode, lo.Transform, lo.Scale); err != nil {
			slog.Warn("Failed to apply hardware mode", "output", name, "error", err)
		}
	}
}

// commit publishes the current broker state as the new snapshot.
func (b *Broker) commit() {
	layout := make(map[string]proto.LogicalOutput, len(b.layout))
	outputs := make([]proto.LogicalOutput, 0, len(b.layout))
	for name, lo := range b.layout {
		layout[name] = lo
	}
	for _, lo := range sortedOutputs(b.layout) {
		outputs = append(outputs, lo)
	}

	b.snapshot.Store(&Snapshot{
		Outputs:    outputs,
		Layout:     layout,
		Windows:    b.state.WindowList(),
		Workspaces: b.state.WorkspaceList(),
		Layers:     b.state.LayerList(),
	})
}

// pushOrDrop queues a frame for one session. A session that cannot take even
// its own response is dropped like any other backlog overflow; its writer
// notices the closed queue and tells the client why.
func (b *Broker) pushOrDrop(q *bus.Queue[outbound], msg outbound) {
	if !q.TryPush(msg) {
		b.hub.Unregister(q)
		q.Close()
	}
}

// broadcast delivers events to every subscriber in order. Queues that cannot
// keep up are already closed by the hub; their sessions notice and report the
// overflow themselves.
func (b *Broker) broadcast(events []proto.Event) {
	for _, event := range events {
		if overflowed := b.hub.Broadcast(outbound{event: event}); len(overflowed) > 0 {
			slog.Warn("Dropped lagging subscribers", "count", len(overflowed), "event", event.EventName())
		}
	}
}

func (b *Broker) handleHotplug(ctx context.Context, n backend.Notification) {
	slog.Info("Display hot-plug", "kind", n.Kind, "output", n.Output)

	switch n.Kind {
	case backend.OutputAttached:
		b.registry.Attach(n.Output, n.Physical, n.Modes)
		b.ensureOutstanding(n.Output)
	case backend.OutputDetached:
		b.registry.Detach(n.Output)
	case backend.ModesRefreshed:
		b.registry.RefreshModes(n.Output, n.Modes)
	default:
		return
	}

	b.broadcast(b.recompute(ctx))
}

// handleSetOutputConfig merges a configuration batch into the outstanding
// requests. Each output is accepted or rejected independently: rejected
// outputs keep their previous configuration, missing outputs are recorded so
// the configuration takes hold if they attach later.
func (b *Broker) handleSetOutputConfig(ctx context.Context, req proto.SetOutputConfig, q *bus.Queue[outbound]) {
	// Trial resolution with every requested config merged in.
	trial := make([]proto.OutputConfig, len(b.outstanding))
	copy(trial, b.outstanding)
	trialIndex := make(map[string]int, len(b.outIndex))
	for k, v := range b.outIndex {
		trialIndex[k] = v
	}
	for _, cfg := range req.Outputs {
		if i, ok := trialIndex[cfg.Output]; ok {
			trial[i] = cfg
		} else {
			trialIndex[cfg.Output] = len(trial)
			trial = append(trial, cfg)
		}
	}

	result := b.resolver.Resolve(trial, b.registry.Snapshot())

	// Keep only the accepted and missing entries; failed outputs revert.
	outcomes := make(map[string]proto.OutputOutcome, len(req.Outputs))
	for _, cfg := range req.Outputs {
		outcome := result.Outcomes[cfg.Output]
		outcomes[cfg.Output] = outcome
		if outcome.Changed == proto.OutputFailed {
			continue
		}
		if i, ok := b.outIndex[cfg.Output]; ok {
			b.outstanding[i] = cfg
		} else {
			b.outIndex[cfg.Output] = len(b.outstanding)
			b.outstanding = append(b.outstanding, cfg)
		}
	}

	events := b.recompute(ctx)
	b.pushOrDrop(q, outbound{resp: proto.OutputConfigResult{Results: outcomes}})
	b.broadcast(events)
}

func (b *Broker) handleAction(action proto.Action, q *bus.Queue[outbound]) {
	before := b.snapshot.Load()

	next, resp := b.dispatcher.Apply(action, b.state)
	if _, failed := resp.(proto.Err); !failed {
		b.state = next
		b.commit()
	}

	after := b.snapshot.Load()
	var events []proto.Event
	if diff := diffWindows(before.Windows, after.Windows); !diff.Empty() {
		events = append(events, proto.WindowsChanged{Diff: diff})
	}
	if diff := diffWorkspaces(before.Workspaces, after.Workspaces); !diff.Empty() {
		events = append(events, proto.WorkspacesChanged{Diff: diff})
	}

	b.pushOrDrop(q, outbound{resp: resp})
	b.broadcast(events)
}

// handleSubscribe queues the reply and the initial full-state events, then
// registers the queue for incremental delivery. Running inside the mutation
// loop, nothing can slip between the initial state and the first increment.
func (b *Broker) handleSubscribe(q *bus.Queue[outbound]) {
	snap := b.snapshot.Load()

	b.pushOrDrop(q, outbound{resp: proto.NewOk(nil)})
	b.pushOrDrop(q, outbound{event: proto.OutputsChanged{Outputs: snap.Outputs}})
	b.pushOrDrop(q, outbound{event: proto.WindowsChanged{Diff: proto.WindowsDiff{Added: snap.Windows}}})
	b.pushOrDrop(q, outbound{event: proto.WorkspacesChanged{Diff: proto.WorkspacesDiff{Added: snap.Workspaces}}})
	b.pushOrDrop(q, outbound{event: proto.LayersChanged{Diff: proto.LayersDiff{Added: snap.Layers}}})
	b.hub.Register(q)
}

// AddWindow is the window-provider hook: a new window appeared.
func (b *Broker) AddWindow(ctx context.Context, id uint64, title, appID string) {
	b.submit(ctx, func() {
		b.state.AddWindow(id, title, appID)
		b.broadcast(b.recompute(ctx))
	})
}

// RemoveWindow is the window-provider hook: a window went away.
func (b *Broker) RemoveWindow(ctx context.Context, id uint64) {
	b.submit(ctx, func() {
		b.state.RemoveWindow(id)
		b.broadcast(b.recompute(ctx))
	})
}

// SetLayers replaces the reported layer surfaces.
func (b *Broker) SetLayers(ctx context.Context, layers []proto.LayerSurface) {
	b.submit(ctx, func() {
		b.state.Layers = layers
		b.broadcast(b.recompute(ctx))
	})
}
