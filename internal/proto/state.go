package proto

// Window is the client-visible state of one mapped window.
type Window struct {
	ID        uint64 `json:"id"`
	Title     string `json:"title,omitempty"`
	AppID     string `json:"app_id,omitempty"`
	Workspace uint64 `json:"workspace"`
	Column    int    `json:"column"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Focused   bool   `json:"focused,omitempty"`
}

// Workspace is the client-visible state of one workspace.
type Workspace struct {
	ID      uint64 `json:"id"`
	Index   int    `json:"index"`
	Output  string `json:"output,omitempty"`
	Active  bool   `json:"active,omitempty"`
	Windows int    `json:"windows"`
}

type Layer string

const (
	LayerBackground Layer = "background"
	LayerBottom     Layer = "bottom"
	LayerTop        Layer = "top"
	LayerOverlay    Layer = "overlay"
)

type LayerSurfaceKeyboardInteractivity string

const (
	KeyboardInteractivityNone      LayerSurfaceKeyboardInteractivity = "none"
	KeyboardInteractivityExclusive LayerSurfaceKeyboardInteractivity = "exclusive"
	KeyboardInteractivityOnDemand  LayerSurfaceKeyboardInteractivity = "on_demand"
)

// LayerSurface is an overlay surface outside normal window stacking. Reported
// to clients, never configurable through this protocol.
type LayerSurface struct {
	Namespace             string                            `json:"namespace"`
	Output                string                            `json:"output"`
	Layer                 Layer                             `json:"layer"`
	KeyboardInteractivity LayerSurfaceKeyboardInteractivity `json:"keyboard_interactivity"`
}

// WindowsDiff is an incremental change to the window set.
type WindowsDiff struct {
	Added   []Window `json:"added,omitempty"`
	Removed []uint64 `json:"removed,omitempty"`
	Changed []Window `json:"changed,omitempty"`
}

func (d WindowsDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// WorkspacesDiff is an incremental change to the workspace set.
type WorkspacesDiff struct {
	Added   []Workspace `json:"added,omitempty"`
	Removed []uint64    `json:"removed,omitempty"`
	Changed []Workspace `json:"changed,omitempty"`
}

func (d WorkspacesDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// LayersDiff is an incremental change to the layer-surface set, keyed by
// namespace.
type LayersDiff struct {
	Added   []LayerSurface `json:"added,omitempty"`
	Removed []string       `json:"removed,omitempty"`
	Changed []LayerSurface `json:"changed,omitempty"`
}

func (d LayersDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}
