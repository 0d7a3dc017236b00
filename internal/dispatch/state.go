// Package dispatch holds the window/workspace state model and the action
// dispatcher that mutates it. The broker owns the canonical state; the
// dispatcher works on copies and returns new values.
package dispatch

import (
	"slices"
	"sort"

	"github.com/stratawm/strata/internal/proto"
)

// State is the window/workspace side of the compositor snapshot.
//
// Workspaces keep the output they originated on. When an output detaches its
// workspaces move to the primary output but remember where they came from, and
// move back when that output reattaches. A workspace that gains or loses
// windows while displaced rebinds to its current output.
type State struct {
	Workspaces      []*Workspace
	ActiveWorkspace int
	Layouts         []string
	ActiveLayout    int
	FocusedWindow   uint64
	Layers          []proto.LayerSurface

	nextWorkspaceID uint64
}

type Workspace struct {
	ID             uint64
	Output         string
	OriginalOutput string
	ViewWidth      int
	ViewHeight     int
	Columns        []*Column
	ActiveColumn   int
}

type Column struct {
	Windows      []*Window
	ActiveWindow int
	// Width is stored resolved to logical pixels; proportional requests are
	// converted at apply time.
	Width   int
	Display proto.ColumnDisplay

	// widthSet marks an explicit resize, so a zero width stays zero instead
	// of falling back to the default.
	widthSet bool
}

type Window struct {
	ID     uint64
	Title  string
	AppID  string
	X      int
	Y      int
	Width  int
	Height int
	// FixedHeight, when set, wins over the equal split inside a column.
	FixedHeight int
	// heightSet marks an explicit resize, so a zero fixed height stays zero
	// instead of rejoining the flexible split.
	heightSet bool
	// Floating windows keep the position given by a move action and are
	// skipped by column layout.
	Floating bool
}

func NewState(layouts []string) *State {
	if len(layouts) == 0 {
		layouts = []string{"default"}
	}
	return &State{
		Layouts:         slices.Clone(layouts),
		nextWorkspaceID: 1,
	}
}

func (s *State) Clone() *State {
	c := *s
	c.Workspaces = make([]*Workspace, len(s.Workspaces))
	for i, ws := range s.Workspaces {
		c.Workspaces[i] = ws.clone()
	}
	c.Layouts = slices.Clone(s.Layouts)
	c.Layers = slices.Clone(s.Layers)
	return &c
}

func (w *Workspace) clone() *Workspace {
	c := *w
	c.Columns = make([]*Column, len(w.Columns))
	for i, col := range w.Columns {
		cc := *col
		cc.Windows = make([]*Window, len(col.Windows))
		for j, win := range col.Windows {
			wc := *win
			cc.Windows[j] = &wc
		}
		c.Columns[i] = &cc
	}
	return &c
}

func (s *State) activeWorkspace() *Workspace {
	if s.ActiveWorkspace < 0 || s.ActiveWorkspace >= len(s.Workspaces) {
		return nil
	}
	return s.Workspaces[s.ActiveWorkspace]
}

// findWindow returns the window with the given id and its location.
func (s *State) findWindow(id uint64) (*Workspace, *Column, *Window, int, int) {
	for _, ws := range s.Workspaces {
		for ci, col := range ws.Columns {
			for wi, win := range col.Windows {
				if win.ID == id {
					return ws, col, win, ci, wi
				}
			}
		}
	}
	return nil, nil, nil, 0, 0
}

// Relayout recomputes window geometry for every workspace: columns side by
// side left to right, windows in a column splitting the view height, tabbed
// columns giving every window the full height.
func (s *State) Relayout() {
	for _, ws := range s.Workspaces {
		ws.relayout()
	}
}

func (w *Workspace) relayout() {
	x := 0
	for _, col := range w.Columns {
		if col.Width <= 0 && !col.widthSet {
			col.Width = w.ViewWidth / 2
		}

		tiled := make([]*Window, 0, len(col.Windows))
		for _, win := range col.Windows {
			if !win.Floating {
				tiled = append(tiled, win)
			}
		}
		if len(tiled) == 0 {
			x += col.Width
			continue
		}

		if col.Display == proto.ColumnDisplayTabbed {
			for _, win := range tiled {
				win.X, win.Y = x, 0
				win.Width, win.Height = col.Width, w.ViewHeight
			}
			x += col.Width
			continue
		}

		// Fixed-height windows take their size, the rest split the remainder.
		remaining := w.ViewHeight
		flexible := 0
		for _, win := range tiled {
			if win.FixedHeight > 0 || win.heightSet {
				remaining -= win.FixedHeight
			} else {
				flexible++
			}
		}
		if remaining < 0 {
			remaining = 0
		}

		y := 0
		for _, win := range tiled {
			h := win.FixedHeight
			if h == 0 && !win.heightSet {
				h = remaining / max(flexible, 1)
			}
			win.X, win.Y = x, y
			win.Width, win.Height = col.Width, h
			y += h
		}
		x += col.Width
	}
}

// SyncOutputs reconciles workspaces against a new resolved layout. Displaced
// workspaces move to the primary output, workspaces whose original output came
// back move home, and every present output ends up with at least one
// workspace. The primary output is the first in the layout by name.
func (s *State) SyncOutputs(layout map[string]proto.LogicalOutput) {
	names := make([]string, 0, len(layout))
	for name := range layout {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		// No outputs: workspaces stay put, remembering their outputs, and
		// reattach when something comes back.
		return
	}
	primary := names[0]

	for _, ws := range s.Workspaces {
		if _, ok := layout[ws.OriginalOutput]; ok {
			ws.Output = ws.OriginalOutput
		} else if _, ok := layout[ws.Output]; !ok {
			ws.Output = primary
		}
	}

	for _, name := range names {
		if !s.hasWorkspaceOn(name) {
			s.Workspaces = append(s.Workspaces, &Workspace{
				ID:             s.nextWorkspaceID,
				Output:         name,
				OriginalOutput: name,
			})
			s.nextWorkspaceID++
		}
	}

	for _, ws := range s.Workspaces {
		if lo, ok := layout[ws.Output]; ok {
			ws.ViewWidth, ws.ViewHeight = lo.Width, lo.Height
		}
	}

	if s.ActiveWorkspace >= len(s.Workspaces) {
		s.ActiveWorkspace = len(s.Workspaces) - 1
	}
	s.Relayout()
}

func (s *State) hasWorkspaceOn(output string) bool {
	for _, ws := range s.Workspaces {
		if ws.Output == output {
			return true
		}
	}
	return false
}

// rebindOriginalOutput forgets a displaced workspace's home when its contents
// change, so a later reattach does not steal it back.
func (w *Workspace) rebindOriginalOutput() {
	w.OriginalOutput = w.Output
}

// AddWindow places a new window in its own column after the active column of
// the active workspace and focuses it.
func (s *State) AddWindow(id uint64, title, appID string) {
	ws := s.activeWorkspace()
	if ws == nil {
		return
	}

	win := &Window{ID: id, Title: title, AppID: appID}
	ws.addWindowColumn(win)
	ws.rebindOriginalOutput()
	s.FocusedWindow = id
	ws.relayout()
}

// RemoveWindow drops a window wherever it lives, removing its column if it
// empties. Unknown ids are a no-op.
func (s *State) RemoveWindow(id uint64) {
	ws := s.removeWindow(id)
	if ws == nil {
		return
	}
	if s.FocusedWindow == id {
		s.FocusedWindow = 0
		s.focusActiveWindow()
	}
	ws.rebindOriginalOutput()
	ws.relayout()
}

func (s *State) removeWindow(id uint64) *Workspace {
	ws, col, win, ci, wi := s.findWindow(id)
	if win == nil {
		return nil
	}

	col.Windows = append(col.Windows[:wi], col.Windows[wi+1:]...)
	if col.ActiveWindow >= len(col.Windows) && col.ActiveWindow > 0 {
		col.ActiveWindow = len(col.Windows) - 1
	}
	if len(col.Windows) == 0 {
		ws.Columns = append(ws.Columns[:ci], ws.Columns[ci+1:]...)
		if ws.ActiveColumn >= len(ws.Columns) && ws.ActiveColumn > 0 {
			ws.ActiveColumn = len(ws.Columns) - 1
		}
	}
	return ws
}

func (w *Workspace) addWindowColumn(win *Window) {
	col := &Column{Windows: []*Window{win}}
	insert := min(w.ActiveColumn+1, len(w.Columns))
	w.Columns = append(w.Columns[:insert:insert], append([]*Column{col}, w.Columns[insert:]...)...)
	w.ActiveColumn = insert
}

// focusActiveWindow points the focus at the active window of the active
// column, or clears it when there is nothing to focus.
func (s *State) focusActiveWindow() {
	ws := s.activeWorkspace()
	if ws == nil || len(ws.Columns) == 0 {
		s.FocusedWindow = 0
		return
	}
	if ws.ActiveColumn >= len(ws.Columns) {
		ws.ActiveColumn = len(ws.Columns) - 1
	}
	col := ws.Columns[ws.ActiveColumn]
	if len(col.Windows) == 0 {
		s.FocusedWindow = 0
		return
	}
	if col.ActiveWindow >= len(col.Windows) {
		col.ActiveWindow = len(col.Windows) - 1
	}
	s.FocusedWindow = col.Windows[col.ActiveWindow].ID
}

// Snapshot conversions for queries and event diffs.

func (s *State) WindowList() []proto.Window {
	var out []proto.Window
	for wsi, ws := range s.Workspaces {
		for ci, col := range ws.Columns {
			for _, win := range col.Windows {
				out = append(out, proto.Window{
					ID:        win.ID,
					Title:     win.Title,
					AppID:     win.AppID,
					Workspace: ws.ID,
					Column:    ci,
					X:         win.X,
					Y:         win.Y,
					Width:     win.Width,
					Height:    win.Height,
					Focused:   win.ID == s.FocusedWindow && wsi == s.ActiveWorkspace,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *State) WorkspaceList() []proto.Workspace {
	out := make([]proto.Workspace, 0, len(s.Workspaces))
	for i, ws := range s.Workspaces {
		windows := 0
		for _, col := range ws.Columns {
			windows += len(col.Windows)
		}
		out = append(out, proto.Workspace{
			ID:      ws.ID,
			Index:   i,
			Output:  ws.Output,
			Active:  i == s.ActiveWorkspace,
			Windows: windows,
		})
	}
	return out
}

func (s *State) LayerList() []proto.LayerSurface {
	return slices.Clone(s.Layers)
}
