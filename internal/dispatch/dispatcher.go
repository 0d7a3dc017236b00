package dispatch

import (
	"math"

	"github.com/stratawm/strata/internal/core"
	"github.com/stratawm/strata/internal/proto"
)

// Dispatcher validates and applies non-output actions. Apply never mutates
// the given state: it returns either a new state with the action applied or
// the original state untouched alongside an error response.
type Dispatcher struct {
	minSize int
}

// New returns a dispatcher clamping window and column sizes to minSize
// logical pixels.
func New(minSize int) *Dispatcher {
	if minSize < 0 {
		minSize = 0
	}
	return &Dispatcher{minSize: minSize}
}

func (d *Dispatcher) Apply(action proto.Action, state *State) (*State, proto.Response) {
	next := state.Clone()

	var perr *proto.Error
	switch a := action.(type) {
	case proto.ResizeWindow:
		perr = d.resizeWindow(next, a)
	case proto.ResizeColumn:
		perr = d.resizeColumn(next, a)
	case proto.MoveWindow:
		perr = d.moveWindow(next, a)
	case proto.MoveColumn:
		perr = d.moveColumn(next, a)
	case proto.SwitchLayout:
		perr = d.switchLayout(next, a)
	case proto.SetColumnDisplay:
		perr = d.setColumnDisplay(next, a)
	case proto.FocusColumn:
		perr = d.focusColumn(next, a)
	case proto.ShiftColumn:
		perr = d.shiftColumn(next, a)
	case proto.FocusWorkspace:
		perr = d.focusWorkspace(next, a)
	case proto.MoveWindowToWorkspace:
		perr = d.moveWindowToWorkspace(next, a)
	case proto.ConsumeIntoColumn:
		perr = d.consumeIntoColumn(next)
	case proto.ExpelFromColumn:
		perr = d.expelFromColumn(next)
	default:
		perr = proto.NewError(proto.ErrInvalidRequest, "unknown action %T", action)
	}

	if perr != nil {
		return state, proto.Err{Err: *perr}
	}
	return next, proto.NewOk(nil)
}

func (d *Dispatcher) targetColumn(s *State, index *int) (*Workspace, *Column, int, *proto.Error) {
	ws := s.activeWorkspace()
	if ws == nil || len(ws.Columns) == 0 {
		return nil, nil, 0, proto.NewError(proto.ErrTargetNotFound, "no columns on the active workspace")
	}

	idx := core.Optional(index, ws.ActiveColumn)
	if idx < 0 || idx >= len(ws.Columns) {
		return nil, nil, 0, proto.NewError(proto.ErrTargetNotFound, "column %d does not exist", idx)
	}
	return ws, ws.Columns[idx], idx, nil
}

func (d *Dispatcher) targetWindow(s *State, id *uint64) (*Workspace, *Column, *Window, *proto.Error) {
	want := core.Optional(id, s.FocusedWindow)
	if want == 0 {
		return nil, nil, nil, proto.NewError(proto.ErrTargetNotFound, "no focused window")
	}

	ws, col, win, _, _ := s.findWindow(want)
	if win == nil {
		return nil, nil, nil, proto.NewError(proto.ErrTargetNotFound, "window %d does not exist", want)
	}
	return ws, col, win, nil
}

// applySize converts a SizeChange to an absolute pixel size against the
// current size and the available space. Proportions resolve to pixels here,
// at apply time, rather than being stored as formulas.
func (d *Dispatcher) applySize(current, available int, change proto.SizeChange) (int, *proto.Error) {
	var size int
	switch change.Kind {
	case proto.SizeSetFixed:
		size = change.Pixels
	case proto.SizeAdjustFixed:
		size = current + change.Pixels
	case proto.SizeSetProportion:
		size = int(math.Round(float64(available) * change.Proportion))
	case proto.SizeAdjustProportion:
		proportion := 0.0
		if available > 0 {
			proportion = float64(current) / float64(available)
		}
		size = int(math.Round(float64(available) * (proportion + change.Proportion)))
	default:
		return 0, proto.NewError(proto.ErrInvalidRequest, "unknown size change %q", change.Kind)
	}
	return max(size, d.minSize), nil
}

func (d *Dispatcher) resizeWindow(s *State, a proto.ResizeWindow) *proto.Error {
	ws, _, win, perr := d.targetWindow(s, a.Window)
	if perr != nil {
		return perr
	}

	current := win.FixedHeight
	if current == 0 && !win.heightSet {
		current = win.Height
	}
	size, perr := d.applySize(current, ws.ViewHeight, a.Change)
	if perr != nil {
		return perr
	}
	win.FixedHeight = size
	win.heightSet = true
	ws.relayout()
	return nil
}

func (d *Dispatcher) resizeColumn(s *State, a proto.ResizeColumn) *proto.Error {
	ws, col, _, perr := d.targetColumn(s, a.Column)
	if perr != nil {
		return perr
	}

	size, perr := d.applySize(col.Width, ws.ViewWidth, a.Change)
	if perr != nil {
		return perr
	}
	col.Width = size
	col.widthSet = true
	ws.relayout()
	return nil
}

func (d *Dispatcher) moveWindow(s *State, a proto.MoveWindow) *proto.Error {
	ws, _, win, perr := d.targetWindow(s, a.Window)
	if perr != nil {
		return perr
	}

	switch a.Change.Kind {
	case proto.PositionMoveBy:
		win.X += a.Change.X
		win.Y += a.Change.Y
	case proto.PositionMoveTo:
		win.X = a.Change.X
		win.Y = a.Change.Y
	default:
		return proto.NewError(proto.ErrInvalidRequest, "unknown position change %q", a.Change.Kind)
	}
	win.Floating = true
	ws.relayout()
	return nil
}

func (d *Dispatcher) moveColumn(s *State, a proto.MoveColumn) *proto.Error {
	ws, col, idx, perr := d.targetColumn(s, a.Column)
	if perr != nil {
		return perr
	}

	origin := 0
	for _, c := range ws.Columns[:idx] {
		origin += c.Width
	}

	var target int
	switch a.Change.Kind {
	case proto.PositionMoveBy:
		target = origin + a.Change.X
	case proto.PositionMoveTo:
		target = a.Change.X
	default:
		return proto.NewError(proto.ErrInvalidRequest, "unknown position change %q", a.Change.Kind)
	}

	// Reinsert at the slot whose span contains the target x.
	rest := make([]*Column, 0, len(ws.Columns)-1)
	rest = append(rest, ws.Columns[:idx]...)
	rest = append(rest, ws.Columns[idx+1:]...)

	insert := len(rest)
	x := 0
	for i, c := range rest {
		if target < x+c.Width/2 {
			insert = i
			break
		}
		x += c.Width
	}

	ws.Columns = append(rest[:insert:insert], append([]*Column{col}, rest[insert:]...)...)
	ws.ActiveColumn = insert
	ws.relayout()
	return nil
}

func (d *Dispatcher) switchLayout(s *State, a proto.SwitchLayout) *proto.Error {
	switch a.Layout.Kind {
	case proto.LayoutSwitchNext:
		s.ActiveLayout = (s.ActiveLayout + 1) % len(s.Layouts)
	case proto.LayoutSwitchPrevious:
		s.ActiveLayout = (s.ActiveLayout + len(s.Layouts) - 1) % len(s.Layouts)
	case proto.LayoutSwitchIndex:
		if a.Layout.Index < 0 || a.Layout.Index >= len(s.Layouts) {
			return proto.NewError(proto.ErrIndexOutOfRange, "layout %d of %d", a.Layout.Index, len(s.Layouts))
		}
		s.ActiveLayout = a.Layout.Index
	default:
		return proto.NewError(proto.ErrInvalidRequest, "unknown layout switch %q", a.Layout.Kind)
	}
	return nil
}

func (d *Dispatcher) setColumnDisplay(s *State, a proto.SetColumnDisplay) *proto.Error {
	ws, col, _, perr := d.targetColumn(s, a.Column)
	if perr != nil {
		return perr
	}

	switch a.Display {
	case proto.ColumnDisplayNormal, proto.ColumnDisplayTabbed:
	default:
		return proto.NewError(proto.ErrInvalidRequest, "unknown column display %q", a.Display)
	}
	col.Display = a.Display
	ws.relayout()
	return nil
}

func (d *Dispatcher) focusColumn(s *State, a proto.FocusColumn) *proto.Error {
	ws, _, idx, perr := d.targetColumn(s, nil)
	if perr != nil {
		return perr
	}

	switch a.Direction {
	case proto.DirectionLeft:
		if idx > 0 {
			idx--
		}
	case proto.DirectionRight:
		if idx < len(ws.Columns)-1 {
			idx++
		}
	default:
		return proto.NewError(proto.ErrInvalidRequest, "focus_column wants left or right, got %q", a.Direction)
	}

	ws.ActiveColumn = idx
	s.focusActiveWindow()
	return nil
}

func (d *Dispatcher) shiftColumn(s *State, a proto.ShiftColumn) *proto.Error {
	ws, _, idx, perr := d.targetColumn(s, nil)
	if perr != nil {
		return perr
	}

	switch a.Direction {
	case proto.DirectionLeft:
		if idx > 0 {
			ws.Columns[idx-1], ws.Columns[idx] = ws.Columns[idx], ws.Columns[idx-1]
			ws.ActiveColumn = idx - 1
		}
	case proto.DirectionRight:
		if idx < len(ws.Columns)-1 {
			ws.Columns[idx], ws.Columns[idx+1] = ws.Columns[idx+1], ws.Columns[idx]
			ws.ActiveColumn = idx + 1
		}
	default:
		return proto.NewError(proto.ErrInvalidRequest, "shift_column wants left or right, got %q", a.Direction)
	}

	ws.relayout()
	return nil
}

func (d *Dispatcher) focusWorkspace(s *State, a proto.FocusWorkspace) *proto.Error {
	if len(s.Workspaces) == 0 {
		return proto.NewError(proto.ErrTargetNotFound, "no workspaces")
	}

	idx := s.ActiveWorkspace
	switch a.Direction {
	case proto.DirectionUp:
		if idx > 0 {
			idx--
		}
	case proto.DirectionDown:
		if idx < len(s.Workspaces)-1 {
			idx++
		}
	default:
		return proto.NewError(proto.ErrInvalidRequest, "focus_workspace wants up or down, got %q", a.Direction)
	}

	s.ActiveWorkspace = idx
	s.focusActiveWindow()
	return nil
}

func (d *Dispatcher) moveWindowToWorkspace(s *State, a proto.MoveWindowToWorkspace) *proto.Error {
	ws, _, win, perr := d.targetWindow(s, nil)
	if perr != nil {
		return perr
	}

	from := -1
	for i, w := range s.Workspaces {
		if w == ws {
			from = i
			break
		}
	}

	target := from
	switch a.Direction {
	case proto.DirectionUp:
		if target > 0 {
			target--
		}
	case proto.DirectionDown:
		if target < len(s.Workspaces)-1 {
			target++
		}
	default:
		return proto.NewError(proto.ErrInvalidRequest, "move_window_to_workspace wants up or down, got %q", a.Direction)
	}
	if target == from {
		return nil
	}

	s.removeWindow(win.ID)
	dest := s.Workspaces[target]
	dest.addWindowColumn(win)
	dest.rebindOriginalOutput()
	ws.rebindOriginalOutput()

	s.ActiveWorkspace = target
	s.FocusedWindow = win.ID
	ws.relayout()
	dest.relayout()
	return nil
}

func (d *Dispatcher) consumeIntoColumn(s *State) *proto.Error {
	ws, col, idx, perr := d.targetColumn(s, nil)
	if perr != nil {
		return perr
	}
	if idx+1 >= len(ws.Columns) {
		return proto.NewError(proto.ErrTargetNotFound, "no column to the right to consume from")
	}

	next := ws.Columns[idx+1]
	win := next.Windows[0]
	next.Windows = next.Windows[1:]
	col.Windows = append(col.Windows, win)
	if len(next.Windows) == 0 {
		ws.Columns = append(ws.Columns[:idx+1], ws.Columns[idx+2:]...)
	} else if next.ActiveWindow >= len(next.Windows) {
		next.ActiveWindow = len(next.Windows) - 1
	}

	ws.rebindOriginalOutput()
	ws.relayout()
	return nil
}

func (d *Dispatcher) expelFromColumn(s *State) *proto.Error {
	ws, col, idx, perr := d.targetColumn(s, nil)
	if perr != nil {
		return perr
	}
	if len(col.Windows) < 2 {
		return proto.NewError(proto.ErrTargetNotFound, "column has no window to expel")
	}

	win := col.Windows[col.ActiveWindow]
	col.Windows = append(col.Windows[:col.ActiveWindow], col.Windows[col.ActiveWindow+1:]...)
	if col.ActiveWindow >= len(col.Windows) {
		col.ActiveWindow = len(col.Windows) - 1
	}

	expelled := &Column{Windows: []*Window{win}, Width: col.Width}
	ws.Columns = append(ws.Columns[:idx+1:idx+1], append([]*Column{expelled}, ws.Columns[idx+1:]...)...)
	ws.ActiveColumn = idx + 1
	s.FocusedWindow = win.ID

	ws.rebindOriginalOutput()
	ws.relayout()
	return nil
}
