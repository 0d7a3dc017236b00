package proto

import (
	"encoding/json"
	"fmt"
)

type SizeChangeKind string

const (
	SizeSetFixed         SizeChangeKind = "set_fixed"
	SizeAdjustFixed      SizeChangeKind = "adjust_fixed"
	SizeSetProportion    SizeChangeKind = "set_proportion"
	SizeAdjustProportion SizeChangeKind = "adjust_proportion"
)

// SizeChange is a unit-tagged size request: fixed kinds carry logical pixels,
// proportion kinds carry a fraction of the available space.
type SizeChange struct {
	Kind       SizeChangeKind `json:"kind"`
	Pixels     int            `json:"pixels,omitempty"`
	Proportion float64        `json:"proportion,omitempty"`
}

type PositionChangeKind string

const (
	PositionMoveBy PositionChangeKind = "move_by"
	PositionMoveTo PositionChangeKind = "move_to"
)

// PositionChange moves a window or column by a relative delta or to an
// absolute coordinate.
type PositionChange struct {
	Kind PositionChangeKind `json:"kind"`
	X    int                `json:"x"`
	Y    int                `json:"y"`
}

type LayoutSwitchKind string

const (
	LayoutSwitchNext     LayoutSwitchKind = "next"
	LayoutSwitchPrevious LayoutSwitchKind = "previous"
	LayoutSwitchIndex    LayoutSwitchKind = "index"
)

// LayoutSwitchTarget selects a layout: next and previous wrap around the
// ordered layout list, index is explicit and fails out of range.
type LayoutSwitchTarget struct {
	Kind  LayoutSwitchKind `json:"kind"`
	Index int              `json:"index,omitempty"`
}

type ColumnDisplay string

const (
	ColumnDisplayNormal ColumnDisplay = "normal"
	ColumnDisplayTabbed ColumnDisplay = "tabbed"
)

type Direction string

const (
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
)

// Action is a closed union of dispatcher operations. Target fields are
// pointers where nil means "the focused window" or "the active column".
type Action interface {
	ActionName() string
}

type ResizeWindow struct {
	Window *uint64    `json:"window,omitempty"`
	Change SizeChange `json:"change"`
}

type ResizeColumn struct {
	Column *int       `json:"column,omitempty"`
	Change SizeChange `json:"change"`
}

type MoveWindow struct {
	Window *uint64        `json:"window,omitempty"`
	Change PositionChange `json:"change"`
}

type MoveColumn struct {
	Column *int           `json:"column,omitempty"`
	Change PositionChange `json:"change"`
}

type SwitchLayout struct {
	Layout LayoutSwitchTarget `json:"layout"`
}

type SetColumnDisplay struct {
	Column  *int          `json:"column,omitempty"`
	Display ColumnDisplay `json:"display"`
}

type FocusColumn struct {
	Direction Direction `json:"direction"`
}

type ShiftColumn struct {
	Direction Direction `json:"direction"`
}

type FocusWorkspace struct {
	Direction Direction `json:"direction"`
}

type MoveWindowToWorkspace struct {
	Direction Direction `json:"direction"`
}

type ConsumeIntoColumn struct{}

type ExpelFromColumn struct{}

func (ResizeWindow) ActionName() string          { return "resize_window" }
func (ResizeColumn) ActionName() string          { return "resize_column" }
func (MoveWindow) ActionName() string            { return "move_window" }
func (MoveColumn) ActionName() string            { return "move_column" }
func (SwitchLayout) ActionName() string          { return "switch_layout" }
func (SetColumnDisplay) ActionName() string      { return "set_column_display" }
func (FocusColumn) ActionName() string           { return "focus_column" }
func (ShiftColumn) ActionName() string           { return "shift_column" }
func (FocusWorkspace) ActionName() string        { return "focus_workspace" }
func (MoveWindowToWorkspace) ActionName() string { return "move_window_to_workspace" }
func (ConsumeIntoColumn) ActionName() string     { return "consume_into_column" }
func (ExpelFromColumn) ActionName() string       { return "expel_from_column" }

type actionEnvelope struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func EncodeAction(a Action) ([]byte, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return json.Marshal(actionEnvelope{Action: a.ActionName(), Payload: payload})
}

func DecodeAction(data []byte) (Action, error) {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	var a Action
	switch env.Action {
	case "resize_window":
		a = &ResizeWindow{}
	case "resize_column":
		a = &ResizeColumn{}
	case "move_window":
		a = &MoveWindow{}
	case "move_column":
		a = &MoveColumn{}
	case "switch_layout":
		a = &SwitchLayout{}
	case "set_column_display":
		a = &SetColumnDisplay{}
	case "focus_column":
		a = &FocusColumn{}
	case "shift_column":
		a = &ShiftColumn{}
	case "focus_workspace":
		a = &FocusWorkspace{}
	case "move_window_to_workspace":
		a = &MoveWindowToWorkspace{}
	case "consume_into_column":
		a = &ConsumeIntoColumn{}
	case "expel_from_column":
		a = &ExpelFromColumn{}
	default:
		return nil, fmt.Errorf("unknown action %q", env.Action)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, a); err != nil {
			return nil, err
		}
	}
	return deref(a), nil
}

// deref returns the value pointed to so decoded actions compare and switch
// like the literals callers construct.
func deref(a Action) Action {
	switch v := a.(type) {
	case *ResizeWindow:
		return *v
	case *ResizeColumn:
		return *v
	case *MoveWindow:
		return *v
	case *MoveColumn:
		return *v
	case *SwitchLayout:
		return *v
	case *SetColumnDisplay:
		return *v
	case *FocusColumn:
		return *v
	case *ShiftColumn:
		return *v
	case *FocusWorkspace:
		return *v
	case *MoveWindowToWorkspace:
		return *v
	case *ConsumeIntoColumn:
		return *v
	case *ExpelFromColumn:
		return *v
	default:
		return a
	}
}
