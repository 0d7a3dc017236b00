// Package backend declares the display backend contract the broker consumes:
// initial enumeration, hardware mode application, and hot-plug notifications.
// Driving actual hardware is someone else's job; the package ships a Fake
// used by headless mode and tests.
package backend

import (
	"context"

	"github.com/stratawm/strata/internal/proto"
	"github.com/stratawm/strata/internal/registry"
)

type NotificationKind string

const (
	OutputAttached NotificationKind = "attached"
	OutputDetached NotificationKind = "detached"
	ModesRefreshed NotificationKind = "modes_refreshed"
)

// Notification is one hot-plug event. Physical and Modes are set for attach
// and mode-refresh notifications.
type Notification struct {
	Kind     NotificationKind
	Output   string
	Physical registry.PhysicalInfo
	Modes    []proto.Mode
}

// Output is one enumerated display sink.
type Output struct {
	Name     string
	Physical registry.PhysicalInfo
	Modes    []proto.Mode
}

type Backend interface {
	// EnumerateOutputs reports the outputs present at startup.
	EnumerateOutputs(ctx context.Context) ([]Output, error)

	// ApplyMode programs an output with the resolved hardware settings.
	ApplyMode(ctx context.Context, output string, mode proto.Mode, transform proto.Transform, scale float64) error

	// Notifications delivers hot-plug events for the life of the backend.
	Notifications() <-chan Notification
}
