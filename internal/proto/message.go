// Package proto defines the control-plane wire schema: requests, responses,
// events and the configuration value types they carry. Unions are closed sets
// of variants behind sealed interfaces with exhaustive decode switches; there
// is no behavior here beyond encoding.
package proto

import (
	"encoding/json"
	"fmt"
)

// Version is the protocol version this build speaks. Handshakes demanding
// anything else are rejected with a version mismatch.
const Version = 1

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, v)
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Request is a client-to-server message.
type Request interface {
	RequestName() string
}

type Handshake struct {
	Version int `json:"version"`
}

type GetOutputs struct{}

type GetWindows struct{}

type GetWorkspaces struct{}

type GetLayers struct{}

type SetOutputConfig struct {
	Outputs []OutputConfig `json:"outputs"`
}

type DoAction struct {
	Action Action `json:"-"`
}

type Subscribe struct{}

func (Handshake) RequestName() string       { return "handshake" }
func (GetOutputs) RequestName() string      { return "get_outputs" }
func (GetWindows) RequestName() string      { return "get_windows" }
func (GetWorkspaces) RequestName() string   { return "get_workspaces" }
func (GetLayers) RequestName() string       { return "get_layers" }
func (SetOutputConfig) RequestName() string { return "set_output_config" }
func (DoAction) RequestName() string        { return "action" }
func (Subscribe) RequestName() string       { return "subscribe" }

func EncodeRequest(r Request) ([]byte, error) {
	var payload []byte
	var err error
	if a, ok := r.(DoAction); ok {
		payload, err = EncodeAction(a.Action)
	} else {
		payload, err = json.Marshal(r)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: r.RequestName(), Payload: payload})
}

func DecodeRequest(data []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	switch env.Type {
	case "handshake":
		var r Handshake
		err := decodePayload(env.Payload, &r)
		return r, err
	case "get_outputs":
		return GetOutputs{}, nil
	case "get_windows":
		return GetWindows{}, nil
	case "get_workspaces":
		return GetWorkspaces{}, nil
	case "get_layers":
		return GetLayers{}, nil
	case "set_output_config":
		var r SetOutputConfig
		err := decodePayload(env.Payload, &r)
		return r, err
	case "action":
		a, err := DecodeAction(env.Payload)
		if err != nil {
			return nil, err
		}
		return DoAction{Action: a}, nil
	case "subscribe":
		return Subscribe{}, nil
	default:
		return nil, fmt.Errorf("unknown request %q", env.Type)
	}
}

// Response is a server-to-client reply. Every request gets exactly one.
type Response interface {
	ResponseName() string
}

// Ok is a successful reply; Payload carries the query result, if any.
type Ok struct {
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutputConfigResult reports the per-output outcome of a SetOutputConfig
// batch, keyed by output name.
type OutputConfigResult struct {
	Results map[string]OutputOutcome `json:"results"`
}

type Err struct {
	Err Error `json:"err"`
}

func (Ok) ResponseName() string                 { return "ok" }
func (OutputConfigResult) ResponseName() string { return "output_config_result" }
func (Err) ResponseName() string                { return "err" }

// NewOk wraps a query payload in an Ok response.
func NewOk(payload any) Response {
	if payload == nil {
		return Ok{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Err{Err: *NewError(ErrInvalidRequest, "encode payload: %s", err)}
	}
	return Ok{Payload: data}
}

func NewErr(kind ErrorKind, format string, args ...any) Response {
	return Err{Err: *NewError(kind, format, args...)}
}

func EncodeResponse(r Response) ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: r.ResponseName(), Payload: payload})
}

func DecodeResponse(data []byte) (Response, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	switch env.Type {
	case "ok":
		var r Ok
		err := decodePayload(env.Payload, &r)
		return r, err
	case "output_config_result":
		var r OutputConfigResult
		err := decodePayload(env.Payload, &r)
		return r, err
	case "err":
		var r Err
		err := decodePayload(env.Payload, &r)
		return r, err
	default:
		return nil, fmt.Errorf("unknown response %q", env.Type)
	}
}

// Event is a server-to-subscriber notification.
type Event interface {
	EventName() string
}

// OutputsChanged carries the full resolved layout after any output change.
type OutputsChanged struct {
	Outputs []LogicalOutput `json:"outputs"`
}

type WindowsChanged struct {
	Diff WindowsDiff `json:"diff"`
}

type WorkspacesChanged struct {
	Diff WorkspacesDiff `json:"diff"`
}

type LayersChanged struct {
	Diff LayersDiff `json:"diff"`
}

type VersionMismatch struct {
	Supported int `json:"supported"`
}

func (OutputsChanged) EventName() string    { return "outputs_changed" }
func (WindowsChanged) EventName() string    { return "windows_changed" }
func (WorkspacesChanged) EventName() string { return "workspaces_changed" }
func (LayersChanged) EventName() string     { return "layers_changed" }
func (VersionMismatch) EventName() string   { return "version_mismatch" }

func EncodeEvent(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: e.EventName(), Payload: payload})
}

func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	switch env.Type {
	case "outputs_changed":
		var e OutputsChanged
		err := decodePayload(env.Payload, &e)
		return e, err
	case "windows_changed":
		var e WindowsChanged
		err := decodePayload(env.Payload, &e)
		return e, err
	case "workspaces_changed":
		var e WorkspacesChanged
		err := decodePayload(env.Payload, &e)
		return e, err
	case "layers_changed":
		var e LayersChanged
		err := decodePayload(env.Payload, &e)
		return e, err
	case "version_mismatch":
		var e VersionMismatch
		err := decodePayload(env.Payload, &e)
		return e, err
	default:
		return nil, fmt.Errorf("unknown event %q", env.Type)
	}
}
