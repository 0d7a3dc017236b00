package proto

// Mode is a hardware timing an output can drive. Refresh is in millihertz to
// keep the wire format integral.
type Mode struct {
	Width      int  `json:"width"`
	Height     int  `json:"height"`
	RefreshMhz int  `json:"refresh_mhz"`
	Preferred  bool `json:"preferred,omitempty"`
	Vrr        bool `json:"vrr,omitempty"`
}

func (m Mode) Same(other Mode) bool {
	return m.Width == other.Width && m.Height == other.Height && m.RefreshMhz == other.RefreshMhz
}

// ConfiguredMode requests a mode: automatic defers to the output's preferred
// mode, otherwise width/height must match exactly and refresh, if given,
// within the resolver's tolerance.
type ConfiguredMode struct {
	Automatic  bool `json:"automatic,omitempty"`
	Width      int  `json:"width,omitempty"`
	Height     int  `json:"height,omitempty"`
	RefreshMhz *int `json:"refresh_mhz,omitempty"`
}

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ConfiguredPosition requests a position: automatic defers to the resolver's
// packing pass.
type ConfiguredPosition struct {
	Automatic bool `json:"automatic,omitempty"`
	X         int  `json:"x,omitempty"`
	Y         int  `json:"y,omitempty"`
}

// ScaleToSet requests a scale factor: automatic derives it from the mode's
// pixel density, explicit values are rounded to the backend's scale step.
type ScaleToSet struct {
	Automatic bool    `json:"automatic,omitempty"`
	Scale     float64 `json:"scale,omitempty"`
}

type Transform string

const (
	TransformNormal     Transform = "normal"
	Transform90         Transform = "90"
	Transform180        Transform = "180"
	Transform270        Transform = "270"
	TransformFlipped    Transform = "flipped"
	TransformFlipped90  Transform = "flipped-90"
	TransformFlipped180 Transform = "flipped-180"
	TransformFlipped270 Transform = "flipped-270"
)

// Rotated reports whether the transform swaps width and height.
func (t Transform) Rotated() bool {
	switch t {
	case Transform90, Transform270, TransformFlipped90, TransformFlipped270:
		return true
	}
	return false
}

func (t Transform) Valid() bool {
	switch t {
	case TransformNormal, Transform90, Transform180, Transform270,
		TransformFlipped, TransformFlipped90, TransformFlipped180, TransformFlipped270:
		return true
	}
	return false
}

type VrrToSet string

const (
	VrrOn          VrrToSet = "on"
	VrrOff         VrrToSet = "off"
	VrrOnIfCapable VrrToSet = "on-if-supported"
)

// OutputConfig is one output's requested configuration inside a
// SetOutputConfig batch.
type OutputConfig struct {
	Output    string             `json:"output"`
	Mode      ConfiguredMode     `json:"mode"`
	Position  ConfiguredPosition `json:"position"`
	Scale     ScaleToSet         `json:"scale"`
	Transform Transform          `json:"transform,omitempty"`
	Vrr       VrrToSet           `json:"vrr,omitempty"`
}

// LogicalOutput is the resolved placement of one output in the shared
// coordinate space. Only the resolver produces these.
type LogicalOutput struct {
	Output    string    `json:"output"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Scale     float64   `json:"scale"`
	Transform Transform `json:"transform"`
	Mode      Mode      `json:"mode"`
	Vrr       bool      `json:"vrr"`
}

// Overlaps reports whether two logical output rectangles intersect.
func (o LogicalOutput) Overlaps(other LogicalOutput) bool {
	return o.X < other.X+other.Width && other.X < o.X+o.Width &&
		o.Y < other.Y+other.Height && other.Y < o.Y+o.Height
}

type OutputConfigChanged string

const (
	OutputApplied    OutputConfigChanged = "applied"
	OutputWasMissing OutputConfigChanged = "output_was_missing"
	OutputFailed     OutputConfigChanged = "failed"
)

// OutputOutcome is the per-output result of a SetOutputConfig request.
// Error is set only when Changed is OutputFailed.
type OutputOutcome struct {
	Changed OutputConfigChanged `json:"changed"`
	Error   *Error              `json:"error,omitempty"`
}
