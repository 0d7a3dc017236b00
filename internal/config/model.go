package config

// Config is the daemon's process configuration. It is not output state:
// resolved layouts live only in memory.
type Config struct {
	// Socket is the unix socket clients connect to.
	Socket string `yaml:"socket"`
	// HTTPAddress serves the read-only debug endpoints; empty disables them.
	HTTPAddress string `yaml:"http_address"`
	// QueueCapacity bounds each subscriber's event queue.
	QueueCapacity int `yaml:"queue_capacity"`
	// MinWindowSize clamps window and column resizes, logical pixels.
	MinWindowSize int `yaml:"min_window_size"`
	// RefreshTolerance is the refresh-rate match tolerance as a fraction of
	// the requested rate.
	RefreshTolerance float64 `yaml:"refresh_tolerance"`
	// Layouts is the ordered list switch_layout cycles through.
	Layouts []string `yaml:"layouts"`
}

var defaultConfig = Config{
	Socket:           "/tmp/stratad.sock",
	QueueCapacity:    64,
	MinWindowSize:    64,
	RefreshTolerance: 0.001,
	Layouts:          []string{"default", "wide", "stacked"},
}

// Normalize fills zero values in from the defaults so a sparse config file
// still yields a runnable daemon.
func (c Config) Normalize() Config {
	if c.Socket == "" {
		c.Socket = defaultConfig.Socket
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultConfig.QueueCapacity
	}
	if c.MinWindowSize < 0 {
		c.MinWindowSize = defaultConfig.MinWindowSize
	}
	if c.RefreshTolerance <= 0 {
		c.RefreshTolerance = defaultConfig.RefreshTolerance
	}
	if len(c.Layouts) == 0 {
		c.Layouts = defaultConfig.Layouts
	}
	return c
}
