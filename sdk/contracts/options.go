package contracts

// ClientOptions defines the configuration options for the MIDI engine.
type ClientOptions struct {
	Logger     Logger   // Logger for events and errors.
	LogLevel   LogLevel // Level of logging to use.
	ClientName string   // Name registered with the OS MIDI service.
	Backend    Backend  // Explicit backend; overrides per-OS selection.
}

// Option is a function that modifies ClientOptions.
type Option func(*ClientOptions)

// WithLogger sets the logger for the MIDI engine.
func WithLogger(l Logger) Option {
	return func(opts *ClientOptions) {
		opts.Logger = l
	}
}

// WithLogLevel sets the logging level for the MIDI engine.
func WithLogLevel(level LogLevel) Option {
	return func(opts *ClientOptions) {
		opts.LogLevel = level
	}
}

// WithClientName sets the name under which the engine registers with the
// operating system's MIDI service.
func WithClientName(name string) Option {
	return func(opts *ClientOptions) {
		opts.ClientName = name
	}
}

// WithBackend forces a specific backend instead of the per-OS default.
func WithBackend(b Backend) Option {
	return func(opts *ClientOptions) {
		opts.Backend = b
	}
}
