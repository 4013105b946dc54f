package midiio

import (
	"runtime"

	"github.com/snisim/pytakt/internal/backend/alsaseq"
	"github.com/snisim/pytakt/internal/backend/coremidi"
	"github.com/snisim/pytakt/internal/backend/generic"
	"github.com/snisim/pytakt/internal/backend/winmme"
	"github.com/snisim/pytakt/internal/logger"
	"github.com/snisim/pytakt/sdk/contracts"
)

// backendInitializers maps OS names to the corresponding backend.
var backendInitializers = map[string]func(*contracts.ClientOptions) (contracts.Backend, error){
	"windows": winmme.New,
	"darwin":  coremidi.New,
	"linux":   alsaseq.New,
}

// applyDefaultOptions fills in defaults for anything not explicitly set.
func applyDefaultOptions(opts ...contracts.Option) contracts.ClientOptions {
	options := &contracts.ClientOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.Logger == nil {
		options.Logger = logger.NewZapLogger()
	}
	if options.ClientName == "" {
		options.ClientName = "pytakt"
	}
	options.Logger.SetLevel(options.LogLevel)
	return *options
}

// newBackend selects the backend for the current OS, falling back to the
// no-I/O generic backend where no MIDI service is supported. An explicitly
// configured backend wins over the per-OS selection.
func newBackend(options *contracts.ClientOptions) (contracts.Backend, error) {
	if options.Backend != nil {
		return options.Backend, nil
	}
	if initializer, exists := backendInitializers[runtime.GOOS]; exists {
		return initializer(options)
	}
	options.Logger.Warn("no MIDI backend for this platform; running without device I/O",
		options.Logger.Field().String("os", runtime.GOOS))
	return generic.New(options)
}
