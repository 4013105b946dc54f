package contracts

// DeviceInfo describes one enumerated MIDI endpoint.
type DeviceInfo struct {
	Name         string // Display name of the endpoint.
	Manufacturer string // Manufacturer, when the platform reports one.
	EntityName   string // Owning entity (CoreMIDI); empty for ALSA ports.
}
