// Package buildinfo holds build-time metadata kept apart from user configuration.
package buildinfo

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

// Info is injected at startup from linker flags.
type Info struct {
	Version   string
	BuildDate string
	// DeviceID is the origin id this installation uses on the change feed.
	DeviceID string
}

// GetVersion returns the version, or UnknownValue.
func (i *Info) GetVersion() string {
	if i == nil || i.Version == "" {
		return UnknownValue
	}
	return i.Version
}

// GetBuildDate returns the build date, or UnknownValue.
func (i *Info) GetBuildDate() string {
	if i == nil || i.BuildDate == "" {
		return UnknownValue
	}
	return i.BuildDate
}

// GetDeviceID returns the device id, or UnknownValue.
func (i *Info) GetDeviceID() string {
	if i == nil || i.DeviceID == "" {
		return UnknownValue
	}
	return i.DeviceID
}
