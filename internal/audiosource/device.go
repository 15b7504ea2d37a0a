// Device resolution helpers built on github.com/jochenvg/go-udev, a
// teacher dependency never wired into any corpus Go file. Used for startup
// logging ("capturing from card X, a USB sound device") and the
// --list-devices diagnostic, not for opening the stream itself (PortAudio
// owns that).
package audiosource

import (
	"fmt"

	"github.com/jochenvg/go-udev"
)

// CaptureDevice describes one enumerated ALSA sound capture device.
type CaptureDevice struct {
	Sysname string
	Model   string
	Vendor  string
}

// String renders a friendly one-line description for startup logging.
func (d CaptureDevice) String() string {
	if d.Model == "" {
		return d.Sysname
	}
	return fmt.Sprintf("%s (%s %s)", d.Sysname, d.Vendor, d.Model)
}

// DeviceResolver enumerates "sound" subsystem devices via udev, so an
// operator-supplied device identifier can be logged with a human-readable
// name instead of a bare ALSA card string.
type DeviceResolver struct {
	u udev.Udev
}

// NewDeviceResolver returns a DeviceResolver backed by the host's udev
// database.
func NewDeviceResolver() *DeviceResolver {
	return &DeviceResolver{u: udev.Udev{}}
}

// List enumerates every device in udev's "sound" subsystem, for the
// --list-devices diagnostic flag and startup logging. Devices are not
// filtered by capture capability.
func (r *DeviceResolver) List() ([]CaptureDevice, error) {
	var e = r.u.NewEnumerate()
	if err := e.AddMatchSubsystem("sound"); err != nil {
		return nil, fmt.Errorf("audiosource: udev match subsystem: %w", err)
	}

	var devices, err = e.Devices()
	if err != nil {
		return nil, fmt.Errorf("audiosource: udev enumerate: %w", err)
	}

	var out []CaptureDevice
	for _, d := range devices {
		out = append(out, CaptureDevice{
			Sysname: d.Sysname(),
			Model:   d.PropertyValue("ID_MODEL"),
			Vendor:  d.PropertyValue("ID_VENDOR"),
		})
	}
	return out, nil
}

// Resolve returns the friendly description for the sysname matching the
// configured device identifier, falling back to the bare identifier when
// udev has no record of it (e.g. under a non-Linux PortAudio host API, or a
// symbolic name like "default").
func (r *DeviceResolver) Resolve(deviceID string) string {
	var devices, err = r.List()
	if err != nil {
		return deviceID
	}
	for _, d := range devices {
		if d.Sysname == deviceID {
			return d.String()
		}
	}
	return deviceID
}
