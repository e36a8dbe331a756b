package myaudio

import (
	"encoding/hex"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/logger"
)

// MalgoDevice captures from a system audio device through miniaudio.
type MalgoDevice struct {
	source string
	debug  bool

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	name   string
	id     string
}

// NewMalgoDevice returns a device for the capture source matching source by
// decoded ID or name substring. An empty source, "default" or "sysdefault"
// selects the system default capture device.
func NewMalgoDevice(source string, debug bool) *MalgoDevice {
	return &MalgoDevice{source: source, debug: debug}
}

// getBackendForPlatform returns the malgo backend for the current platform
func getBackendForPlatform() (malgo.Backend, error) {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, errors.Newf("unsupported operating system: %s", runtime.GOOS).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("os", runtime.GOOS).
			Build()
	}
}

func (d *MalgoDevice) initContext() (*malgo.AllocatedContext, error) {
	backend, err := getBackendForPlatform()
	if err != nil {
		return nil, err
	}
	return malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, func(message string) {
		if d.debug {
			GetLogger().Debug("miniaudio", logger.String("message", strings.TrimSpace(message)))
		}
	})
}

// Open initializes the miniaudio context and the capture device.
func (d *MalgoDevice) Open(cb Callbacks) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		return nil
	}

	malgoCtx, err := d.initContext()
	if err != nil {
		return fmt.Errorf("%w: init context: %w", errors.ErrDeviceUnavailable, err)
	}

	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return fmt.Errorf("%w: enumerate devices: %w", errors.ErrDeviceUnavailable, err)
	}

	info, err := selectCaptureSource(infos, d.source)
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return fmt.Errorf("%w: %w", errors.ErrDeviceUnavailable, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = conf.NumChannels
	deviceConfig.SampleRate = conf.SampleRate
	deviceConfig.Alsa.NoMMap = 1
	deviceConfig.Capture.DeviceID = info.ID.Pointer()

	name := info.Name()
	deviceCallbacks := malgo.DeviceCallbacks{
		Data: func(_, pSamples []byte, _ uint32) {
			if cb.Data != nil {
				cb.Data(pSamples)
			}
		},
		Stop: func() {
			if cb.Fail != nil {
				cb.Fail(fmt.Errorf("capture device %q stopped", name))
			}
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return fmt.Errorf("%w: init device %q: %w", errors.ErrDeviceUnavailable, name, err)
	}

	decodedID, err := hexToASCII(info.ID.String())
	if err != nil {
		decodedID = info.ID.String()
	}

	d.ctx = malgoCtx
	d.device = device
	d.name = name
	d.id = decodedID

	GetLogger().Info("capture device opened",
		logger.String("device", name),
		logger.String("id", decodedID),
		logger.Int("sample_rate", conf.SampleRate))
	return nil
}

// Start begins capture.
func (d *MalgoDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return fmt.Errorf("%w: device not open", errors.ErrDeviceUnavailable)
	}
	if err := d.device.Start(); err != nil {
		return fmt.Errorf("%w: start %q: %w", errors.ErrDeviceUnavailable, d.name, err)
	}
	return nil
}

// Stop halts capture. The device stays open.
func (d *MalgoDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil || !d.device.IsStarted() {
		return nil
	}
	return d.device.Stop()
}

// Close releases the device and the miniaudio context.
func (d *MalgoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	if d.device != nil {
		if d.device.IsStarted() {
			err = d.device.Stop()
		}
		d.device.Uninit()
		d.device = nil
	}
	if d.ctx != nil {
		if uerr := d.ctx.Uninit(); uerr != nil && err == nil {
			err = uerr
		}
		d.ctx.Free()
		d.ctx = nil
	}
	return err
}

// Name returns the opened device name.
func (d *MalgoDevice) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.name == "" {
		return d.source
	}
	return d.name
}

// selectCaptureSource finds the device matching source. Default aliases pick
// the system default device, or the first one when none is flagged.
func selectCaptureSource(infos []malgo.DeviceInfo, source string) (*malgo.DeviceInfo, error) {
	if len(infos) == 0 {
		return nil, fmt.Errorf("no capture devices found")
	}

	if isDefaultSource(source) {
		for i := range infos {
			if infos[i].IsDefault == 1 {
				return &infos[i], nil
			}
		}
		return &infos[0], nil
	}

	for i := range infos {
		decodedID, err := hexToASCII(infos[i].ID.String())
		if err != nil {
			decodedID = infos[i].ID.String()
		}
		if matchesDeviceSettings(decodedID, infos[i].Name(), source) {
			return &infos[i], nil
		}
	}

	return nil, fmt.Errorf("no capture source found for device setting %q", source)
}

func isDefaultSource(source string) bool {
	return source == "" || source == "default" || source == "sysdefault"
}

// matchesDeviceSettings checks if the device matches the configured source.
func matchesDeviceSettings(decodedID, name, source string) bool {
	return decodedID == source || strings.Contains(name, source)
}

// hexToASCII converts a hexadecimal string to an ASCII string.
func hexToASCII(hexStr string) (string, error) {
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(bytes), "\x00"), nil
}
