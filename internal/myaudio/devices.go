package myaudio

import (
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/coughdetect/internal/errors"
)

// AudioDeviceInfo holds information about an audio capture device.
type AudioDeviceInfo struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	ID        string `json:"id"`
	IsDefault bool   `json:"isDefault"`
}

// ListAudioSources returns the available audio capture devices.
func ListAudioSources() ([]AudioDeviceInfo, error) {
	backend, err := getBackendForPlatform()
	if err != nil {
		return nil, err
	}

	ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("operation", "init_context").
			Build()
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("operation", "enumerate_devices").
			Build()
	}

	devices := make([]AudioDeviceInfo, 0, len(infos))
	for i := range infos {
		// Skip the discard/null device
		if strings.Contains(infos[i].Name(), "Discard all samples") {
			continue
		}

		decodedID, err := hexToASCII(infos[i].ID.String())
		if err != nil {
			decodedID = infos[i].ID.String()
		}

		devices = append(devices, AudioDeviceInfo{
			Index:     i,
			Name:      infos[i].Name(),
			ID:        decodedID,
			IsDefault: infos[i].IsDefault == 1,
		})
	}

	return devices, nil
}
