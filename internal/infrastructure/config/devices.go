package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/usb"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

type deviceFile struct {
	Devices []usb.Device `yaml:"devices" toml:"devices"`
}

// LoadDeviceFile reads the initial simulated devices. The format follows the
// extension: .yaml/.yml or .toml. Both hold a top-level "devices" list.
func LoadDeviceFile(path string) ([]usb.Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("device file load failed (%s): %w", path, err)
	}

	var file deviceFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".toml":
		err = toml.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("device file %s: unsupported format %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("device file parse failed (%s): %w", path, err)
	}

	if err := usb.ValidateDevices(file.Devices); err != nil {
		return nil, fmt.Errorf("device file %s: %w", path, err)
	}
	if file.Devices == nil {
		file.Devices = []usb.Device{}
	}
	return file.Devices, nil
}
