package usb

import (
	"context"
	"fmt"
)

// RequesterName is the requester the backend uses to reach USB devices
// through the front end.
const RequesterName = "libusb"

// FnListDevices enumerates attached devices.
const FnListDevices = "listDevices"

// DeviceType identifies a supported reader model.
type DeviceType string

const (
	GemaltoPcTwinReader         DeviceType = "gemaltoPcTwinReader"
	DellSmartCardReaderKeyboard DeviceType = "dellSmartCardReaderKeyboard"
)

var readerNames = map[DeviceType]string{
	GemaltoPcTwinReader:         "Gemalto PC Twin Reader",
	DellSmartCardReaderKeyboard: "Dell Dell Smart Card Reader Keyboard",
}

// ReaderName returns the PC/SC reader name prefix for the model.
func (t DeviceType) ReaderName() (string, bool) {
	name, ok := readerNames[t]
	return name, ok
}

// CardType identifies a simulated card inserted in a reader.
type CardType string

const (
	// CosmoID70 is an IDEMIA Cosmo ID 70 smart card.
	CosmoID70 CardType = "cosmoId70"
)

var cardAtrs = map[CardType][]byte{
	CosmoID70: {
		0x3B, 0xDB, 0x96, 0x00, 0x80, 0xB1, 0xFE, 0x45, 0x1F, 0x83, 0x00,
		0x31, 0xC0, 0x64, 0xC7, 0xFC, 0x10, 0x00, 0x01, 0x90, 0x00, 0x74,
	},
}

// Atr returns the answer-to-reset of the card.
func (c CardType) Atr() ([]byte, bool) {
	atr, ok := cardAtrs[c]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(atr))
	copy(out, atr)
	return out, true
}

// Device is one attached USB reader, optionally with a card inserted.
type Device struct {
	ID       int64      `json:"id" yaml:"id" toml:"id"`
	Type     DeviceType `json:"type" yaml:"type" toml:"type"`
	CardType CardType   `json:"cardType,omitempty" yaml:"cardType,omitempty" toml:"cardType,omitempty"`
}

// Validate checks the device against the supported models and cards.
func (d Device) Validate() error {
	if _, ok := d.Type.ReaderName(); !ok {
		return fmt.Errorf("device %d: unsupported type %q", d.ID, d.Type)
	}
	if d.CardType != "" {
		if _, ok := d.CardType.Atr(); !ok {
			return fmt.Errorf("device %d: unsupported card %q", d.ID, d.CardType)
		}
	}
	return nil
}

// ValidateDevices checks every device and rejects duplicate ids.
func ValidateDevices(devices []Device) error {
	seen := make(map[int64]bool, len(devices))
	for _, d := range devices {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.ID] {
			return fmt.Errorf("device %d: duplicate id", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}

// Lister enumerates attached devices.
type Lister interface {
	ListDevices(ctx context.Context) ([]Device, error)
}

// NoDevices is the Lister used when neither real USB access nor simulation
// is configured.
type NoDevices struct{}

// ListDevices always returns an empty list.
func (NoDevices) ListDevices(context.Context) ([]Device, error) {
	return []Device{}, nil
}
