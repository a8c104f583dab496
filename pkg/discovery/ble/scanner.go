// Package ble reports Tuya BLE advertisements seen by a local Bluetooth adapter.
package ble

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ble/ble"

	"github.com/tuyable/credential-cache/internal/log"
	"github.com/tuyable/credential-cache/pkg/credentials"
	"github.com/tuyable/credential-cache/pkg/discovery"
)

var (
	ErrAdapterInvalidID = credentials.NewError("the bluetooth adapter ID is invalid", false)
	ErrNotSupported     = credentials.NewError("BLE scanning is not supported on this platform", false)
)

var tuyaServiceUUID = ble.UUID16(discovery.ServiceUUID16)

// scanDevice is the part of [ble.Device] the Scanner uses.
type scanDevice interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Stop() error
}

// Scanner is a [discovery.Source] backed by a local Bluetooth adapter.
type Scanner struct {
	device scanDevice
	name   string
}

var _ discovery.Source = (*Scanner)(nil)

// NewScanner opens the Bluetooth adapter with the given ID, e.g. "hci0". An empty ID selects the
// default adapter.
func NewScanner(id string) (*Scanner, error) {
	device, err := newDevice(id)
	if err != nil {
		return nil, fmt.Errorf("ble: failed to enable device: %w", err)
	}
	if id == "" {
		id = "default"
	}
	return &Scanner{device: device, name: id}, nil
}

// Run scans until ctx is canceled, reporting advertisements that carry Tuya service data.
func (s *Scanner) Run(ctx context.Context, found func(discovery.Advertisement)) error {
	log.Debug("Scanning for Tuya BLE devices on %s", s.name)
	err := s.device.Scan(ctx, true, func(a ble.Advertisement) {
		if adv, ok := advertisement(a, s.name); ok {
			found(adv)
		}
	})
	// Some platforms only return once ctx is done, always with an error.
	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return ctx.Err()
	}
	return err
}

// Close releases the adapter.
func (s *Scanner) Close() error {
	if s.device == nil {
		return nil
	}
	device := s.device
	s.device = nil
	return device.Stop()
}

func advertisement(a ble.Advertisement, source string) (discovery.Advertisement, bool) {
	for _, data := range a.ServiceData() {
		if !data.UUID.Equal(tuyaServiceUUID) {
			continue
		}
		return discovery.Advertisement{
			Address:     credentials.CanonicalAddress(a.Addr().String()),
			LocalName:   a.LocalName(),
			RSSI:        int16(a.RSSI()),
			ServiceData: data.Data,
			Source:      source,
		}, true
	}
	return discovery.Advertisement{}, false
}
