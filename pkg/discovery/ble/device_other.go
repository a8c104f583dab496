//go:build !linux

package ble

import "github.com/go-ble/ble"

func newDevice(_ string) (ble.Device, error) {
	return nil, ErrNotSupported
}
