// Package discovery resolves credentials for Tuya BLE devices as their advertisements are seen.
//
// Advertisements come from a [Source]: a local Bluetooth adapter (package
// [github.com/tuyable/credential-cache/pkg/discovery/ble]) or BLE proxies relaying through an MQTT
// broker (package [github.com/tuyable/credential-cache/pkg/discovery/mqtt]). A [Watcher] resolves
// each new address once and persists the result.
package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/tuyable/credential-cache/pkg/cloud"
	"github.com/tuyable/credential-cache/pkg/credentials"
)

const (
	// ServiceUUID16 is the 16-bit UUID under which Tuya BLE devices advertise service data.
	ServiceUUID16 uint16 = 0xA201
	// ServiceUUID is ServiceUUID16 expanded with the Bluetooth base UUID.
	ServiceUUID = "0000a201-0000-1000-8000-00805f9b34fb"
)

// IsTuyaService returns true if uuid, in 16-bit or 128-bit form, names the Tuya BLE service.
func IsTuyaService(uuid string) bool {
	uuid = strings.ToLower(strings.TrimSpace(uuid))
	return uuid == ServiceUUID || uuid == fmt.Sprintf("%04x", ServiceUUID16)
}

// Advertisement is a BLE advertisement carrying Tuya service data.
type Advertisement struct {
	Address     string
	LocalName   string
	RSSI        int16
	ServiceData []byte
	// Source names where the advertisement was received, e.g. "hci0" or an MQTT proxy name.
	Source string
}

// Source reports advertisements until ctx is canceled or the source fails.
type Source interface {
	Run(ctx context.Context, found func(Advertisement)) error
}

// Manager resolves device credentials and warms the cache for every known context.
// [cloud.Manager] implements it.
type Manager interface {
	credentials.Manager
	Build(ctx context.Context) (cloud.BuildReport, error)
}

var _ Manager = (*cloud.Manager)(nil)
