/*
Package credentials defines what a client needs to talk to a Tuya BLE device locally: the
[DeviceCredential] (identity token, local key and product metadata), hardware address
normalization, and the [Manager] interface implemented by credential sources.

A DeviceCredential is only usable when it is complete (see [DeviceCredential.Complete]).
Credential sources never hand out incomplete credentials; they report [ErrDeviceNotFound]
instead.
*/
package credentials

import (
	"fmt"
	"strings"
)

// DeviceCredential holds everything required to communicate locally with one physical device.
type DeviceCredential struct {
	UUID         string        `json:"uuid" yaml:"uuid,omitempty"`
	LocalKey     string        `json:"local_key" yaml:"local_key,omitempty"`
	DeviceID     string        `json:"device_id" yaml:"device_id,omitempty"`
	Category     string        `json:"category" yaml:"category,omitempty"`
	ProductID    string        `json:"product_id" yaml:"product_id,omitempty"`
	DeviceName   string        `json:"device_name,omitempty" yaml:"device_name,omitempty"`
	ProductModel string        `json:"product_model,omitempty" yaml:"product_model,omitempty"`
	ProductName  string        `json:"product_name,omitempty" yaml:"product_name,omitempty"`
	Functions    []Function    `json:"functions,omitempty" yaml:"functions,omitempty"`
	StatusRange  []StatusField `json:"status_range,omitempty" yaml:"status_range,omitempty"`
}

// Complete returns true if the identity token, local key, remote device ID, category and product
// ID are all present.
func (c *DeviceCredential) Complete() bool {
	if c == nil {
		return false
	}
	return c.UUID != "" &&
		c.LocalKey != "" &&
		c.DeviceID != "" &&
		c.Category != "" &&
		c.ProductID != ""
}

// Clone returns a deep copy of c.
func (c *DeviceCredential) Clone() *DeviceCredential {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Functions != nil {
		clone.Functions = append([]Function(nil), c.Functions...)
	}
	if c.StatusRange != nil {
		clone.StatusRange = append([]StatusField(nil), c.StatusRange...)
	}
	return &clone
}

// ReadableName returns a name suitable for display: the device name if known, then the product
// name, and finally a name derived from the last bytes of address.
func (c *DeviceCredential) ReadableName(address string) string {
	if c != nil {
		if c.DeviceName != "" {
			return c.DeviceName
		}
		if c.ProductName != "" {
			return c.ProductName
		}
	}
	short := strings.ReplaceAll(CanonicalAddress(address), ":", "")
	if len(short) > 4 {
		short = short[len(short)-4:]
	}
	return "Tuya BLE " + short
}

// String omits the identity token, local key and device ID so credentials can be logged.
func (c *DeviceCredential) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf(
		"uuid: %s, local_key: %s, device_id: %s, category: %s, product_id: %s, "+
			"device_name: %s, product_model: %s, product_name: %s, functions: %d, status_range: %d",
		redact(c.UUID), redact(c.LocalKey), redact(c.DeviceID),
		c.Category, c.ProductID, c.DeviceName, c.ProductModel, c.ProductName,
		len(c.Functions), len(c.StatusRange),
	)
}

func redact(value string) string {
	if value == "" {
		return ""
	}
	return strings.Repeat("x", 16)
}

// CheckAndCreate returns a DeviceCredential built from the provided fields, or nil if any of the
// required fields is empty.
func CheckAndCreate(uuid, localKey, deviceID, category, productID string, opts ...Option) *DeviceCredential {
	c := &DeviceCredential{
		UUID:      uuid,
		LocalKey:  localKey,
		DeviceID:  deviceID,
		Category:  category,
		ProductID: productID,
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.Complete() {
		return nil
	}
	return c
}

// Option sets an optional DeviceCredential field in CheckAndCreate.
type Option func(*DeviceCredential)

// WithNames sets the human-readable device name, product model and product name.
func WithNames(deviceName, productModel, productName string) Option {
	return func(c *DeviceCredential) {
		c.DeviceName = deviceName
		c.ProductModel = productModel
		c.ProductName = productName
	}
}

// WithCapabilities sets the controllable functions and reportable status fields.
func WithCapabilities(functions []Function, status []StatusField) Option {
	return func(c *DeviceCredential) {
		c.Functions = functions
		c.StatusRange = status
	}
}
