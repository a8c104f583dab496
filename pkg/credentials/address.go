package credentials

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLength is the byte-length of a BLE hardware address.
const AddressLength = 6

// NormalizeAddress formats a raw 6-byte hardware address as colon-separated uppercase hex, e.g.
// "DC:23:4D:00:11:22".
func NormalizeAddress(raw []byte) (string, error) {
	if len(raw) != AddressLength {
		return "", fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAddress, AddressLength, len(raw))
	}
	parts := make([]string, len(raw))
	for i, b := range raw {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}

// ParseFactoryMAC decodes the MAC reported in a device's factory info. The directory reports it
// as 12 hex digits without separators; separators are tolerated.
func ParseFactoryMAC(mac string) (string, error) {
	raw, err := AddressBytes(mac)
	if err != nil {
		return "", err
	}
	return NormalizeAddress(raw)
}

// AddressBytes parses a hardware address with or without ':' or '-' separators.
func AddressBytes(address string) ([]byte, error) {
	digits := strings.NewReplacer(":", "", "-", "", " ", "").Replace(strings.TrimSpace(address))
	if len(digits) != 2*AddressLength {
		return nil, fmt.Errorf("%w: '%s'", ErrInvalidAddress, address)
	}
	raw, err := hex.DecodeString(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %s", ErrInvalidAddress, address, err)
	}
	return raw, nil
}

// CanonicalAddress converts a caller-supplied address into the form used as a cache key. Addresses
// that cannot be parsed are upper-cased and returned otherwise unchanged, so lookups simply miss.
func CanonicalAddress(address string) string {
	raw, err := AddressBytes(address)
	if err != nil {
		return strings.ToUpper(strings.TrimSpace(address))
	}
	normalized, _ := NormalizeAddress(raw)
	return normalized
}
