package credentials

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Function describes a datapoint a client can set on the device.
type Function struct {
	Code        string `json:"code" yaml:"code"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"desc,omitempty" yaml:"desc,omitempty"`
	Type        string `json:"type" yaml:"type"`
	// Values is the JSON document describing the accepted range (for example
	// {"min":0,"max":100,"scale":0,"step":1} or {"range":["white","colour"]}).
	Values string `json:"values" yaml:"values"`
}

// Range decodes f.Values.
func (f Function) Range() (*structpb.Struct, error) {
	return decodeValues(f.Code, f.Values)
}

// StatusField describes a datapoint the device reports.
type StatusField struct {
	Code   string `json:"code" yaml:"code"`
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
	Type   string `json:"type" yaml:"type"`
	Values string `json:"values" yaml:"values"`
}

// Range decodes s.Values.
func (s StatusField) Range() (*structpb.Struct, error) {
	return decodeValues(s.Code, s.Values)
}

// decodeValues parses a schema-less values document. Empty documents decode to an empty Struct.
func decodeValues(code, values string) (*structpb.Struct, error) {
	doc := &structpb.Struct{}
	if strings.TrimSpace(values) == "" {
		return doc, nil
	}
	if err := protojson.Unmarshal([]byte(values), doc); err != nil {
		return nil, fmt.Errorf("invalid values for %s: %w", code, err)
	}
	return doc, nil
}

// ValidCapabilities returns the functions and status fields whose values documents decode. The
// returned error describes every capability that was dropped.
func ValidCapabilities(functions []Function, status []StatusField) ([]Function, []StatusField, error) {
	var errs []error
	var validFunctions []Function
	for _, f := range functions {
		if _, err := f.Range(); err != nil {
			errs = append(errs, err)
			continue
		}
		validFunctions = append(validFunctions, f)
	}
	var validStatus []StatusField
	for _, s := range status {
		if _, err := s.Range(); err != nil {
			errs = append(errs, err)
			continue
		}
		validStatus = append(validStatus, s)
	}
	return validFunctions, validStatus, errors.Join(errs...)
}

// FindFunction returns the function with the given code.
func (c *DeviceCredential) FindFunction(code string) (Function, bool) {
	if c == nil {
		return Function{}, false
	}
	for _, f := range c.Functions {
		if f.Code == code {
			return f, true
		}
	}
	return Function{}, false
}

// FindStatus returns the status field with the given code.
func (c *DeviceCredential) FindStatus(code string) (StatusField, bool) {
	if c == nil {
		return StatusField{}, false
	}
	for _, s := range c.StatusRange {
		if s.Code == code {
			return s, true
		}
	}
	return StatusField{}, false
}
