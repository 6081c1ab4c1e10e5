// Package units provides shared constants and conversion for temperature units
package units

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownUnit is returned by Parse for names that are not a known unit.
var ErrUnknownUnit = errors.New("unknown temperature unit")

// Temperature identifies the unit a temperature value is expressed in.
type Temperature int

// Unit constants
const (
	Celsius Temperature = iota
	Fahrenheit
)

// ValidUnits contains all valid unit names
var ValidUnits = []string{"celsius", "fahrenheit"}

// String returns the lower-case name used in configuration and the API.
func (t Temperature) String() string {
	switch t {
	case Celsius:
		return "celsius"
	case Fahrenheit:
		return "fahrenheit"
	default:
		return fmt.Sprintf("Temperature(%d)", int(t))
	}
}

// Valid reports whether t is a known unit.
func (t Temperature) Valid() bool {
	return t == Celsius || t == Fahrenheit
}

// Symbol returns the label shown next to temperature readings.
func (t Temperature) Symbol() string {
	if t == Fahrenheit {
		return "°F"
	}
	return "°C"
}

// IsValid checks if the given unit name is in the list of valid units
func IsValid(unit string) bool {
	_, err := Parse(unit)
	return err == nil
}

// Parse accepts the unit names and their single letter / symbol forms.
func Parse(name string) (Temperature, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "celsius", "c", "°c":
		return Celsius, nil
	case "fahrenheit", "f", "°f":
		return Fahrenheit, nil
	}
	return Celsius, fmt.Errorf("%w %q: expected %s", ErrUnknownUnit, name, strings.Join(ValidUnits, " or "))
}

// ToFahrenheit converts a Celsius value.
func ToFahrenheit(c float64) float64 { return c*1.8 + 32 }

// ToCelsius converts a Fahrenheit value.
func ToCelsius(f float64) float64 { return (f - 32) / 1.8 }

// Convert converts v from one unit to another. Converting to the same unit
// returns v unchanged.
func Convert(v float64, from, to Temperature) float64 {
	switch {
	case from == to:
		return v
	case to == Fahrenheit:
		return ToFahrenheit(v)
	default:
		return ToCelsius(v)
	}
}
