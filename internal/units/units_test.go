package units

import (
	"errors"
	"math"
	"testing"
)

func TestConvert(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		from, to Temperature
		expected float64
	}{
		{"freezing to fahrenheit", 0, Celsius, Fahrenheit, 32},
		{"boiling to fahrenheit", 100, Celsius, Fahrenheit, 212},
		{"body temperature to celsius", 98.6, Fahrenheit, Celsius, 37},
		{"minus forty is the same in both", -40, Celsius, Fahrenheit, -40},
		{"same unit is unchanged", 23.5, Celsius, Celsius, 23.5},
		{"same unit fahrenheit is unchanged", 74.3, Fahrenheit, Fahrenheit, 74.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Convert(tt.value, tt.from, tt.to)
			if math.Abs(result-tt.expected) > 1e-6 {
				t.Errorf("Convert(%f, %v, %v) = %f, want %f", tt.value, tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestConvertRoundTrip(t *testing.T) {
	for v := -60.0; v <= 150.0; v += 0.37 {
		got := Convert(Convert(v, Celsius, Fahrenheit), Fahrenheit, Celsius)
		if math.Abs(got-v) > 1e-3 {
			t.Fatalf("round trip of %f returned %f", v, got)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Temperature
		wantErr  bool
	}{
		{"celsius", "celsius", Celsius, false},
		{"fahrenheit upper case", "FAHRENHEIT", Fahrenheit, false},
		{"short form", "f", Fahrenheit, false},
		{"symbol", "°C", Celsius, false},
		{"padded", "  celsius ", Celsius, false},
		{"kelvin", "kelvin", Celsius, true},
		{"empty string", "", Celsius, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownUnit) {
					t.Errorf("Parse(%q) error = %v, want ErrUnknownUnit", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	for _, name := range ValidUnits {
		if !IsValid(name) {
			t.Errorf("IsValid(%q) = false, want true", name)
		}
	}
	if IsValid("rankine") {
		t.Error("IsValid(\"rankine\") = true, want false")
	}
}

func TestSymbolAndString(t *testing.T) {
	if Celsius.Symbol() != "°C" || Fahrenheit.Symbol() != "°F" {
		t.Errorf("unexpected symbols %q %q", Celsius.Symbol(), Fahrenheit.Symbol())
	}
	if Celsius.String() != "celsius" || Fahrenheit.String() != "fahrenheit" {
		t.Errorf("unexpected names %q %q", Celsius.String(), Fahrenheit.String())
	}
	if Temperature(7).String() != "Temperature(7)" {
		t.Errorf("unexpected name for invalid unit: %q", Temperature(7).String())
	}
}

func TestTemperature_Valid(t *testing.T) {
	if !Celsius.Valid() || !Fahrenheit.Valid() {
		t.Error("Celsius and Fahrenheit should be valid")
	}
	if Temperature(7).Valid() {
		t.Error("Temperature(7).Valid() = true, want false")
	}
}
