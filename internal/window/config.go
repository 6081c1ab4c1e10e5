package window

import "github.com/banshee-data/sensorview/internal/units"

// Scale limits. The ceilings are per Config; the defaults are the 100
// sample display and the extended one allows 250.
const (
	SizeStep       = 10
	MinDisplaySize = 10
	MinYBoundShift = 1

	DefaultMaxDisplaySize = 100
	DefaultMaxYBoundShift = 10

	ExtendedMaxDisplaySize = 250
	ExtendedMaxYBoundShift = 25
)

// Config is the display scale. Zero fields take defaults: the ceilings
// fall back to the 100 sample limits and the current values start half way
// up.
type Config struct {
	DisplaySize    int
	YBoundShift    int
	MaxDisplaySize int
	MaxYBoundShift int
	Unit           units.Temperature
}

// DefaultConfig returns the 100 sample scale starting at 50 samples and a
// bound shift of 5.
func DefaultConfig() Config {
	return Config{}.normalize()
}

// ConfigForCeiling returns the scale for a display ceiling of 100 or 250
// samples. Any other value selects 100.
func ConfigForCeiling(ceiling int) Config {
	if ceiling == ExtendedMaxDisplaySize {
		return Config{MaxDisplaySize: ExtendedMaxDisplaySize, MaxYBoundShift: ExtendedMaxYBoundShift}.normalize()
	}
	return DefaultConfig()
}

func (c Config) normalize() Config {
	if c.MaxDisplaySize < MinDisplaySize {
		c.MaxDisplaySize = DefaultMaxDisplaySize
	}
	if c.MaxYBoundShift < MinYBoundShift {
		c.MaxYBoundShift = DefaultMaxYBoundShift
	}
	if c.DisplaySize == 0 {
		c.DisplaySize = c.MaxDisplaySize / 2
	}
	if c.YBoundShift == 0 {
		c.YBoundShift = c.MaxYBoundShift / 2
	}
	c.DisplaySize = min(max(c.DisplaySize, MinDisplaySize), c.MaxDisplaySize)
	c.YBoundShift = min(max(c.YBoundShift, MinYBoundShift), c.MaxYBoundShift)
	if !c.Unit.Valid() {
		c.Unit = units.Celsius
	}
	return c
}
