package domain

import "strings"

// Frequency is the cadence tier a user subscribes to. The zero value is
// FrequencyDaily, which is also the default for a fresh user.
type Frequency uint8

const (
	FrequencyDaily Frequency = iota
	FrequencyHourly
	FrequencyOff
)

// Frequencies lists every representable tier.
var Frequencies = []Frequency{FrequencyHourly, FrequencyDaily, FrequencyOff}

func (f Frequency) String() string {
	switch f {
	case FrequencyDaily:
		return "daily"
	case FrequencyHourly:
		return "hourly"
	case FrequencyOff:
		return "off"
	default:
		return "invalid"
	}
}

func (f Frequency) Valid() bool { return f <= FrequencyOff }

// ParseFrequency accepts "hourly", "daily" or "off", case-insensitively.
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return FrequencyDaily, nil
	case "hourly":
		return FrequencyHourly, nil
	case "off":
		return FrequencyOff, nil
	}
	return 0, &ValidationError{Field: "frequency", Value: s, Msg: `must be "hourly", "daily" or "off"`}
}

func (f Frequency) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, &ValidationError{Field: "frequency", Value: f.String()}
	}
	return []byte(f.String()), nil
}

func (f *Frequency) UnmarshalText(b []byte) error {
	v, err := ParseFrequency(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}
