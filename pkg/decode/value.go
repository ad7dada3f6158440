// Package decode turns raw CAN frames into signal maps using the protocol
// catalog and device mapping. Decoding is pure: the same frame, catalog, and
// mapping always produce the same result.
package decode

import (
	"encoding/json"
	"strconv"
)

// Value is one decoded signal value: a scaled number, an enumeration label,
// or the distinguished "not available" variant. The NA variant is never a
// numeric NaN; it marshals as the string "n/a".
type Value struct {
	Raw   uint64  `json:"-"`
	Num   float64 `json:"-"`
	Label string  `json:"-"` // non-empty for enumerated signals
	NA    bool    `json:"-"`
}

// NumberValue builds a numeric Value.
func NumberValue(raw uint64, num float64) Value {
	return Value{Raw: raw, Num: num}
}

// LabelValue builds an enumerated Value.
func LabelValue(raw uint64, label string) Value {
	return Value{Raw: raw, Label: label}
}

// NAValue builds the not-available Value.
func NAValue(raw uint64) Value {
	return Value{Raw: raw, NA: true}
}

// Equal reports whether two values are indistinguishable to a subscriber.
func (v Value) Equal(o Value) bool {
	if v.NA || o.NA {
		return v.NA == o.NA
	}
	if v.Label != "" || o.Label != "" {
		return v.Label == o.Label
	}
	return v.Num == o.Num
}

// MarshalJSON renders the value as a JSON number, a label string, or "n/a".
func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.NA:
		return []byte(`"n/a"`), nil
	case v.Label != "":
		return json.Marshal(v.Label)
	default:
		return json.Marshal(v.Num)
	}
}

// UnmarshalJSON accepts the three wire forms produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "n/a" {
			*v = Value{NA: true}
			return nil
		}
		*v = Value{Label: s}
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = Value{Num: n}
	return nil
}

func (v Value) String() string {
	switch {
	case v.NA:
		return "n/a"
	case v.Label != "":
		return v.Label
	default:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	}
}
