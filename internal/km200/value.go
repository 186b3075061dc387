package km200

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Device type discriminators.
const (
	TypeFloat  = "floatValue"
	TypeString = "stringValue"
)

// flameCurrentSuffix marks burner flame-current sensors, reported in microamperes.
const flameCurrentSuffix = "flameCurrent"

// ValueType is the closed set of value shapes the bridge understands.
type ValueType int

const (
	// FreeString is any string value without a fixed set of allowed values.
	// Unrecognised device types also classify as FreeString.
	FreeString ValueType = iota

	// Numeric is a floatValue.
	Numeric

	// EnumeratedString is a stringValue with allowedValues.
	EnumeratedString
)

// String returns the lower-case name used in logs and API output.
func (t ValueType) String() string {
	switch t {
	case Numeric:
		return "numeric"
	case EnumeratedString:
		return "enumerated"
	default:
		return "string"
	}
}

// MarshalText lets ValueType render as its name in JSON.
func (t ValueType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Constraints are the admissible values of a writable point.
// Min and Max are set for Numeric, Allowed for EnumeratedString.
type Constraints struct {
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
}

// DecodedValue is one classified device reading.
type DecodedValue struct {
	// ID is the device path the record reports, which may differ from the
	// queried path when the gateway redirects.
	ID string

	// Type is the raw discriminator, e.g. "floatValue".
	Type      string
	ValueType ValueType

	// Number holds the value for Numeric.
	Number float64

	// Text holds the value for string types. For unrecognised types holding
	// non-string JSON it is the raw JSON text.
	Text string

	// Raw is the value exactly as decoded.
	Raw any

	Unit        string
	Writable    bool
	Constraints *Constraints

	// Native is the full record. Do not mutate.
	Native Record
}

// Classify turns a decoded record into a DecodedValue.
//
// Only a floatValue whose value is not a number is an error. Unknown
// discriminators degrade to FreeString.
func Classify(rec Record) (DecodedValue, error) {
	v := DecodedValue{
		ID:     rec.ID(),
		Raw:    rec["value"],
		Unit:   normaliseUnit(rec.ID(), rec["unitOfMeasure"]),
		Native: rec,
	}
	v.Type, _ = rec["type"].(string)
	v.Writable = truthy(rec["writeable"])

	switch v.Type {
	case TypeFloat:
		n, ok := toFloat(v.Raw)
		if !ok {
			return DecodedValue{}, fmt.Errorf("%w: %s: floatValue with value %v", ErrParse, v.ID, v.Raw)
		}
		v.ValueType = Numeric
		v.Number = n
	case TypeString:
		v.Text = textOf(v.Raw)
		if allowed, ok := stringList(rec["allowedValues"]); ok {
			v.ValueType = EnumeratedString
			if v.Writable {
				v.Constraints = &Constraints{Allowed: allowed}
			}
		} else {
			v.ValueType = FreeString
		}
	default:
		v.ValueType = FreeString
		v.Text = textOf(v.Raw)
	}

	if v.Writable && v.ValueType == Numeric {
		minV, okMin := toFloat(rec["minValue"])
		maxV, okMax := toFloat(rec["maxValue"])
		if okMin && okMax {
			v.Constraints = &Constraints{Min: &minV, Max: &maxV}
		}
	}

	return v, nil
}

// GaugeValue returns the metric value: numbers pass through, strings are
// 1 when equal to onValue and 0 otherwise.
func (v DecodedValue) GaugeValue(onValue string) float64 {
	if v.ValueType == Numeric {
		return v.Number
	}
	if v.Text == onValue {
		return 1
	}
	return 0
}

// Meta returns the descriptor published once per id: the native record
// without value and id, with the normalised unit.
func (v DecodedValue) Meta() map[string]any {
	meta := make(map[string]any, len(v.Native))
	for k, val := range v.Native {
		if k == "value" || k == "id" {
			continue
		}
		meta[k] = val
	}
	if v.Unit != "" {
		meta["unitOfMeasure"] = v.Unit
	}
	return meta
}

func normaliseUnit(id string, raw any) string {
	if strings.HasSuffix(id, flameCurrentSuffix) {
		return "µA"
	}
	unit, _ := raw.(string)
	return unit
}

// truthy follows the device's loose encoding of the writeable flag.
func truthy(raw any) bool {
	switch x := raw.(type) {
	case bool:
		return x
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0
	case float64:
		return x != 0
	case int:
		return x != 0
	case string:
		return x == "1" || strings.EqualFold(x, "true")
	default:
		return false
	}
}

func toFloat(raw any) (float64, bool) {
	switch x := raw.(type) {
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func textOf(raw any) string {
	switch x := raw.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

func stringList(raw any) ([]string, bool) {
	switch x := raw.(type) {
	case []string:
		return append([]string(nil), x...), true
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
