package applicator

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/contract"
)

// Transform names accepted on a mapping entry.
const (
	TransformNone      = ""
	TransformNumber    = "number"
	TransformInteger   = "integer"
	TransformTimestamp = "timestamp"
	TransformString    = "string"
	TransformBoolean   = "boolean"
	TransformLower     = "lower"
	TransformUpper     = "upper"
	TransformTrim      = "trim"
)

// KnownTransform reports whether name is a transform the applicator implements.
func KnownTransform(name string) bool {
	switch name {
	case TransformNone, TransformNumber, TransformInteger, TransformTimestamp,
		TransformString, TransformBoolean, TransformLower, TransformUpper, TransformTrim:
		return true
	}
	return false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
}

// Coerce runs transform over v and clamps numeric results to spec's bounds
// when the field is clampable. A nil v stays nil.
func Coerce(transform string, v any, spec *contract.FieldSpec) (any, error) {
	if v == nil {
		return nil, nil
	}
	if transform == TransformNone && spec != nil {
		transform = implied(spec.Type, v)
	}
	out, err := apply(transform, v)
	if err != nil {
		return nil, err
	}
	return clamp(out, spec), nil
}

// implied picks a coercion when a value's JSON kind does not match the
// field's canonical type.
func implied(t contract.FieldType, v any) string {
	if t == contract.TypeString {
		if _, ok := v.(string); !ok {
			return TransformString
		}
		return TransformNone
	}
	switch v.(type) {
	case string, json.Number:
	default:
		return TransformNone
	}
	switch t {
	case contract.TypeNumber:
		return TransformNumber
	case contract.TypeInteger:
		return TransformInteger
	case contract.TypeTimestamp:
		return TransformTimestamp
	case contract.TypeBoolean:
		return TransformBoolean
	}
	return TransformNone
}

func apply(transform string, v any) (any, error) {
	switch transform {
	case TransformNone:
		if n, ok := v.(json.Number); ok {
			return toFloat(n)
		}
		return v, nil
	case TransformNumber:
		return toFloat(v)
	case TransformInteger:
		return toInt(v)
	case TransformTimestamp:
		return toTime(v)
	case TransformBoolean:
		return toBool(v)
	case TransformString:
		return toString(v), nil
	case TransformLower:
		return strings.ToLower(toString(v)), nil
	case TransformUpper:
		return strings.ToUpper(toString(v)), nil
	case TransformTrim:
		return strings.TrimSpace(toString(v)), nil
	}
	return nil, fmt.Errorf("unknown transform %q", transform)
}

func clamp(v any, spec *contract.FieldSpec) any {
	if spec == nil || !spec.Clamp {
		return v
	}
	switch n := v.(type) {
	case float64:
		return spec.ClampValue(n)
	case int64:
		return int64(spec.ClampValue(float64(n)))
	}
	return v
}

func cleanNumeric(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSuffix(s, "%")
	return strings.ReplaceAll(s, ",", "")
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(cleanNumeric(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("not a finite number: %q", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot convert %T to number", v)
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		if i, err := strconv.ParseInt(cleanNumeric(n), 10, 64); err == nil {
			return i, nil
		}
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %v", v)
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("integer out of range: %v", v)
	}
	return int64(f), nil
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f), nil
		}
		return time.Time{}, fmt.Errorf("not a timestamp: %q", t)
	}
	f, err := toFloat(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot convert %T to timestamp", v)
	}
	return fromEpoch(f), nil
}

// fromEpoch reads values above 1e12 as milliseconds.
func fromEpoch(f float64) time.Time {
	if math.Abs(f) > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", b)
	}
	f, err := toFloat(v)
	if err != nil {
		return false, fmt.Errorf("cannot convert %T to boolean", v)
	}
	switch f {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("not a boolean: %v", v)
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case time.Time:
		return s.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return s.String()
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}
