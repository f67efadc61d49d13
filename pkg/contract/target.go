package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type TargetKind int

const (
	TargetUnset TargetKind = iota
	TargetFloat
	TargetInt
	TargetString
)

func (k TargetKind) String() string {
	switch k {
	case TargetFloat:
		return "float"
	case TargetInt:
		return "int"
	case TargetString:
		return "string"
	default:
		return "unset"
	}
}

var ErrInvalidTarget = errors.New("target must be a number or a string")

// Target is the comparison value of a criterion: a float, an integer or a
// string. JSON integers decode as TargetInt so thresholds keep their kind.
type Target struct {
	kind TargetKind
	f    float64
	i    int64
	s    string
}

func FloatTarget(v float64) Target { return Target{kind: TargetFloat, f: v} }
func IntTarget(v int64) Target     { return Target{kind: TargetInt, i: v} }
func StringTarget(v string) Target { return Target{kind: TargetString, s: v} }

func (t Target) Kind() TargetKind { return t.kind }

// Number returns the numeric value of a float or integer target.
func (t Target) Number() (float64, bool) {
	switch t.kind {
	case TargetFloat:
		return t.f, true
	case TargetInt:
		return float64(t.i), true
	default:
		return 0, false
	}
}

func (t Target) Int() (int64, bool) {
	return t.i, t.kind == TargetInt
}

func (t Target) Text() (string, bool) {
	return t.s, t.kind == TargetString
}

func (t Target) String() string {
	switch t.kind {
	case TargetFloat:
		return strconv.FormatFloat(t.f, 'g', -1, 64)
	case TargetInt:
		return strconv.FormatInt(t.i, 10)
	case TargetString:
		return t.s
	default:
		return ""
	}
}

func (t Target) MarshalJSON() ([]byte, error) {
	switch t.kind {
	case TargetFloat:
		if math.IsNaN(t.f) || math.IsInf(t.f, 0) {
			return nil, fmt.Errorf("target: unsupported float value %v", t.f)
		}
		out := strconv.FormatFloat(t.f, 'g', -1, 64)
		if !strings.ContainsAny(out, ".eE") {
			out += ".0"
		}
		return []byte(out), nil
	case TargetInt:
		return []byte(strconv.FormatInt(t.i, 10)), nil
	case TargetString:
		return json.Marshal(t.s)
	default:
		return []byte("null"), nil
	}
}

func (t *Target) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ErrInvalidTarget
	}
	switch c := data[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = StringTarget(s)
		return nil
	case c == '-' || (c >= '0' && c <= '9'):
		raw := string(data)
		if !strings.ContainsAny(raw, ".eE") {
			if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
				*t = IntTarget(i)
				return nil
			}
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
		}
		*t = FloatTarget(f)
		return nil
	default:
		return ErrInvalidTarget
	}
}
