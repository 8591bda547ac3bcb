// Package checkpoint implements a versioned, content-addressed store of
// agent reasoning states organized as a branching DAG, plus the
// safe-execution orchestrator that wraps fallible operations in a
// checkpoint-execute-recover loop.
package checkpoint

import (
	"fmt"
	"sort"
)

// Kind identifies which alternative of Value is populated.
type Kind int

// The admissible JSON-representable value kinds. Serializers reject
// anything that cannot be expressed in this subset.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// Value is a tagged-union value tree standing in for the dynamic
// mapping payloads ("state", "metadata") of the source ecosystem.
// Only this subset is admissible; constructing one outside the
// helpers below and leaving the Kind inconsistent with the populated
// field is a caller bug, not a runtime-checked condition.
type Value struct {
	Kind Kind
	Bool bool
	Num  float64
	Str  string
	List []Value
	Map  map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{Kind: KindNull} }

// BoolValue wraps a boolean as a Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// NumValue wraps a float64 as a Value.
func NumValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// StrValue wraps a string as a Value.
func StrValue(s string) Value { return Value{Kind: KindString, Str: s} }

// ListValue wraps a slice of Values as a Value.
func ListValue(items ...Value) Value { return Value{Kind: KindList, List: items} }

// MapValue wraps a map of Values as a Value.
func MapValue(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{Kind: KindMap, Map: m}
}

// Equal reports whether two Values are semantically equal. Map key
// order never affects equality; list order does.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == other.Bool
	case KindNumber:
		return v.Num == other.Num
	case KindString:
		return v.Str == other.Str
	case KindList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(other.Map) {
			return false
		}
		for k, a := range v.Map {
			b, ok := other.Map[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// canonical renders v as a stable textual form: map keys sorted,
// no incidental whitespace beyond single separators. Used for
// fingerprinting; the text serializer encodes through encoding/json.
func (v Value) canonical() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindNumber:
		return fmt.Sprintf("%g", v.Num)
	case KindString:
		return fmt.Sprintf("%q", v.Str)
	case KindList:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = item.canonical()
		}
		return "[" + joinComma(parts) + "]"
	case KindMap:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%q:%s", k, v.Map[k].canonical()))
		}
		return "{" + joinComma(parts) + "}"
	default:
		return "null"
	}
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

// ValueFromAny converts a plain Go value (as produced by
// encoding/json.Unmarshal into interface{}, or hand-built map/slice
// literals) into a Value tree. Returns an error via the ok return if
// v contains a type outside the admissible subset.
func ValueFromAny(v any) (Value, bool) {
	switch t := v.(type) {
	case nil:
		return Null(), true
	case bool:
		return BoolValue(t), true
	case float64:
		return NumValue(t), true
	case int:
		return NumValue(float64(t)), true
	case int64:
		return NumValue(float64(t)), true
	case string:
		return StrValue(t), true
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			item, ok := ValueFromAny(e)
			if !ok {
				return Value{}, false
			}
			items[i] = item
		}
		return ListValue(items...), true
	case []Value:
		return ListValue(t...), true
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			item, ok := ValueFromAny(e)
			if !ok {
				return Value{}, false
			}
			m[k] = item
		}
		return MapValue(m), true
	case map[string]Value:
		return MapValue(t), true
	case Value:
		return t, true
	default:
		return Value{}, false
	}
}

// ToAny converts a Value back into a plain Go value tree suitable for
// encoding/json.Marshal or general inspection.
func (v Value) ToAny() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	case KindList:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			out[i] = item.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.Map))
		for k, item := range v.Map {
			out[k] = item.ToAny()
		}
		return out
	default:
		return nil
	}
}

// MapView is a convenience alias for the common case of a top-level
// state/metadata payload, always a Map kind.
type MapView = map[string]Value
