package checkpoint

import "encoding/json"

// MarshalJSON renders a Value using the standard encoding/json types,
// so Value trees round-trip through any JSON-based backend (the
// file-tree backend, export documents) without a custom wire format.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

// UnmarshalJSON populates a Value from standard JSON, routing through
// ValueFromAny so the admissible-subset check still applies.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, ok := ValueFromAny(raw)
	if !ok {
		return &SerializationError{Reason: "value outside admissible JSON subset"}
	}
	*v = parsed
	return nil
}
