package checkpoint

import (
	"encoding/json"
	"testing"
)

func TestValueJSONRoundTrip(t *testing.T) {
	v := MapValue(map[string]Value{
		"name":  StrValue("agent"),
		"count": NumValue(3),
		"tags":  ListValue(StrValue("a"), StrValue("b")),
		"ok":    BoolValue(true),
		"empty": Null(),
	})

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got Value
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !got.Equal(v) {
		t.Fatalf("round trip mismatch: got %#v, want %#v", got, v)
	}
}
