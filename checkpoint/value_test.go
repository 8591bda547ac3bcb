package checkpoint

import "testing"

func TestValueEqualIgnoresMapKeyOrder(t *testing.T) {
	a := MapValue(map[string]Value{"x": NumValue(1), "y": StrValue("hi")})
	b := MapValue(map[string]Value{"y": StrValue("hi"), "x": NumValue(1)})
	if !a.Equal(b) {
		t.Fatalf("expected maps built in different key order to be equal")
	}
}

func TestValueEqualRespectsListOrder(t *testing.T) {
	a := ListValue(NumValue(1), NumValue(2))
	b := ListValue(NumValue(2), NumValue(1))
	if a.Equal(b) {
		t.Fatalf("expected lists with swapped order to be unequal")
	}
}

func TestValueEqualDifferentKinds(t *testing.T) {
	if NumValue(0).Equal(BoolValue(false)) {
		t.Fatalf("expected a number and a bool to never be equal, even both zero-ish")
	}
}

func TestCanonicalSortsMapKeys(t *testing.T) {
	v := MapValue(map[string]Value{"b": NumValue(2), "a": NumValue(1)})
	got := v.canonical()
	want := `{"a":1,"b":2}`
	if got != want {
		t.Fatalf("canonical() = %q, want %q", got, want)
	}
}

func TestValueFromAnyRoundTrip(t *testing.T) {
	in := map[string]any{
		"name":  "agent",
		"count": float64(3),
		"tags":  []any{"x", "y"},
		"meta":  map[string]any{"ok": true},
	}
	v, ok := ValueFromAny(in)
	if !ok {
		t.Fatalf("ValueFromAny rejected a well-formed value")
	}
	out := v.ToAny().(map[string]any)
	if out["name"] != "agent" || out["count"] != float64(3) {
		t.Fatalf("round trip mismatch: %#v", out)
	}
}

func TestValueFromAnyRejectsUnsupportedType(t *testing.T) {
	_, ok := ValueFromAny(make(chan int))
	if ok {
		t.Fatalf("expected ValueFromAny to reject a channel value")
	}
}
