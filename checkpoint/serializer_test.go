package checkpoint

import "testing"

func TestSerializerEncodeDecodeRoundTrip(t *testing.T) {
	for _, flavor := range []Flavor{FlavorText, FlavorBinary, FlavorCompressed} {
		s := NewSerializer(flavor)
		state := MapValue(map[string]Value{"step": StrValue("gather"), "count": NumValue(3)})
		meta := MapValue(map[string]Value{"confidence": NumValue(0.8)})

		data, err := s.Encode(state, meta, "gather_requirements")
		if err != nil {
			t.Fatalf("flavor %d: Encode() error = %v", flavor, err)
		}
		gotState, gotMeta, gotStep, err := s.Decode(data)
		if err != nil {
			t.Fatalf("flavor %d: Decode() error = %v", flavor, err)
		}
		if !gotState.Equal(state) {
			t.Fatalf("flavor %d: state round trip mismatch: got %#v, want %#v", flavor, gotState, state)
		}
		if !gotMeta.Equal(meta) {
			t.Fatalf("flavor %d: metadata round trip mismatch: got %#v, want %#v", flavor, gotMeta, meta)
		}
		if gotStep != "gather_requirements" {
			t.Fatalf("flavor %d: logic_step round trip mismatch: got %q", flavor, gotStep)
		}
	}
}

func TestFingerprintStableAcrossFlavorsAndKeyOrder(t *testing.T) {
	a := MapValue(map[string]Value{"x": NumValue(1), "y": StrValue("hi")})
	b := MapValue(map[string]Value{"y": StrValue("hi"), "x": NumValue(1)})
	meta := Null()

	text := NewSerializer(FlavorText)
	binary := NewSerializer(FlavorBinary)

	fpA := text.Fingerprint(a, meta, "step")
	fpB := text.Fingerprint(b, meta, "step")
	if fpA != fpB {
		t.Fatalf("fingerprint changed with map key insertion order: %q vs %q", fpA, fpB)
	}
	if fpA != binary.Fingerprint(a, meta, "step") {
		t.Fatalf("fingerprint differs between text and binary flavors for the same payload")
	}
}

func TestFingerprintDiffersOnContentChange(t *testing.T) {
	s := NewSerializer(FlavorText)
	a := StrValue("alpha")
	b := StrValue("beta")
	if s.Fingerprint(a, Null(), "step") == s.Fingerprint(b, Null(), "step") {
		t.Fatalf("expected different states to produce different fingerprints")
	}
}
