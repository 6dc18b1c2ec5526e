package status

import (
	"math/rand"
	"testing"
)

func TestDecodeEncode_namedBitsRoundTrip(t *testing.T) {
	samples := []Status{0, 1, Active | Wireless, Named, ^Status(0), 0x80000000, 0x01000781}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		samples = append(samples, Status(rng.Uint32()))
	}

	for _, s := range samples {
		got := Encode(Decode(s))
		if got&Reserved != 0 {
			t.Fatalf("status %#x: reserved bits leaked: %#x", uint32(s), uint32(got))
		}
		if got != s&Named {
			t.Fatalf("status %#x: expected named bits %#x, got %#x", uint32(s), uint32(s&Named), uint32(got))
		}
	}
}

func TestEncodeDecode_facetSetRoundTrip(t *testing.T) {
	for mask := 0; mask < 1<<6; mask++ {
		fs := FacetSet{
			Active:   mask&1 != 0,
			Physical: mask&2 != 0,
			Internet: mask&4 != 0,
			Wireless: mask&8 != 0,
			Wired:    mask&16 != 0,
			Pingable: mask&32 != 0,
		}
		if got := Decode(Encode(fs)); got != fs {
			t.Fatalf("expected %+v, got %+v", fs, got)
		}
	}
}

func TestBitPositions(t *testing.T) {
	cases := map[Facet]uint32{
		FacetActive:   1,
		FacetPhysical: 128,
		FacetInternet: 256,
		FacetWireless: 512,
		FacetWired:    1024,
		FacetPingable: 1 << 24,
	}
	for f, want := range cases {
		if got := uint32(f.Bit()); got != want {
			t.Fatalf("%s: expected bit %d, got %d", f, want, got)
		}
	}
	if Facet(99).Bit() != 0 {
		t.Fatalf("expected unknown facet to have no bit")
	}
}

func TestParseFacet(t *testing.T) {
	f, err := ParseFacet(" Wireless ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f != FacetWireless {
		t.Fatalf("expected wireless, got %s", f)
	}
	if _, err := ParseFacet("banana"); err == nil {
		t.Fatalf("expected error for unknown facet")
	}
}

func TestSanitizeAndString(t *testing.T) {
	s := Sanitize(Active | Wired | 1<<3 | 1<<30)
	if s != Active|Wired {
		t.Fatalf("expected active|wired, got %#x", uint32(s))
	}
	if got := s.String(); got != "active|wired" {
		t.Fatalf("unexpected string %q", got)
	}
	if got := Status(0).String(); got != "none" {
		t.Fatalf("unexpected string %q", got)
	}
	if !s.Has(Active) || s.Has(Active|Internet) {
		t.Fatalf("Has mismatch for %s", s)
	}
	if s.With(FacetActive, false) != Wired {
		t.Fatalf("expected With to clear active")
	}
}
