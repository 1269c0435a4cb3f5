package memsize

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Size
		wantErr bool
	}{
		{"bare bytes", "1024", 1024, false},
		{"kib suffix", "1KiB", KiB, false},
		{"mib suffix", "512MiB", 512 * MiB, false},
		{"gib suffix", "1GiB", GiB, false},
		{"short gig", "5G", 5 * GiB, false},
		{"fractional gig", "1.5G", Size(1.5 * float64(GiB)), false},
		{"empty", "", 0, true},
		{"negative", "-1G", 0, true},
		{"garbage", "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Fatalf("Parse(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	sizes := []Size{GiB, 5 * GiB, 512 * MiB, 2048, 0}
	for _, s := range sizes {
		str := s.String()
		parsed, err := Parse(str)
		if err != nil {
			t.Fatalf("Parse(%q) unexpected error: %v", str, err)
		}
		if parsed != s {
			t.Fatalf("round trip mismatch: %v -> %q -> %v", s, str, parsed)
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	s := 5 * GiB
	data, err := s.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var out Size
	if err := out.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if out != s {
		t.Fatalf("got %v, want %v", out, s)
	}
}

func TestAtLeast(t *testing.T) {
	if !(GiB).AtLeast(MiB) {
		t.Fatal("expected 1GiB >= 1MiB")
	}
	if (MiB).AtLeast(GiB) {
		t.Fatal("expected 1MiB < 1GiB")
	}
}
