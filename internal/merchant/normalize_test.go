package merchant

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "branch number and city stripped",
			raw:  "MCDONALD'S #41147 OSHAWA",
			want: "MCDONALDS",
		},
		{
			name: "processor reference stripped",
			raw:  "PRESTO APPL/Q8BPBPZ5Z2 TORONTO",
			want: "PRESTOAPPL",
		},
		{
			name: "mixed case with hyphen",
			raw:  "TST-Nest Uxbridge",
			want: "TSTNEST",
		},
		{
			name: "single word",
			raw:  "NETFLIX.COM",
			want: "NETFLIXCOM",
		},
		{
			name: "empty input",
			raw:  "",
			want: "UNKNOWN",
		},
		{
			name: "digits only",
			raw:  "12345 6789",
			want: "UNKNOWN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.raw); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	raw := "SPOTIFY P2E4A8B1C0 STOCKHOLM"
	first := Normalize(raw)
	for i := 0; i < 10; i++ {
		if got := Normalize(raw); got != first {
			t.Fatalf("Normalize not stable: got %q then %q", first, got)
		}
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{name: "identical", a: "NETFLIX.COM", b: "NETFLIX.COM", min: 1, max: 1},
		{name: "case-insensitive identical", a: "Netflix.com", b: "NETFLIX.COM", min: 1, max: 1},
		{name: "close variants", a: "NETFLIX.COM AMSTERDAM", b: "NETFLIX.COM AMSTERDM", min: 0.85, max: 1},
		{name: "unrelated", a: "NETFLIX.COM", b: "SHELL PETROL STATION 44", min: 0, max: 0.4},
		{name: "both empty", a: "", b: "", min: 1, max: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if got < tt.min || got > tt.max {
				t.Errorf("Similarity(%q, %q) = %v, want in [%v, %v]", tt.a, tt.b, got, tt.min, tt.max)
			}
		})
	}
}
