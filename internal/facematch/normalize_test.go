package facematch

import "testing"

func TestFoldName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Alice Nováková", "alice novakova"},
		{"Žluťoučký  kůň", "zlutoucky kun"},
		{"Jean-Luc", "jean luc"},
		{"  Person #12 ", "person #12"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := FoldName(tt.input); got != tt.want {
				t.Errorf("FoldName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNameMatches(t *testing.T) {
	tests := []struct {
		label, query string
		want         bool
	}{
		{"Alice Nováková", "novakova", true},
		{"Alice Nováková", "ALICE  nov", true},
		{"Jean-Luc Picard", "jean luc", true},
		{"Alice Nováková", "bob", false},
		{"Alice Nováková", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.label+"/"+tt.query, func(t *testing.T) {
			if got := NameMatches(tt.label, tt.query); got != tt.want {
				t.Errorf("NameMatches(%q, %q) = %v, want %v", tt.label, tt.query, got, tt.want)
			}
		})
	}
}
