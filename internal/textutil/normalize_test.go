package textutil

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "Leviathan Wakes", "leviathan wakes"},
		{"strips punctuation", "Do Androids Dream of Electric Sheep?", "do androids dream of electric sheep"},
		{"strips diacritics", "José Saramago", "jose saramago"},
		{"drops leading article", "The Left Hand of Darkness", "left hand of darkness"},
		{"collapses whitespace", "  A   Memory  Called  Empire ", "memory called empire"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.input); got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestDedupKeyStableAcrossRenderings(t *testing.T) {
	a := DedupKey("The Fifth Season", "N. K. Jemisin")
	b := DedupKey("Fifth Season", "N.K. Jemisin")
	if a != b {
		t.Fatalf("expected identical keys, got %q and %q", a, b)
	}
	if a != "fifth-season::n-k-jemisin" {
		t.Fatalf("unexpected key %q", a)
	}
}

func TestDedupKeyWithoutAuthor(t *testing.T) {
	if got := DedupKey("Hyperion", ""); got != "hyperion" {
		t.Fatalf("unexpected key %q", got)
	}
}
