package storage

import (
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		name  string
		title string
		want  string
	}{
		{"simple", "My Video", "my-video"},
		{"punctuation collapsed", "Hello, World!!!", "hello-world"},
		{"accents stripped", "Café Crème", "cafe-creme"},
		{"leading trailing trimmed", "  --Trim Me--  ", "trim-me"},
		{"digits kept", "Top 10 Clips", "top-10-clips"},
		{"empty falls back", "", "video"},
		{"symbols only falls back", "!!!", "video"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Slugify(tc.title); got != tc.want {
				t.Fatalf("Slugify(%q) = %q, want %q", tc.title, got, tc.want)
			}
		})
	}
}

func TestRandomSlugSuffix(t *testing.T) {
	suffix := RandomSlugSuffix(6)
	if len(suffix) != 6 {
		t.Fatalf("expected 6 characters, got %d", len(suffix))
	}
	for _, r := range suffix {
		if !strings.ContainsRune(slugSuffixAlphabet, r) {
			t.Fatalf("suffix contains %q outside alphabet", r)
		}
	}

	if len(RandomSlugSuffix(0)) != 6 {
		t.Fatal("expected non-positive length to default to 6")
	}

	a, b := RandomSlugSuffix(12), RandomSlugSuffix(12)
	if a == b {
		t.Fatalf("two 12-character suffixes collided: %q", a)
	}
}
