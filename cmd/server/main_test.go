package main

import (
	"testing"
	"time"
)

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "value", "other"); got != "value" {
		t.Fatalf("expected first non-empty value, got %q", got)
	}
	if got := firstNonEmpty("", "   "); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" https://a.example.com, ,https://b.example.com ")
	if len(got) != 2 || got[0] != "https://a.example.com" || got[1] != "https://b.example.com" {
		t.Fatalf("unexpected list: %#v", got)
	}
	if splitList("  ") != nil {
		t.Fatal("expected nil for blank input")
	}
}

func TestResolveIntPrefersFlag(t *testing.T) {
	t.Setenv("LUMEROO_TEST_INT", "7")
	if got := resolveInt(3, "LUMEROO_TEST_INT", 1); got != 3 {
		t.Fatalf("expected flag to win, got %d", got)
	}
	if got := resolveInt(0, "LUMEROO_TEST_INT", 1); got != 7 {
		t.Fatalf("expected env fallback, got %d", got)
	}
	t.Setenv("LUMEROO_TEST_INT", "not-a-number")
	if got := resolveInt(0, "LUMEROO_TEST_INT", 1); got != 1 {
		t.Fatalf("expected default for invalid env, got %d", got)
	}
}

func TestResolveDuration(t *testing.T) {
	t.Setenv("LUMEROO_TEST_DURATION", "90s")
	if got := resolveDuration(time.Minute, "LUMEROO_TEST_DURATION", time.Second); got != time.Minute {
		t.Fatalf("expected flag to win, got %v", got)
	}
	if got := resolveDuration(0, "LUMEROO_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Fatalf("expected env fallback, got %v", got)
	}
}

func TestResolveBool(t *testing.T) {
	t.Setenv("LUMEROO_TEST_BOOL", "true")
	if !resolveBool(false, "LUMEROO_TEST_BOOL") {
		t.Fatal("expected env to enable flag")
	}
	t.Setenv("LUMEROO_TEST_BOOL", "false")
	if !resolveBool(true, "LUMEROO_TEST_BOOL") {
		t.Fatal("expected flag to win over env")
	}
	if resolveBool(false, "LUMEROO_TEST_BOOL") {
		t.Fatal("expected false")
	}
}

func TestResolveListenAddr(t *testing.T) {
	if got := resolveListenAddr(":9000", "", modeDevelopment); got != ":9000" {
		t.Fatalf("expected flag address, got %q", got)
	}
	if got := resolveListenAddr("", ":7000", modeDevelopment); got != ":7000" {
		t.Fatalf("expected env address, got %q", got)
	}
	if got := resolveListenAddr("", "", modeProduction); got != ":80" {
		t.Fatalf("expected production default, got %q", got)
	}
	if got := resolveListenAddr("", "", modeDevelopment); got != ":8080" {
		t.Fatalf("expected development default, got %q", got)
	}
}

func TestModeValue(t *testing.T) {
	if modeValue(" Production ") != modeProduction {
		t.Fatal("expected production mode")
	}
	if modeValue("") != modeDevelopment {
		t.Fatal("expected development default")
	}
	if modeValue("staging") != modeDevelopment {
		t.Fatal("expected unknown mode to fall back to development")
	}
}

func TestResolveStorageDriver(t *testing.T) {
	for _, tc := range []struct {
		name    string
		flag    string
		env     string
		dsn     string
		want    string
		wantErr bool
	}{
		{name: "explicit json", flag: "json", want: "json"},
		{name: "explicit postgres", env: "postgres", want: "postgres"},
		{name: "dsn implies postgres", dsn: "postgres://localhost/lumeroo", want: "postgres"},
		{name: "default json", want: "json"},
		{name: "unknown driver", flag: "sqlite", wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveStorageDriver(tc.flag, tc.env, tc.dsn)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
