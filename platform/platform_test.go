package platform

import (
	"errors"
	"runtime"
	"testing"
)

func TestTriple(t *testing.T) {
	cases := []struct {
		goos, goarch, want string
	}{
		{"windows", "amd64", "x86_64-pc-windows-msvc"},
		{"darwin", "arm64", "aarch64-apple-darwin"},
		{"linux", "amd64", "x86_64-unknown-linux-gnu"},
	}
	for _, tc := range cases {
		got, err := Triple(tc.goos, tc.goarch)
		if err != nil {
			t.Fatalf("Triple(%s,%s): %v", tc.goos, tc.goarch, err)
		}
		if got != tc.want {
			t.Fatalf("Triple(%s,%s)=%q want %q", tc.goos, tc.goarch, got, tc.want)
		}
	}

	if _, err := Triple("plan9", "386"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestCurrentMatchesRuntime(t *testing.T) {
	got, err := Current()
	want, wantErr := Triple(runtime.GOOS, runtime.GOARCH)
	if got != want || (err == nil) != (wantErr == nil) {
		t.Fatalf("Current()=%q,%v want %q,%v", got, err, want, wantErr)
	}
}

func TestSupportedSorted(t *testing.T) {
	s := Supported()
	if len(s) != len(triples) {
		t.Fatalf("len=%d", len(s))
	}
	for i := 1; i < len(s); i++ {
		if s[i-1] > s[i] {
			t.Fatalf("not sorted: %v", s)
		}
	}
}

func TestExecutableName(t *testing.T) {
	got, err := ExecutableName("space-miner", "x86_64-pc-windows-msvc")
	if err != nil || got != "space-miner-x86_64.exe" {
		t.Fatalf("got %q, %v", got, err)
	}
	got, err = ExecutableName("space-miner", "aarch64-apple-darwin")
	if err != nil || got != "space-miner-aarch64" {
		t.Fatalf("got %q, %v", got, err)
	}

	for _, bad := range []string{"", "..", "a/b", `a\b`} {
		if _, err := ExecutableName(bad, "x86_64-unknown-linux-gnu"); err == nil {
			t.Fatalf("expected error for bundle %q", bad)
		}
	}
	if _, err := ExecutableName("game", "garbage"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
