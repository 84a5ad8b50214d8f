// Package platform maps Go's GOOS/GOARCH pairs to the target triples
// bundles are published under, and names executables for each.
package platform

import (
	"errors"
	"fmt"
	"path"
	"runtime"
	"sort"
	"strings"
)

var ErrUnsupported = errors.New("platform: unsupported platform")

type key struct{ goos, goarch string }

var triples = map[key]string{
	{"windows", "amd64"}: "x86_64-pc-windows-msvc",
	{"windows", "arm64"}: "aarch64-pc-windows-msvc",
	{"darwin", "amd64"}:  "x86_64-apple-darwin",
	{"darwin", "arm64"}:  "aarch64-apple-darwin",
	{"linux", "amd64"}:   "x86_64-unknown-linux-gnu",
	{"linux", "arm64"}:   "aarch64-unknown-linux-gnu",
}

// Triple returns the target triple for goos/goarch.
func Triple(goos, goarch string) (string, error) {
	t, ok := triples[key{goos, goarch}]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupported, goos, goarch)
	}
	return t, nil
}

// Current returns the target triple of the running binary.
func Current() (string, error) {
	return Triple(runtime.GOOS, runtime.GOARCH)
}

// Supported lists all known triples, sorted.
func Supported() []string {
	out := make([]string, 0, len(triples))
	for _, t := range triples {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// IsWindows reports whether triple targets Windows.
func IsWindows(triple string) bool {
	return strings.Contains(triple, "-windows")
}

// ExecutableName returns the on-disk file name for a bundle's executable on
// triple: "<bundle>-<arch>" plus ".exe" on Windows. Path separators in bundle
// are not allowed.
func ExecutableName(bundle, triple string) (string, error) {
	bundle = strings.TrimSpace(bundle)
	if bundle == "" || bundle == "." || bundle == ".." || strings.ContainsAny(bundle, `/\`) {
		return "", fmt.Errorf("platform: invalid bundle name %q", bundle)
	}
	arch, _, ok := strings.Cut(triple, "-")
	if !ok || arch == "" {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, triple)
	}
	name := bundle + "-" + arch
	if IsWindows(triple) {
		name += ".exe"
	}
	return path.Clean(name), nil
}
