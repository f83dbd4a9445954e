// Package resolver fills in digests and content hashes for Source and
// Base graph nodes: registry interaction, platform normalization, the
// cached-digest store, and the dereference/rebuild decision for base
// images.
package resolver

import (
	"strings"

	"github.com/msg555/tplbuild/internal/tplerr"
)

// Platform is a normalized os/arch[/variant] triple.
type Platform struct {
	OS      string
	Arch    string
	Variant string
}

func (p Platform) String() string {
	if p.Variant == "" {
		return p.OS + "/" + p.Arch
	}
	return p.OS + "/" + p.Arch + "/" + p.Variant
}

// SplitPlatform parses "os/arch[/variant]" into its components.
func SplitPlatform(s string) (os, arch, variant string, err error) {
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 2:
		return parts[0], parts[1], "", nil
	case 3:
		return parts[0], parts[1], parts[2], nil
	default:
		return "", "", "", tplerr.New(tplerr.KindConfiguration, "malformed platform string "+s)
	}
}

// NormalizeArchitecture folds architecture aliases and normalizes the
// variant per §4.5:
//
//	i386 → 386
//	x86_64, x86-64 → amd64
//	aarch64, arm64 → arm64 (dropping variant 8/v8)
//	armhf → arm/v7
//	armel → arm/v6
//	bare arm with variant "" or "7" → arm/v7
//	numeric variants 5/6/8 → v5/v6/v8
func NormalizeArchitecture(arch, variant string) (string, string) {
	switch arch {
	case "i386":
		arch = "386"
	case "x86_64", "x86-64":
		arch = "amd64"
	case "aarch64":
		arch = "arm64"
	case "armhf":
		arch = "arm"
		variant = "v7"
	case "armel":
		arch = "arm"
		variant = "v6"
	}

	if arch == "arm64" && (variant == "8" || variant == "v8") {
		variant = ""
	}

	if arch == "arm" {
		switch variant {
		case "", "7":
			variant = "v7"
		case "5", "6", "8":
			variant = "v" + variant
		}
	}

	return arch, variant
}

// NormalizePlatform parses and normalizes a full "os/arch[/variant]"
// platform string.
func NormalizePlatform(s string) (Platform, error) {
	os, arch, variant, err := SplitPlatform(s)
	if err != nil {
		return Platform{}, err
	}
	arch, variant = NormalizeArchitecture(arch, variant)
	return Platform{OS: os, Arch: arch, Variant: variant}, nil
}
