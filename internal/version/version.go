// Package version holds build-time metadata injected via ldflags.
package version

import (
	"strings"

	"golang.org/x/mod/semver"
)

// These variables are set at build time using -ldflags:
//
//	-X 'github.com/janekbaraniewski/geminiusage/internal/version.Version=...'
//	-X 'github.com/janekbaraniewski/geminiusage/internal/version.CommitHash=...'
//	-X 'github.com/janekbaraniewski/geminiusage/internal/version.BuildDate=...'
var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

// String returns a formatted version string.
func String() string {
	return Version + " (" + CommitHash + ") built " + BuildDate
}

// IsReleaseSemver reports whether value is a canonical vMAJOR.MINOR.PATCH
// with no prerelease or build suffix.
func IsReleaseSemver(value string) bool {
	v := strings.TrimSpace(value)
	if !semver.IsValid(v) {
		return false
	}
	if semver.Prerelease(v) != "" || semver.Build(v) != "" {
		return false
	}
	return v == semver.Canonical(v)
}

// SameRelease reports whether two release versions are equal, ignoring
// surrounding whitespace and a missing "v" prefix.
func SameRelease(a, b string) bool {
	a, b = normalize(a), normalize(b)
	if !semver.IsValid(a) || !semver.IsValid(b) {
		return false
	}
	return semver.Compare(a, b) == 0
}

func normalize(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
