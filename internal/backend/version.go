package backend

import (
	"regexp"
	"strconv"
	"strings"
)

// MinimumForkVersion is the oldest JDK able to host an external compilation.
const MinimumForkVersion = 8

var versionDigitsRe = regexp.MustCompile(`\d+(?:\.\d+)*`)

// ParseVersion extracts the feature release from a JDK version string.
// "1.8.0_292" is 8, "\"17.0.2\"" is 17, `java version "11.0.1"` is 11.
// Unparseable input yields 0.
func ParseVersion(s string) int {
	m := versionDigitsRe.FindString(s)
	if m == "" {
		return 0
	}
	parts := strings.Split(m, ".")
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	if major == 1 && len(parts) > 1 {
		if minor, err := strconv.Atoi(parts[1]); err == nil {
			return minor
		}
	}
	return major
}

// IsTargetReleaseSupported reports whether a compiler of the given feature
// release can produce classes for target.
func IsTargetReleaseSupported(compiler, target int) bool {
	switch {
	case target > compiler:
		return false
	case compiler < 9:
		return true
	case compiler <= 11:
		return target >= 6
	case compiler <= 19:
		return target >= 7
	default:
		return target >= 8
	}
}
