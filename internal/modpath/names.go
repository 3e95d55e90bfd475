package modpath

import (
	"bufio"
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	versionSuffix  = regexp.MustCompile(`-(\d+(\.|$))`)
	nonAlphaNum    = regexp.MustCompile(`[^A-Za-z0-9]`)
	repeatingDots  = regexp.MustCompile(`\.{2,}`)
	manifestKey    = "Automatic-Module-Name"
	manifestPath   = "META-INF/MANIFEST.MF"
	descriptorName = "module-info.class"
)

// NameFunc derives an automatic module name from a classpath entry path.
type NameFunc func(path string) string

// DefaultName derives a module name from an archive file name: the .jar
// extension and any version suffix are dropped, then the rest is normalized.
func DefaultName(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), ".jar")
	if loc := versionSuffix.FindStringIndex(name); loc != nil {
		name = name[:loc[0]]
	}
	return NormalizeName(name)
}

// NormalizeName replaces every non-alphanumeric character with a dot,
// collapses repeated dots and trims dots at both ends.
func NormalizeName(name string) string {
	name = nonAlphaNum.ReplaceAllString(name, ".")
	name = repeatingDots.ReplaceAllString(name, ".")
	return strings.Trim(name, ".")
}

// manifestAttribute returns a main-section attribute of a JAR manifest.
func manifestAttribute(manifest []byte, key string) string {
	scanner := bufio.NewScanner(bytes.NewReader(manifest))
	var current strings.Builder
	var currentKey string
	flush := func() string {
		if strings.EqualFold(currentKey, key) {
			return strings.TrimSpace(current.String())
		}
		return ""
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, " ") {
			current.WriteString(line[1:])
			continue
		}
		if v := flush(); v != "" {
			return v
		}
		current.Reset()
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			currentKey = ""
			continue
		}
		currentKey = strings.TrimSpace(k)
		current.WriteString(strings.TrimPrefix(v, " "))
	}
	return flush()
}
