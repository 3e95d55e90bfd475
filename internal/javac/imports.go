package javac

import (
	"regexp"
	"slices"
)

var (
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineCommentRe  = regexp.MustCompile(`//[^\n]*`)
	importRe       = regexp.MustCompile(`(?m)^\s*import\s+(static\s+)?([\w.]+(?:\.\*)?)\s*;`)
)

// ScanImports returns the regular and static imports of a Java source.
func ScanImports(src []byte) (imports, static []string) {
	src = blockCommentRe.ReplaceAll(src, nil)
	src = lineCommentRe.ReplaceAll(src, nil)
	for _, m := range importRe.FindAllSubmatch(src, -1) {
		name := string(m[2])
		if len(m[1]) > 0 {
			static = append(static, name)
		} else {
			imports = append(imports, name)
		}
	}
	slices.Sort(imports)
	slices.Sort(static)
	return slices.Compact(imports), slices.Compact(static)
}
