package modpath

import (
	"fmt"
	"os"
	"regexp"
)

var (
	blockComment     = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComment      = regexp.MustCompile(`//[^\n]*`)
	moduleDecl       = regexp.MustCompile(`\bmodule\s+([\w.]+)\s*\{`)
	requiresDecl     = regexp.MustCompile(`\brequires\s+((?:(?:transitive|static)\s+)*)([\w.]+)\s*;`)
	annotationPrefix = regexp.MustCompile(`@[\w.]+(\s*\([^)]*\))?`)
)

// ParseSourceDescriptor extracts the module name and requires clauses of a
// module-info.java file.
func ParseSourceDescriptor(src []byte) (*Info, error) {
	text := blockComment.ReplaceAll(src, nil)
	text = lineComment.ReplaceAll(text, nil)
	text = annotationPrefix.ReplaceAll(text, nil)

	m := moduleDecl.FindSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("no module declaration found")
	}
	info := &Info{Name: string(m[1])}
	for _, req := range requiresDecl.FindAllSubmatch(text, -1) {
		info.Requires = append(info.Requires, string(req[2]))
	}
	return info, nil
}

// ReadSourceDescriptor reads and parses a module-info.java file.
func ReadSourceDescriptor(path string) (*Info, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module descriptor: %w", err)
	}
	info, err := ParseSourceDescriptor(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return info, nil
}
