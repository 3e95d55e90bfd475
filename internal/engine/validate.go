package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

const moduleInfoFile = "module-info.java"

// validateChunk checks what javac cannot do for a module cycle: mixed
// language levels and annotation processing.
func (s *Session) validateChunk(chunk *core.Chunk) error {
	if len(chunk.Modules) < 2 {
		return nil
	}

	levels := make(map[int][]string)
	for _, m := range chunk.Modules {
		lvl := s.languageLevel(m)
		levels[lvl] = append(levels[lvl], m.Name)
	}
	if len(levels) > 1 {
		parts := make([]string, 0, len(levels))
		for lvl, names := range levels {
			parts = append(parts, fmt.Sprintf("%s=%s", strings.Join(names, ","), levelName(lvl)))
		}
		sort.Strings(parts)
		return s.stop(chunk, "modules %s must have the same language level to be compiled together: %s",
			chunk.Name, strings.Join(parts, "; "))
	}

	for _, m := range chunk.Modules {
		if m.ProcessingEnabled() {
			return s.stop(chunk, "annotation processing is not supported for module cycles; disable it for %s (cycle %s)",
				m.Name, chunk.Name)
		}
	}
	return nil
}

func levelName(lvl int) string {
	if lvl == 0 {
		return "unset"
	}
	return fmt.Sprint(lvl)
}

// findModuleInfo returns the chunk's module-info.java when the chunk
// targets Java 9 or later. More than one is a configuration error.
func (s *Session) findModuleInfo(ci chunkInfo) (string, error) {
	if ci.targetLanguageLevel() < 9 {
		return "", nil
	}
	var found []string
	for _, m := range ci.chunk.Modules {
		for _, root := range ci.chunk.SourceRoots(m) {
			p := filepath.Join(root, moduleInfoFile)
			if st, err := os.Stat(p); err == nil && !st.IsDir() {
				found = append(found, p)
				break
			}
		}
	}
	switch len(found) {
	case 0:
		return "", nil
	case 1:
		return found[0], nil
	default:
		return "", s.stop(ci.chunk, "cannot compile a module cycle with multiple module-info.java files: %s", ci.chunk.Name)
	}
}

// stop reports an ERROR and returns the configuration StopBuildError for it.
func (s *Session) stop(chunk *core.Chunk, format string, args ...any) error {
	d := core.NewDiagnostic(core.SeverityError, format, args...)
	s.report(d)
	return &StopBuildError{Kind: StopConfiguration, Chunk: chunk.Name, Message: d.Message}
}
