package engine

import (
	"slices"

	"github.com/leapstack-labs/jbuild/internal/modpath"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

// Layout is how a chunk's dependencies are handed to javac.
type Layout struct {
	// Descriptor is the chunk's module-info.java, "" for classpath builds.
	Descriptor string
	ModulePath modpath.ModulePath
	Classpath  []string
	// Platform is the boot classpath, or the upgrade module path when
	// Descriptor is set.
	Platform []string
}

// Layout computes the module path and classpath the chunk would be
// compiled with, without compiling anything.
func (s *Session) Layout(chunk *core.Chunk) (Layout, error) {
	if err := s.validateChunk(chunk); err != nil {
		return Layout{}, err
	}
	ci := s.describeChunk(chunk)
	descriptor, err := s.findModuleInfo(ci)
	if err != nil {
		return Layout{}, err
	}
	pl := s.chunkPaths(ci)
	out := Layout{Descriptor: descriptor, Platform: pl.platform}
	if descriptor == "" {
		out.Classpath = pl.classpath
		return out, nil
	}
	outs := chunk.OutputDirs()
	co := s.commonOptions(chunk)
	out.ModulePath, out.Classpath = s.splitter.Split(descriptor, outs,
		append(slices.Clone(outs), pl.classpath...), collectAdditionalRequires(co.options))
	return out, nil
}
