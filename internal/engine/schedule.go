package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

// MaxPasses bounds how often one chunk is rebuilt when the dependency
// graph keeps asking for another pass.
const MaxPasses = 5

// DirtyFunc returns the files to compile for a chunk. pass counts from 1.
type DirtyFunc func(ctx context.Context, chunk *core.Chunk, pass int) (core.DirtyFiles, error)

// ChunkReport is the outcome of building one chunk.
type ChunkReport struct {
	Chunk  *core.Chunk
	Exit   core.ExitCode
	Passes int
	Err    error
}

// BuildAll builds chunk levels in order. Chunks of one level run
// concurrently, at most parallel at a time. The first failure cancels the
// rest of its level and stops the build.
func (s *Session) BuildAll(ctx context.Context, levels [][]*core.Chunk, dirty DirtyFunc, consumer core.OutputConsumer, parallel int) ([]ChunkReport, error) {
	if parallel <= 0 {
		parallel = 1
	}
	var reports []ChunkReport

	for i, level := range levels {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallel)
		levelReports := make([]ChunkReport, len(level))

		for j, chunk := range level {
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				rep := s.buildChunk(gctx, chunk, dirty, consumer)
				levelReports[j] = rep
				return rep.Err
			})
		}
		err := g.Wait()

		for _, rep := range levelReports {
			if rep.Chunk != nil {
				reports = append(reports, rep)
			}
		}

		if err != nil {
			s.logger.Info("build stopped", "level", i, "error", err)
			return reports, err
		}
	}
	return reports, nil
}

func (s *Session) buildChunk(ctx context.Context, chunk *core.Chunk, dirty DirtyFunc, consumer core.OutputConsumer) ChunkReport {
	b := NewBuilder(s)
	rep := ChunkReport{Chunk: chunk, Exit: core.NothingDone}
	for pass := 1; pass <= MaxPasses; pass++ {
		files, err := dirty(ctx, chunk, pass)
		if err != nil {
			rep.Err = fmt.Errorf("collecting dirty files of %s: %w", chunk.Name, err)
			return rep
		}
		rep.Passes = pass
		code, err := b.Build(ctx, chunk, files, consumer)
		if code != core.NothingDone {
			rep.Exit = core.OK
		}
		if err != nil {
			rep.Err = err
			return rep
		}
		if code != core.AdditionalPassRequired {
			return rep
		}
	}
	s.logger.Warn("chunk still requests another pass", "chunk", chunk.Name, "passes", MaxPasses)
	return rep
}

// IsStop reports whether err stopped the build through a StopBuildError.
func IsStop(err error) bool {
	var stop *StopBuildError
	return errors.As(err, &stop)
}
