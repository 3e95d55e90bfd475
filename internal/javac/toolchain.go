// Package javac runs a JDK compiler as a black box.
//
// A Toolchain invokes the javac binary of one JDK, turns its console output
// into diagnostics, and hands every file it produced to the caller together
// with the sources it came from.
package javac

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/leapstack-labs/jbuild/internal/classfile"
	"github.com/leapstack-labs/jbuild/internal/classpath"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

// Request is one compiler invocation.
type Request struct {
	Options           []string
	VMOptions         []string
	Sources           []string
	Classpath         []string
	PlatformClasspath []string
	ModulePath        []string
	UpgradeModulePath []string
	SourcePath        []string
	// OutputMap maps each output directory to the source roots compiled into it.
	OutputMap map[string][]string
}

// Output is one produced file.
type Output struct {
	OutputRoot   string
	RelativePath string
	ClassName    string
	Sources      []string
	Content      []byte
	Resource     bool
}

// Events receives what a compilation produces.
type Events interface {
	Diagnostic(d core.Diagnostic)
	Output(o Output)
	FileData(f core.FileData)
}

// Toolchain is a JDK installation.
type Toolchain struct {
	// Home is the JDK home. Empty means javac is looked up on PATH.
	Home string
	// Executable overrides the javac binary.
	Executable string
	Logger     *slog.Logger
}

func (t *Toolchain) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return t.Logger
}

// Binary returns the path of the javac executable.
func (t *Toolchain) Binary() (string, error) {
	if t.Executable != "" {
		return t.Executable, nil
	}
	if t.Home != "" {
		name := "javac"
		if filepath.Separator == '\\' {
			name = "javac.exe"
		}
		return filepath.Join(t.Home, "bin", name), nil
	}
	return exec.LookPath("javac")
}

var versionRe = regexp.MustCompile(`javac\s+(\S+)`)

// Version runs javac -version and returns the reported version string.
func (t *Toolchain) Version(ctx context.Context) (string, error) {
	bin, err := t.Binary()
	if err != nil {
		return "", err
	}
	out, err := exec.CommandContext(ctx, bin, "-version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("running %s -version: %w", bin, err)
	}
	m := versionRe.FindSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("unrecognized javac version output %q", strings.TrimSpace(string(out)))
	}
	return string(m[1]), nil
}

// Compile runs javac. The boolean is javac's verdict; an error means the
// compiler could not be run at all.
func (t *Toolchain) Compile(ctx context.Context, req *Request, events Events) (bool, error) {
	bin, err := t.Binary()
	if err != nil {
		return false, fmt.Errorf("locating javac: %w", err)
	}

	dest, err := os.MkdirTemp("", "jbuild-javac-")
	if err != nil {
		return false, fmt.Errorf("creating output directory: %w", err)
	}
	defer os.RemoveAll(dest)

	argfile := filepath.Join(dest, "sources.txt")
	if err := writeArgfile(argfile, req.Sources); err != nil {
		return false, err
	}
	classes := filepath.Join(dest, "classes")
	if err := os.Mkdir(classes, 0o755); err != nil {
		return false, err
	}

	args := buildArgs(req, classes)
	args = append(args, "@"+argfile)

	var console bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &console
	cmd.Stderr = &console

	t.logger().Debug("running javac", "bin", bin, "sources", len(req.Sources), "options", len(req.Options))
	runErr := cmd.Run()

	for _, d := range ParseDiagnostics(&console) {
		events.Diagnostic(d)
	}

	ok := runErr == nil
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			return false, ctx.Err()
		case errors.As(runErr, &exitErr):
			t.logger().Debug("javac failed", "exit", exitErr.ExitCode())
		default:
			return false, fmt.Errorf("running %s: %w", bin, runErr)
		}
	}

	produced, err := harvest(classes, req, events)
	if err != nil {
		return false, err
	}
	lookup, release := classLookup(produced, req, t.logger())
	defer release()
	scanSources(req.Sources, lookup, events, t.logger())
	return ok, nil
}

func buildArgs(req *Request, classes string) []string {
	args := make([]string, 0, len(req.Options)+len(req.VMOptions)+12)
	for _, vm := range req.VMOptions {
		args = append(args, "-J"+vm)
	}
	args = append(args, req.Options...)
	args = append(args, "-d", classes)
	args = append(args, "-sourcepath", joinPath(req.SourcePath))
	if len(req.Classpath) > 0 {
		args = append(args, "-classpath", joinPath(req.Classpath))
	}
	if len(req.ModulePath) > 0 {
		args = append(args, "--module-path", joinPath(req.ModulePath))
	}
	if len(req.UpgradeModulePath) > 0 {
		args = append(args, "--upgrade-module-path", joinPath(req.UpgradeModulePath))
	} else if len(req.PlatformClasspath) > 0 && len(req.ModulePath) == 0 {
		args = append(args, "-bootclasspath", joinPath(req.PlatformClasspath))
	}
	return args
}

func joinPath(entries []string) string {
	return strings.Join(entries, string(os.PathListSeparator))
}

func writeArgfile(path string, sources []string) error {
	var b strings.Builder
	for _, src := range sources {
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(filepath.ToSlash(src), `"`, `\"`))
		b.WriteString("\"\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing source list: %w", err)
	}
	return nil
}

// harvest reports every file under classes, mapped back to its sources
// and output directory. It returns the produced classes by internal name.
func harvest(classes string, req *Request, events Events) (map[string][]byte, error) {
	idx := newSourceIndex(req)
	var rels []string
	err := filepath.WalkDir(classes, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(classes, path)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collecting outputs: %w", err)
	}
	sort.Strings(rels)

	produced := make(map[string][]byte)
	for _, rel := range rels {
		content, err := os.ReadFile(filepath.Join(classes, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("reading output %s: %w", rel, err)
		}
		out := Output{RelativePath: rel, Content: content}
		if strings.HasSuffix(rel, ".class") {
			out.ClassName = strings.TrimSuffix(rel, ".class")
			if c, err := classfile.Parse(content); err == nil {
				if name, err := c.Name(); err == nil {
					out.ClassName = name
				}
				out.Sources = idx.lookup(out.ClassName, c.SourceFile())
			}
			produced[out.ClassName] = content
		} else {
			out.Resource = true
		}
		out.OutputRoot = idx.outputRoot(out.Sources)
		events.Output(out)
	}
	return produced, nil
}

// sourceIndex maps produced classes to sources and sources to output roots.
type sourceIndex struct {
	byName  map[string][]string
	roots   []string
	outputs map[string]string
	first   string
}

func newSourceIndex(req *Request) *sourceIndex {
	idx := &sourceIndex{byName: make(map[string][]string), outputs: make(map[string]string)}
	for _, src := range req.Sources {
		base := filepath.Base(src)
		idx.byName[base] = append(idx.byName[base], src)
	}
	dirs := make([]string, 0, len(req.OutputMap))
	for dir := range req.OutputMap {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	if len(dirs) > 0 {
		idx.first = dirs[0]
	}
	for _, dir := range dirs {
		for _, root := range req.OutputMap[dir] {
			idx.roots = append(idx.roots, root)
			idx.outputs[root] = dir
		}
	}
	return idx
}

func (idx *sourceIndex) lookup(className, sourceFile string) []string {
	if sourceFile == "" {
		outer, _, _ := strings.Cut(filepath.Base(className), "$")
		sourceFile = outer + ".java"
	}
	pkg := filepath.Dir(filepath.FromSlash(className))
	candidates := idx.byName[sourceFile]
	var matched []string
	for _, src := range candidates {
		dir := filepath.Dir(src)
		if pkg == "." || dir == pkg || strings.HasSuffix(dir, string(filepath.Separator)+pkg) {
			matched = append(matched, src)
		}
	}
	if len(matched) == 0 {
		return candidates
	}
	return matched
}

func (idx *sourceIndex) outputRoot(sources []string) string {
	for _, src := range sources {
		best := ""
		for _, root := range idx.roots {
			rel, err := filepath.Rel(root, src)
			if err == nil && !strings.HasPrefix(rel, "..") && len(root) > len(best) {
				best = root
			}
		}
		if best != "" {
			return idx.outputs[best]
		}
	}
	return idx.first
}

// classLookup resolves classes from the compilation's own outputs first,
// then from the output directories of earlier rounds and the classpath and
// module path entries. Entries are opened on first use; release closes them.
func classLookup(produced map[string][]byte, req *Request, logger *slog.Logger) (ClassLookup, func()) {
	entries := make([]string, 0, len(req.OutputMap)+len(req.Classpath)+len(req.ModulePath)+len(req.PlatformClasspath))
	for dir := range req.OutputMap {
		entries = append(entries, dir)
	}
	sort.Strings(entries)
	entries = append(entries, req.Classpath...)
	entries = append(entries, req.ModulePath...)
	entries = append(entries, req.PlatformClasspath...)

	readers := make([]classpath.Reader, len(entries))
	opened := make([]bool, len(entries))
	lookup := func(internal string) ([]byte, bool) {
		if data, ok := produced[internal]; ok {
			return data, true
		}
		for i, entry := range entries {
			if !opened[i] {
				opened[i] = true
				r, err := classpath.NewReader(entry)
				if err != nil {
					logger.Debug("skipping classpath entry", "entry", entry, "error", err)
					continue
				}
				readers[i] = r
			}
			if readers[i] == nil {
				continue
			}
			data, found, err := readers[i].Read(internal)
			if err != nil {
				logger.Debug("cannot read class", "entry", entry, "class", internal, "error", err)
				continue
			}
			if found {
				return data, true
			}
		}
		return nil, false
	}
	release := func() {
		for _, r := range readers {
			if r != nil {
				_ = r.Close()
			}
		}
	}
	return lookup, release
}

func scanSources(sources []string, lookup ClassLookup, events Events, logger *slog.Logger) {
	for _, src := range sources {
		content, err := os.ReadFile(src)
		if err != nil {
			logger.Debug("skipping import scan", "source", src, "error", err)
			continue
		}
		imports, static := ScanImports(content)
		events.FileData(core.FileData{
			Path:          src,
			Imports:       imports,
			StaticImports: static,
			Constants:     ScanConstants(content, lookup),
		})
	}
}
