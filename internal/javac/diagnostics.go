package javac

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

var (
	locatedRe = regexp.MustCompile(`^(.+?\.java):(\d+): (error|warning|note|Note|mandatory_warning): (.*)$`)
	bareRe    = regexp.MustCompile(`^(error|warning|Note|note): (.*)$`)
	summaryRe = regexp.MustCompile(`^\d+ (errors?|warnings?)$`)
)

// outOfMemoryMarkers identify a compiler that died for lack of heap.
var outOfMemoryMarkers = []string{"java.lang.OutOfMemoryError", "insufficient memory"}

// ParseDiagnostics reads javac's default diagnostic format.
func ParseDiagnostics(r io.Reader) []core.Diagnostic {
	var (
		out     []core.Diagnostic
		current *core.Diagnostic
		detail  []string
		sawLine bool
	)
	flush := func() {
		if current == nil {
			return
		}
		if len(detail) > 0 {
			current.Message += "\n" + strings.Join(detail, "\n")
		}
		out = append(out, *current)
		current, detail, sawLine = nil, nil, false
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")

		if m := locatedRe.FindStringSubmatch(line); m != nil {
			flush()
			sev, _ := core.ParseSeverity(m[3])
			d := core.NewDiagnostic(sev, "%s", m[4]).WithSource(m[1])
			d.Line, _ = strconv.Atoi(m[2])
			current = &d
			continue
		}
		if m := bareRe.FindStringSubmatch(line); m != nil {
			flush()
			sev, _ := core.ParseSeverity(m[1])
			d := core.NewDiagnostic(sev, "%s", m[2])
			current = &d
			continue
		}
		if summaryRe.MatchString(line) {
			flush()
			continue
		}
		if isOutOfMemory(line) {
			flush()
			out = append(out, core.NewDiagnostic(core.SeverityError,
				"compiler ran out of memory (%s); increase compiler.heap_size_mb", strings.TrimSpace(line)))
			continue
		}
		if current == nil {
			if strings.TrimSpace(line) != "" {
				out = append(out, core.NewDiagnostic(core.SeverityInfo, "%s", line))
			}
			continue
		}

		// A located diagnostic is followed by the source line and a caret.
		if current.Source != "" && !sawLine {
			sawLine = true
			continue
		}
		if current.Source != "" && current.Column == core.NoPosition && strings.TrimSpace(line) == "^" {
			current.Column = strings.IndexByte(line, '^') + 1
			continue
		}
		detail = append(detail, strings.TrimSpace(line))
	}
	flush()
	return out
}

func isOutOfMemory(line string) bool {
	for _, m := range outOfMemoryMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}
