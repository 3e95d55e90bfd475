package core

import "strings"

// =============================================================================
// Severity
// =============================================================================

// Severity indicates the importance of a build diagnostic.
type Severity int

// Severity levels for diagnostics.
const (
	// SeverityError fails the chunk unless proceed-on-error is set.
	SeverityError Severity = iota
	// SeverityWarning is counted but never fails the chunk.
	SeverityWarning
	// SeverityInfo indicates informational feedback.
	SeverityInfo
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a string to a Severity value.
// Compiler kinds (mandatory_warning, note, other) are folded into the three levels.
// Returns the severity and true if valid, or SeverityInfo and false if invalid.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return SeverityError, true
	case "warning", "mandatory_warning", "mandatory warning":
		return SeverityWarning, true
	case "info", "note", "other":
		return SeverityInfo, true
	default:
		return SeverityInfo, false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	sev, _ := ParseSeverity(string(text))
	*s = sev
	return nil
}
