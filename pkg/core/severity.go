package core

import "strings"

// Severity is a display classification of a log line. It is never used
// for filtering.
type Severity int

const (
	SeverityDefault Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	case SeverityDebug:
		return "debug"
	default:
		return "default"
	}
}

// severityRules are checked in order; the first rule with a matching
// needle wins.
var severityRules = []struct {
	severity Severity
	needles  []string
}{
	{SeverityError, []string{"error", "erro", "exception"}},
	{SeverityWarning, []string{"warn", "aviso"}},
	{SeverityInfo, []string{"info", "informação"}},
	{SeverityDebug, []string{"debug"}},
}

// Classify tags a log line by case-insensitive substring match.
func Classify(line string) Severity {
	lower := strings.ToLower(line)
	for _, rule := range severityRules {
		for _, n := range rule.needles {
			if strings.Contains(lower, n) {
				return rule.severity
			}
		}
	}
	return SeverityDefault
}
