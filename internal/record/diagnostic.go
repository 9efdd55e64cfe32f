package record

// Source tags every diagnostic produced from record files.
const Source = "lsp-base"

// Severity uses the LSP numbering.
type Severity uint8

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInformation
	SeverityHint
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "info"
	case SeverityHint:
		return "hint"
	}
	return "unknown"
}

// Position is a zero-based line/column pair.
type Position struct {
	Line   uint32
	Column uint32
}

// Range spans two positions. Record diagnostics are empty ranges.
type Range struct {
	Start Position
	End   Position
}

// Diagnostic is a positioned record ready to be published.
type Diagnostic struct {
	Range    Range
	Severity Severity
	Source   string
	Message  string
}

// Diagnostic converts r to an empty-width warning at (Line, Column).
func (r Record) Diagnostic() Diagnostic {
	pos := Position{Line: r.Line, Column: r.Column}
	return Diagnostic{
		Range:    Range{Start: pos, End: pos},
		Severity: SeverityWarning,
		Source:   Source,
		Message:  r.Message,
	}
}
