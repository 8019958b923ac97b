package json2ubl

import (
	"fmt"
	"strings"

	xsderrors "github.com/jacoelho/xsd/errors"
)

// Diagnostic is one XSD conformance problem found in generated XML
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Path     string   `json:"path,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Hints    []string `json:"hints,omitempty"`
}

// Severity represents the severity level of a diagnostic
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// String renders the diagnostic on one line
func (d Diagnostic) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", d.Code, d.Message))
	if d.Path != "" {
		sb.WriteString(" at " + d.Path)
	}
	if d.Line > 0 {
		sb.WriteString(fmt.Sprintf(" (line %d, column %d)", d.Line, d.Column))
	}
	return sb.String()
}

// DiagnosticsFrom converts validator output to diagnostics. Errors that
// carry no validation list become a single diagnostic.
func DiagnosticsFrom(err error) []Diagnostic {
	if err == nil {
		return nil
	}

	validations, ok := xsderrors.AsValidations(err)
	if !ok {
		return []Diagnostic{{
			Severity: SeverityError,
			Code:     string(xsderrors.ErrXMLParse),
			Message:  err.Error(),
		}}
	}

	diagnostics := make([]Diagnostic, 0, len(validations))
	for _, v := range validations {
		diagnostics = append(diagnostics, convertValidation(v))
	}
	return diagnostics
}

func convertValidation(v xsderrors.Validation) Diagnostic {
	return Diagnostic{
		Severity: SeverityError,
		Code:     v.Code,
		Message:  v.Message,
		Path:     v.Path,
		Line:     v.Line,
		Column:   v.Column,
		Hints:    generateHints(v),
	}
}

// generateHints suggests fixes in terms of the JSON input
func generateHints(v xsderrors.Validation) []string {
	var hints []string

	switch xsderrors.ErrorCode(v.Code) {
	case xsderrors.ErrRequiredElementMissing:
		if len(v.Expected) > 0 {
			hints = append(hints, fmt.Sprintf("Supply a value for %s in the input document", strings.Join(v.Expected, " or ")))
		}
	case xsderrors.ErrUnexpectedElement, xsderrors.ErrContentModelInvalid:
		if len(v.Expected) > 0 {
			hints = append(hints, fmt.Sprintf("Valid children are: %s", strings.Join(v.Expected, ", ")))
		}
	case xsderrors.ErrRequiredAttributeMissing:
		if len(v.Expected) == 1 {
			hints = append(hints, fmt.Sprintf("Add the attribute to the value object: {\"value\": ..., %q: ...}", v.Expected[0]))
		}
	case xsderrors.ErrDatatypeInvalid, xsderrors.ErrFacetViolation:
		if v.Actual != "" {
			hints = append(hints, fmt.Sprintf("Value %q does not match the declared type", v.Actual))
		}
	}

	if len(hints) == 0 && len(v.Expected) > 0 {
		hints = append(hints, fmt.Sprintf("Expected: %s", strings.Join(v.Expected, ", ")))
	}

	return hints
}

// ErrorFormatter renders diagnostics against the XML they refer to
type ErrorFormatter struct {
	Color bool
}

// Format formats a diagnostic in rustc style
func (ef *ErrorFormatter) Format(diag Diagnostic, file, source string) string {
	var sb strings.Builder

	severity := string(diag.Severity)
	if ef.Color {
		switch diag.Severity {
		case SeverityError:
			severity = "\033[31;1merror\033[0m"
		case SeverityWarning:
			severity = "\033[33;1mwarning\033[0m"
		}
	}

	sb.WriteString(fmt.Sprintf("%s[%s]: %s\n", severity, diag.Code, diag.Message))
	sb.WriteString(fmt.Sprintf(" --> %s:%d:%d\n", file, diag.Line, diag.Column))

	if source != "" && diag.Line > 0 {
		lines := strings.Split(source, "\n")
		if diag.Line <= len(lines) {
			sb.WriteString(fmt.Sprintf("%4d | ", diag.Line))
			sb.WriteString(lines[diag.Line-1] + "\n")

			sb.WriteString("     | ")
			if diag.Column > 0 {
				sb.WriteString(strings.Repeat(" ", diag.Column-1))
				if ef.Color {
					sb.WriteString("\033[31;1m^\033[0m")
				} else {
					sb.WriteString("^")
				}
			}
			sb.WriteString("\n")
		}
	}

	if diag.Path != "" {
		sb.WriteString("     = path: " + diag.Path + "\n")
	}
	for _, hint := range diag.Hints {
		sb.WriteString("     = help: " + hint + "\n")
	}

	return sb.String()
}
