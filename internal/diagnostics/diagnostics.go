package diagnostics

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Source   string   `json:"source,omitempty"`
	Raw      string   `json:"raw,omitempty"`
}

type Report struct {
	ErrorCount   int          `json:"error_count"`
	WarningCount int          `json:"warning_count"`
	InfoCount    int          `json:"info_count"`
	Diagnostics  []Diagnostic `json:"diagnostics"`
}

// Sources lists the log names BuildReport reads, in order.
var Sources = []string{
	"console.log",
	"pf_core.map.rpt",
	"pf_core.fit.rpt",
	"pf_core.sta.rpt",
	"pf_core.asm.rpt",
}

func BuildReport(logs map[string][]byte) Report {
	report := Report{Diagnostics: make([]Diagnostic, 0)}
	seen := map[string]struct{}{}

	for _, source := range Sources {
		raw, ok := logs[source]
		if !ok {
			continue
		}
		reader := bufio.NewReader(bytes.NewReader(raw))
		for {
			line, err := reader.ReadString('\n')
			if len(line) > 0 {
				line = strings.TrimRight(line, "\r\n")
			}
			if d, ok := parseLine(line, source); ok {
				key := diagnosticKey(d)
				if _, dup := seen[key]; !dup {
					seen[key] = struct{}{}
					report.Diagnostics = append(report.Diagnostics, d)
					switch d.Severity {
					case SeverityError:
						report.ErrorCount++
					case SeverityWarning:
						report.WarningCount++
					default:
						report.InfoCount++
					}
				}
			}
			if err != nil {
				break
			}
		}
	}
	return report
}

// InferFailure classifies the first error in report and returns a one-line
// summary for it, falling back to fallbackMessage or buildErr.
func InferFailure(report Report, fallbackMessage string, buildErr error) (string, string) {
	if d, ok := firstError(report); ok {
		return classify(d), formatSummary(d)
	}
	msg := strings.TrimSpace(fallbackMessage)
	if msg == "" && buildErr != nil {
		msg = strings.TrimSpace(buildErr.Error())
	}
	if msg == "" {
		msg = "build failed"
	}
	return "internal", msg
}

func firstError(report Report) (Diagnostic, bool) {
	for _, d := range report.Diagnostics {
		if d.Severity == SeverityError && d.Code != "" {
			return d, true
		}
	}
	for _, d := range report.Diagnostics {
		if d.Severity == SeverityError {
			return d, true
		}
	}
	return Diagnostic{}, false
}

func classify(d Diagnostic) string {
	lower := strings.ToLower(d.Message + " " + d.File)
	switch {
	case strings.Contains(lower, "syntax error"):
		return "syntax"
	case strings.Contains(lower, ".sdc") || strings.Contains(lower, "constraint") || strings.Contains(lower, "pin assignment"):
		return "constraints"
	case strings.Contains(lower, "timing"):
		return "timing"
	case strings.Contains(lower, "verilog hdl") || strings.Contains(lower, "analysis & synthesis") || strings.Contains(lower, "elaboration"):
		return "synthesis"
	case strings.Contains(lower, "fitter") || strings.Contains(lower, "assembler") || strings.Contains(lower, "can't place") || strings.Contains(lower, "can't fit"):
		return "implementation"
	default:
		return "internal"
	}
}

func formatSummary(d Diagnostic) string {
	where := ""
	if d.File != "" && d.Line > 0 {
		where = fmt.Sprintf(" (%s:%d)", d.File, d.Line)
	} else if d.File != "" {
		where = fmt.Sprintf(" (%s)", d.File)
	}
	if d.Code != "" {
		return fmt.Sprintf("[%s] %s%s", d.Code, d.Message, where)
	}
	return d.Message + where
}

// parseLine recognizes Quartus message lines such as
//
//	Error (10161): Verilog HDL error at top.sv(45): object "x" is not declared File: /build/core/top.sv Line: 45
func parseLine(rawLine, source string) (Diagnostic, bool) {
	line := strings.TrimSpace(rawLine)
	if line == "" {
		return Diagnostic{}, false
	}

	var severity Severity
	var rest string
	switch {
	case hasSeverityPrefix(line, "Error"):
		severity = SeverityError
		rest = strings.TrimPrefix(line, "Error")
	case hasSeverityPrefix(line, "Critical Warning"):
		severity = SeverityWarning
		rest = strings.TrimPrefix(line, "Critical Warning")
	case hasSeverityPrefix(line, "Warning"):
		severity = SeverityWarning
		rest = strings.TrimPrefix(line, "Warning")
	case hasSeverityPrefix(line, "Info"):
		severity = SeverityInfo
		rest = strings.TrimPrefix(line, "Info")
	default:
		return Diagnostic{}, false
	}

	d := Diagnostic{Severity: severity, Source: source, Raw: line}

	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, "(") {
		if end := strings.Index(rest, ")"); end > 1 {
			if _, ok := parseInt(rest[1:end]); ok {
				d.Code = rest[1:end]
			}
			rest = rest[end+1:]
		}
	}
	rest = strings.TrimSpace(strings.TrimPrefix(rest, ":"))

	msg, file, lineNo := splitTrailingLocation(rest)
	d.Message = msg
	d.File = file
	d.Line = lineNo
	if d.Message == "" {
		d.Message = rest
	}
	return d, true
}

func hasSeverityPrefix(line, prefix string) bool {
	if !strings.HasPrefix(line, prefix) {
		return false
	}
	next := strings.TrimLeft(line[len(prefix):], " ")
	return strings.HasPrefix(next, "(") || strings.HasPrefix(next, ":")
}

func splitTrailingLocation(msg string) (string, string, int) {
	start := strings.LastIndex(msg, " File: ")
	if start < 0 {
		return msg, "", 0
	}
	location := strings.TrimSpace(msg[start+len(" File: "):])
	file := location
	lineNo := 0
	if idx := strings.LastIndex(location, " Line: "); idx >= 0 {
		if n, ok := parseInt(strings.TrimSpace(location[idx+len(" Line: "):])); ok {
			file = strings.TrimSpace(location[:idx])
			lineNo = n
		}
	}
	if file == "" {
		return msg, "", 0
	}
	return strings.TrimSpace(msg[:start]), file, lineNo
}

func parseInt(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

func diagnosticKey(d Diagnostic) string {
	return fmt.Sprintf("%s|%s|%s|%s|%d", d.Severity, d.Code, d.Message, d.File, d.Line)
}
