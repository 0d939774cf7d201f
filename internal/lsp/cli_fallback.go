package lsp

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/eonseed/srbn/internal/srbnmodel"
)

// runCLIFallback shells out to the "ty check" CLI and parses its text
// output. This exists because the ty language server's diagnostic push can
// race query time; an empty cache read is not trustworthy evidence of a
// clean file, so spec.md §4.3 mandates a synchronous cross-check for this
// one server.
func (s *Session) runCLIFallback(path string) []srbnmodel.Diagnostic {
	cmd := exec.CommandContext(context.Background(), "uvx", "ty", "check", path)
	out, err := cmd.CombinedOutput()
	if err != nil && len(out) == 0 {
		s.logger.Printf("cli fallback failed to run: %v", err)
		return nil
	}
	return ParseCLIOutput(string(out))
}

// ParseCLIOutput tolerates two line shapes: "error[<code>]: <msg>" and
// "error: <msg>" (and the "warning" equivalents). Up to three following
// lines may contain a location line of the shape "--> <file>:<line>:<col>".
// Lines/columns are 1-based on input; stored positions are 0-based.
// Unknown severities default to Information.
func ParseCLIOutput(output string) []srbnmodel.Diagnostic {
	lines := strings.Split(output, "\n")
	var diags []srbnmodel.Diagnostic

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		hasError := strings.Contains(line, "error")
		hasWarning := strings.Contains(line, "warning")
		if !hasError && !hasWarning {
			continue
		}

		severity := srbnmodel.SeverityInformation
		switch {
		case hasError:
			severity = srbnmodel.SeverityError
		case hasWarning:
			severity = srbnmodel.SeverityWarning
		}

		message := extractMessage(line)

		lineNum, col := 0, 0
		for j := 1; j <= 3 && i+j < len(lines); j++ {
			next := strings.TrimSpace(lines[i+j])
			if !strings.HasPrefix(next, "-->") {
				continue
			}
			lineNum, col = parseLocation(next)
			break
		}

		d := srbnmodel.Diagnostic{Severity: severity, Message: message}
		if lineNum > 0 {
			d.Line = lineNum - 1
		}
		if col > 0 {
			d.Column = col - 1
		}
		diags = append(diags, d)
	}
	return diags
}

// extractMessage finds the text after "]: " (code-qualified form) or the
// first ": " (bare form), falling back to the whole line.
func extractMessage(line string) string {
	if idx := strings.Index(line, "]: "); idx >= 0 {
		return line[idx+3:]
	}
	if idx := strings.Index(line, ": "); idx >= 0 {
		return line[idx+2:]
	}
	return line
}

// parseLocation parses "--> <file>:<line>:<col>" into (line, col), both
// 1-based as written. Missing or malformed components parse as 0.
func parseLocation(locationLine string) (line, col int) {
	rest := strings.TrimPrefix(locationLine, "-->")
	parts := strings.Split(strings.TrimSpace(rest), ":")
	if len(parts) < 3 {
		return 0, 0
	}
	line, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	col, _ = strconv.Atoi(strings.TrimSpace(parts[2]))
	return line, col
}
