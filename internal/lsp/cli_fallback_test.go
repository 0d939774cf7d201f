package lsp

import (
	"testing"

	"github.com/eonseed/srbn/internal/srbnmodel"
)

func TestParseCLIOutputCodeQualifiedError(t *testing.T) {
	output := "error[invalid-return-type]: Return type does not match returned value\n --> main.py:7:12\n"
	diags := ParseCLIOutput(output)
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	d := diags[0]
	if d.Severity != srbnmodel.SeverityError {
		t.Fatalf("severity = %v, want Error", d.Severity)
	}
	if d.Line != 6 || d.Column != 11 {
		t.Fatalf("line/col = %d/%d, want 6/11 (0-based)", d.Line, d.Column)
	}
	if d.Message != "Return type does not match returned value" {
		t.Fatalf("message = %q", d.Message)
	}
}

func TestParseCLIOutputBareWarning(t *testing.T) {
	output := "warning: unused variable 'x'\n"
	diags := ParseCLIOutput(output)
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	if diags[0].Severity != srbnmodel.SeverityWarning {
		t.Fatalf("severity = %v, want Warning", diags[0].Severity)
	}
}

func TestParseCLIOutputNoLocation(t *testing.T) {
	output := "error: something broke\n"
	diags := ParseCLIOutput(output)
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	if diags[0].Line != 0 || diags[0].Column != 0 {
		t.Fatalf("expected zero line/col without a location line, got %d/%d", diags[0].Line, diags[0].Column)
	}
}

func TestCalculateSyntacticEnergyWeights(t *testing.T) {
	diags := []srbnmodel.Diagnostic{
		{Severity: srbnmodel.SeverityError},
		{Severity: srbnmodel.SeverityWarning},
		{Severity: srbnmodel.SeverityInformation},
		{Severity: srbnmodel.SeverityHint},
	}
	var total float64
	for _, d := range diags {
		total += d.Severity.Weight()
	}
	want := 1.0 + 0.1 + 0.01 + 0.001
	if diff := total - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("total = %v, want %v", total, want)
	}
}
