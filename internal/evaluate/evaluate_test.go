package evaluate

import (
	"strings"
	"testing"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/alert"
	"github.com/kyle-gehring/sqlsentinel-sub002/internal/db"
)

func statusAlert(name string) alert.Alert {
	return alert.Alert{
		Name:      name,
		Query:     "SELECT 'OK' AS status",
		Condition: &alert.Condition{Mode: alert.ModeStatus},
	}
}

func row(cols []string, vals map[string]any) db.Row {
	return db.Row{Columns: cols, Values: vals}
}

func TestEvaluateStatusOK(t *testing.T) {
	a := statusAlert("daily_revenue_check")
	rows := []db.Row{row(
		[]string{"status", "actual_value", "threshold"},
		map[string]any{"status": "OK", "actual_value": int64(1500), "threshold": int64(1000)},
	)}
	out := Evaluate(a, rows)
	if out.Verdict != alert.VerdictOK {
		t.Fatalf("expected OK, got %s (%s)", out.Verdict, out.Err)
	}
	if out.ActualValue != int64(1500) {
		t.Fatalf("expected actual value 1500, got %v", out.ActualValue)
	}
	if out.Threshold != int64(1000) {
		t.Fatalf("expected threshold 1000, got %v", out.Threshold)
	}
}

func TestEvaluateStatusAlert(t *testing.T) {
	a := statusAlert("high_error_rate")
	rows := []db.Row{row(
		[]string{"status", "actual_value", "threshold", "region"},
		map[string]any{"status": "ALERT", "actual_value": 0.12, "threshold": 0.05, "region": "eu-west"},
	)}
	out := Evaluate(a, rows)
	if out.Verdict != alert.VerdictAlert {
		t.Fatalf("expected ALERT, got %s (%s)", out.Verdict, out.Err)
	}
	region, ok := out.Context.Get("region")
	if !ok || region != "eu-west" {
		t.Fatalf("expected region in context, got %v", out.Context)
	}
	if _, ok := out.Context.Get("status"); ok {
		t.Fatalf("status column must not leak into context")
	}
}

func TestEvaluateStatusCaseInsensitive(t *testing.T) {
	a := statusAlert("freshness")
	rows := []db.Row{row([]string{"status"}, map[string]any{"status": " ok "})}
	out := Evaluate(a, rows)
	if out.Verdict != alert.VerdictOK {
		t.Fatalf("expected OK for lowercase status, got %s", out.Verdict)
	}
}

func TestEvaluateStatusNoRows(t *testing.T) {
	out := Evaluate(statusAlert("empty"), nil)
	if out.Verdict != alert.VerdictError {
		t.Fatalf("expected ERROR for empty result, got %s", out.Verdict)
	}
	if out.Err == "" {
		t.Fatalf("expected a diagnostic message")
	}
}

func TestEvaluateStatusMissingColumn(t *testing.T) {
	rows := []db.Row{row([]string{"state"}, map[string]any{"state": "OK"})}
	out := Evaluate(statusAlert("missing"), rows)
	if out.Verdict != alert.VerdictError {
		t.Fatalf("expected ERROR, got %s", out.Verdict)
	}
	if !strings.Contains(out.Err, "status") || !strings.Contains(out.Err, "state") {
		t.Fatalf("diagnostic should name the missing column and the available ones: %s", out.Err)
	}
}

func TestEvaluateStatusUnknownValue(t *testing.T) {
	rows := []db.Row{row([]string{"status"}, map[string]any{"status": "WARNING"})}
	out := Evaluate(statusAlert("unknown"), rows)
	if out.Verdict != alert.VerdictError {
		t.Fatalf("expected ERROR for unknown status value, got %s", out.Verdict)
	}
}

func TestEvaluateStatusNonTextStatus(t *testing.T) {
	rows := []db.Row{row([]string{"status"}, map[string]any{"status": int64(1)})}
	out := Evaluate(statusAlert("typed"), rows)
	if out.Verdict != alert.VerdictError {
		t.Fatalf("expected ERROR for non-text status, got %s", out.Verdict)
	}
}

func TestEvaluateStatusMultipleRowsUsesFirst(t *testing.T) {
	rows := []db.Row{
		row([]string{"status"}, map[string]any{"status": "ALERT"}),
		row([]string{"status"}, map[string]any{"status": "OK"}),
	}
	out := Evaluate(statusAlert("multi"), rows)
	if out.Verdict != alert.VerdictAlert {
		t.Fatalf("expected first row to decide, got %s", out.Verdict)
	}
}

func TestEvaluateStatusCustomColumns(t *testing.T) {
	a := alert.Alert{
		Name: "custom",
		Condition: &alert.Condition{
			Mode:            alert.ModeStatus,
			ValueColumn:     "rate",
			ThresholdColumn: "limit",
		},
	}
	rows := []db.Row{row(
		[]string{"status", "rate", "limit"},
		map[string]any{"status": "ALERT", "rate": 0.2, "limit": 0.1},
	)}
	out := Evaluate(a, rows)
	if out.ActualValue != 0.2 || out.Threshold != 0.1 {
		t.Fatalf("expected declared columns to feed scalars, got %v / %v", out.ActualValue, out.Threshold)
	}
}

func TestEvaluateRowsEmptyIsOK(t *testing.T) {
	a := alert.Alert{Name: "orphans", Condition: &alert.Condition{Mode: alert.ModeRows}}
	out := Evaluate(a, nil)
	if out.Verdict != alert.VerdictOK {
		t.Fatalf("expected OK for empty row-mode result, got %s", out.Verdict)
	}
}

func TestEvaluateRowsAnyRowIsAlert(t *testing.T) {
	a := alert.Alert{Name: "orphans", Condition: &alert.Condition{Mode: alert.ModeRows}}
	rows := []db.Row{row(
		[]string{"order_id", "created_at"},
		map[string]any{"order_id": int64(42), "created_at": "2026-08-29"},
	)}
	out := Evaluate(a, rows)
	if out.Verdict != alert.VerdictAlert {
		t.Fatalf("expected ALERT, got %s", out.Verdict)
	}
	if _, ok := out.Context.Get("order_id"); !ok {
		t.Fatalf("row columns should be carried as context")
	}
}

func TestEvaluateDefaultsToStatusMode(t *testing.T) {
	a := alert.Alert{Name: "legacy"}
	rows := []db.Row{row([]string{"status"}, map[string]any{"status": "OK"})}
	out := Evaluate(a, rows)
	if out.Verdict != alert.VerdictOK {
		t.Fatalf("alerts without a condition block default to status mode, got %s", out.Verdict)
	}
}

func TestContextPreservesColumnOrder(t *testing.T) {
	rows := []db.Row{row(
		[]string{"status", "zebra", "apple", "mango"},
		map[string]any{"status": "ALERT", "zebra": 1, "apple": 2, "mango": 3},
	)}
	out := Evaluate(statusAlert("order"), rows)
	want := []string{"zebra", "apple", "mango"}
	if len(out.Context) != len(want) {
		t.Fatalf("expected %d context fields, got %d", len(want), len(out.Context))
	}
	for i, name := range want {
		if out.Context[i].Name != name {
			t.Fatalf("context[%d] = %s, want %s", i, out.Context[i].Name, name)
		}
	}
}
