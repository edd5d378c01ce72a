// Package evaluate turns a query result set into a verdict according to
// the alert's declared condition mode.
package evaluate

import (
	"fmt"
	"strings"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/alert"
	"github.com/kyle-gehring/sqlsentinel-sub002/internal/db"
)

const statusColumn = "status"

// Outcome is the evaluator's portion of an execution result.
type Outcome struct {
	Verdict     alert.Verdict
	ActualValue any
	Threshold   any
	Context     alert.Context
	Err         string
}

// Evaluate produces exactly one verdict for the row set. It never panics
// and never reports OK for a malformed result; anything that violates the
// alert's declared contract becomes an ERROR outcome with a diagnostic.
//
// When the query returns multiple rows only the first feeds scalar
// extraction, in whatever order the database returned them.
func Evaluate(a alert.Alert, rows []db.Row) Outcome {
	switch a.ConditionMode() {
	case alert.ModeRows:
		return evaluateRowCount(a, rows)
	default:
		return evaluateStatus(a, rows)
	}
}

func evaluateStatus(a alert.Alert, rows []db.Row) Outcome {
	if len(rows) == 0 {
		return errorOutcome("query returned no rows; status-mode alerts must return a row with a 'status' column of OK or ALERT")
	}
	row := rows[0]
	raw, ok := row.Get(statusColumn)
	if !ok {
		return errorOutcome(fmt.Sprintf("query result is missing the required 'status' column; available columns: %s", strings.Join(row.Columns, ", ")))
	}
	statusText, ok := raw.(string)
	if !ok {
		return errorOutcome(fmt.Sprintf("'status' column must be text, got %T", raw))
	}
	var verdict alert.Verdict
	switch strings.ToUpper(strings.TrimSpace(statusText)) {
	case string(alert.VerdictOK):
		verdict = alert.VerdictOK
	case string(alert.VerdictAlert):
		verdict = alert.VerdictAlert
	default:
		return errorOutcome(fmt.Sprintf("'status' column must be OK or ALERT, got %q", statusText))
	}
	out := Outcome{Verdict: verdict}
	extractScalars(a, row, &out)
	out.Context = contextFields(row, statusColumn, valueColumn(a), thresholdColumn(a))
	return out
}

func evaluateRowCount(a alert.Alert, rows []db.Row) Outcome {
	if len(rows) == 0 {
		return Outcome{Verdict: alert.VerdictOK}
	}
	// Any returned row means the condition fired. Declared value and
	// threshold columns are copied for context but never change the
	// verdict.
	out := Outcome{Verdict: alert.VerdictAlert}
	row := rows[0]
	extractScalars(a, row, &out)
	out.Context = contextFields(row, valueColumn(a), thresholdColumn(a))
	return out
}

func extractScalars(a alert.Alert, row db.Row, out *Outcome) {
	if v, ok := row.Get(valueColumn(a)); ok {
		out.ActualValue = v
	}
	if v, ok := row.Get(thresholdColumn(a)); ok {
		out.Threshold = v
	}
}

func valueColumn(a alert.Alert) string {
	if a.Condition != nil && a.Condition.ValueColumn != "" {
		return a.Condition.ValueColumn
	}
	return "actual_value"
}

func thresholdColumn(a alert.Alert) string {
	if a.Condition != nil && a.Condition.ThresholdColumn != "" {
		return a.Condition.ThresholdColumn
	}
	return "threshold"
}

func contextFields(row db.Row, exclude ...string) alert.Context {
	skip := make(map[string]bool, len(exclude))
	for _, col := range exclude {
		skip[col] = true
	}
	ctx := alert.Context{}
	for _, col := range row.Columns {
		if skip[col] {
			continue
		}
		ctx = append(ctx, alert.Field{Name: col, Value: row.Values[col]})
	}
	return ctx
}

func errorOutcome(msg string) Outcome {
	return Outcome{Verdict: alert.VerdictError, Err: msg}
}
