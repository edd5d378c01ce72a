package alert

import (
	"errors"
	"testing"
)

func validAlert(name string) Alert {
	return Alert{
		Name:      name,
		Query:     "SELECT 'OK' AS status",
		Schedule:  "*/5 * * * *",
		Condition: &Condition{Mode: ModeStatus},
	}
}

func details(t *testing.T, err error) []ErrorDetail {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	return verr.Details
}

func TestValidateAllOK(t *testing.T) {
	alerts := []Alert{validAlert("a"), validAlert("b")}
	if err := ValidateAll(alerts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateAllEmptyConfig(t *testing.T) {
	err := ValidateAll(nil)
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidateAllCollectsEveryProblem(t *testing.T) {
	bad := Alert{
		Name:     "",
		Query:    "  ",
		Schedule: "not-cron",
		Notify: []ChannelConfig{
			{Kind: "email"},
			{Kind: "pager"},
		},
	}
	ds := details(t, ValidateAll([]Alert{bad}))
	if len(ds) < 5 {
		t.Fatalf("expected every problem reported at once, got %d: %v", len(ds), ds)
	}
}

func TestValidateAllDuplicateNames(t *testing.T) {
	alerts := []Alert{validAlert("dup"), validAlert("dup")}
	ds := details(t, ValidateAll(alerts))
	if len(ds) != 1 || ds[0].Field != "name" || ds[0].Problem != "duplicate" {
		t.Fatalf("expected one duplicate-name problem, got %v", ds)
	}
}

func TestValidateAllCronDescriptors(t *testing.T) {
	a := validAlert("daily")
	a.Schedule = "@daily"
	if err := ValidateAll([]Alert{a}); err != nil {
		t.Fatalf("descriptor schedules should be accepted: %v", err)
	}
}

func TestValidateAllBadCron(t *testing.T) {
	a := validAlert("bad")
	a.Schedule = "99 * * * *"
	ds := details(t, ValidateAll([]Alert{a}))
	if len(ds) != 1 || ds[0].Field != "schedule" {
		t.Fatalf("expected a schedule problem, got %v", ds)
	}
}

func TestValidateAllConditionMode(t *testing.T) {
	a := validAlert("mode")
	a.Condition = &Condition{Mode: "count"}
	ds := details(t, ValidateAll([]Alert{a}))
	if len(ds) != 1 || ds[0].Field != "condition.mode" {
		t.Fatalf("expected a condition.mode problem, got %v", ds)
	}
}

func TestValidateChannelEmail(t *testing.T) {
	a := validAlert("mail")
	a.Notify = []ChannelConfig{{Kind: "email", Recipients: []string{"ops@example.com", "no-at-sign"}}}
	ds := details(t, ValidateAll([]Alert{a}))
	if len(ds) != 1 || ds[0].Field != "notify[0].recipients[1]" {
		t.Fatalf("expected one bad-address problem, got %v", ds)
	}
}

func TestValidateChannelSlack(t *testing.T) {
	a := validAlert("slack")
	a.Notify = []ChannelConfig{{Kind: "slack", WebhookURL: "https://example.com/hook"}}
	ds := details(t, ValidateAll([]Alert{a}))
	if len(ds) != 1 || ds[0].Field != "notify[0].webhook_url" {
		t.Fatalf("expected a webhook_url problem, got %v", ds)
	}
}

func TestValidateChannelWebhookMethod(t *testing.T) {
	a := validAlert("hook")
	a.Notify = []ChannelConfig{{Kind: "webhook", URL: "https://example.com/x", Method: "DELETE"}}
	ds := details(t, ValidateAll([]Alert{a}))
	if len(ds) != 1 || ds[0].Field != "notify[0].method" {
		t.Fatalf("expected a method problem, got %v", ds)
	}
}

func TestValidateChannelNATS(t *testing.T) {
	a := validAlert("bus")
	a.Notify = []ChannelConfig{{Kind: "nats", URL: "nats://localhost:4222", NATSSubject: "alerts.fired"}}
	if err := ValidateAll([]Alert{a}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWarningsForImplicitMode(t *testing.T) {
	a := validAlert("implicit")
	a.Condition = nil
	warnings := Warnings([]Alert{a, validAlert("explicit")})
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %v", warnings)
	}
}
