package alert

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

type ErrorDetail struct {
	Alert   string `json:"alert"`
	Field   string `json:"field"`
	Problem string `json:"problem"`
	Hint    string `json:"hint,omitempty"`
}

// ValidationError carries every problem found in a config, not just the
// first one.
type ValidationError struct {
	Details []ErrorDetail
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return "config failed validation"
	}
	lines := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		line := fmt.Sprintf("%s: %s %s", d.Alert, d.Field, d.Problem)
		if d.Hint != "" {
			line += " (" + d.Hint + ")"
		}
		lines = append(lines, line)
	}
	return fmt.Sprintf("config failed validation: %s", strings.Join(lines, "; "))
}

var channelKinds = map[string]bool{
	"email":   true,
	"slack":   true,
	"webhook": true,
	"nats":    true,
}

var webhookMethods = map[string]bool{
	"GET":   true,
	"POST":  true,
	"PUT":   true,
	"PATCH": true,
}

// ValidateAll checks every alert definition and returns nil or a
// ValidationError listing each invalid field across the whole set.
func ValidateAll(alerts []Alert) error {
	var details []ErrorDetail
	if len(alerts) == 0 {
		details = append(details, ErrorDetail{Alert: "(config)", Field: "alerts", Problem: "empty", Hint: "define at least one alert"})
	}
	seen := map[string]bool{}
	for i, a := range alerts {
		name := a.Name
		if name == "" {
			name = fmt.Sprintf("alerts[%d]", i)
		}
		if a.Name == "" {
			details = append(details, ErrorDetail{Alert: name, Field: "name", Problem: "missing"})
		} else if seen[a.Name] {
			details = append(details, ErrorDetail{Alert: name, Field: "name", Problem: "duplicate", Hint: "alert names must be unique"})
		}
		seen[a.Name] = true
		details = append(details, validateAlert(name, a)...)
	}
	if len(details) > 0 {
		return &ValidationError{Details: details}
	}
	return nil
}

func validateAlert(name string, a Alert) []ErrorDetail {
	var details []ErrorDetail
	if strings.TrimSpace(a.Query) == "" {
		details = append(details, ErrorDetail{Alert: name, Field: "query", Problem: "missing"})
	}
	if strings.TrimSpace(a.Schedule) == "" {
		details = append(details, ErrorDetail{Alert: name, Field: "schedule", Problem: "missing", Hint: "cron expression, e.g. */5 * * * *"})
	} else if _, err := cron.ParseStandard(a.Schedule); err != nil {
		details = append(details, ErrorDetail{Alert: name, Field: "schedule", Problem: "invalid cron expression", Hint: err.Error()})
	}
	if a.Condition != nil {
		switch a.Condition.Mode {
		case ModeStatus, ModeRows:
		case "":
			details = append(details, ErrorDetail{Alert: name, Field: "condition.mode", Problem: "missing", Hint: "use status or rows"})
		default:
			details = append(details, ErrorDetail{Alert: name, Field: "condition.mode", Problem: fmt.Sprintf("unknown mode %q", a.Condition.Mode), Hint: "use status or rows"})
		}
	}
	for ci, ch := range a.Notify {
		details = append(details, validateChannel(name, ci, ch)...)
	}
	return details
}

func validateChannel(alertName string, idx int, ch ChannelConfig) []ErrorDetail {
	field := func(f string) string { return fmt.Sprintf("notify[%d].%s", idx, f) }
	var details []ErrorDetail
	if !channelKinds[ch.Kind] {
		details = append(details, ErrorDetail{Alert: alertName, Field: field("channel"), Problem: fmt.Sprintf("unknown channel %q", ch.Kind), Hint: "use email, slack, webhook, or nats"})
		return details
	}
	switch ch.Kind {
	case "email":
		if len(ch.Recipients) == 0 {
			details = append(details, ErrorDetail{Alert: alertName, Field: field("recipients"), Problem: "missing"})
		}
		for ri, addr := range ch.Recipients {
			if !strings.Contains(addr, "@") {
				details = append(details, ErrorDetail{Alert: alertName, Field: field(fmt.Sprintf("recipients[%d]", ri)), Problem: fmt.Sprintf("invalid address %q", addr)})
			}
		}
	case "slack":
		if ch.WebhookURL == "" {
			details = append(details, ErrorDetail{Alert: alertName, Field: field("webhook_url"), Problem: "missing"})
		} else if !strings.HasPrefix(ch.WebhookURL, "https://hooks.slack.com/") {
			details = append(details, ErrorDetail{Alert: alertName, Field: field("webhook_url"), Problem: "invalid", Hint: "must start with https://hooks.slack.com/"})
		}
	case "webhook":
		if ch.URL == "" {
			details = append(details, ErrorDetail{Alert: alertName, Field: field("url"), Problem: "missing"})
		} else if !strings.HasPrefix(ch.URL, "http://") && !strings.HasPrefix(ch.URL, "https://") {
			details = append(details, ErrorDetail{Alert: alertName, Field: field("url"), Problem: "invalid", Hint: "must start with http:// or https://"})
		}
		if ch.Method != "" && !webhookMethods[strings.ToUpper(ch.Method)] {
			details = append(details, ErrorDetail{Alert: alertName, Field: field("method"), Problem: fmt.Sprintf("invalid method %q", ch.Method), Hint: "use GET, POST, PUT, or PATCH"})
		}
	case "nats":
		if ch.URL == "" {
			details = append(details, ErrorDetail{Alert: alertName, Field: field("url"), Problem: "missing", Hint: "nats://host:4222"})
		}
		if ch.NATSSubject == "" {
			details = append(details, ErrorDetail{Alert: alertName, Field: field("nats_subject"), Problem: "missing"})
		}
	}
	return details
}

// Warnings reports non-fatal config issues, currently only alerts that
// rely on the implicit status condition mode.
func Warnings(alerts []Alert) []string {
	var warnings []string
	for _, a := range alerts {
		if a.Condition == nil {
			warnings = append(warnings, fmt.Sprintf("%s: no condition block, assuming mode %q", a.Name, ModeStatus))
		}
	}
	return warnings
}
