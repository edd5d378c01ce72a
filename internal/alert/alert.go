// Package alert holds the alert definition model shared by the config
// loader, evaluator, history store and notification dispatcher.
package alert

import (
	"bytes"
	"encoding/json"
	"time"
)

// Condition modes. The mode is declared per alert in config and never
// inferred from the shape of a query result.
const (
	ModeStatus = "status"
	ModeRows   = "rows"
)

type Condition struct {
	Mode            string `yaml:"mode" json:"mode"`
	ValueColumn     string `yaml:"value_column,omitempty" json:"valueColumn,omitempty"`
	ThresholdColumn string `yaml:"threshold_column,omitempty" json:"thresholdColumn,omitempty"`
}

// ChannelConfig is a tagged notification target. Kind selects the channel
// implementation; the remaining fields are kind-specific.
type ChannelConfig struct {
	Kind             string            `yaml:"channel" json:"channel"`
	Recipients       []string          `yaml:"recipients,omitempty" json:"recipients,omitempty"`
	Subject          string            `yaml:"subject,omitempty" json:"subject,omitempty"`
	WebhookURL       string            `yaml:"webhook_url,omitempty" json:"webhookUrl,omitempty"`
	ChannelName      string            `yaml:"channel_name,omitempty" json:"channelName,omitempty"`
	URL              string            `yaml:"url,omitempty" json:"url,omitempty"`
	Method           string            `yaml:"method,omitempty" json:"method,omitempty"`
	Headers          map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	NATSSubject      string            `yaml:"nats_subject,omitempty" json:"natsSubject,omitempty"`
	NotifyOnRecovery bool              `yaml:"notify_on_recovery,omitempty" json:"notifyOnRecovery,omitempty"`
}

// Alert is one declarative check: a SQL query plus the rule for turning
// its result into a verdict. Immutable once loaded.
type Alert struct {
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Query       string          `yaml:"query" json:"query"`
	Schedule    string          `yaml:"schedule" json:"schedule"`
	Enabled     *bool           `yaml:"enabled,omitempty" json:"enabled"`
	Condition   *Condition      `yaml:"condition,omitempty" json:"condition,omitempty"`
	Notify      []ChannelConfig `yaml:"notify,omitempty" json:"notify,omitempty"`
}

// IsEnabled defaults to true when the flag is omitted in config.
func (a Alert) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// ConditionMode returns the declared mode, defaulting to status for alerts
// that omit the condition block. Validation warns about the omission.
func (a Alert) ConditionMode() string {
	if a.Condition == nil || a.Condition.Mode == "" {
		return ModeStatus
	}
	return a.Condition.Mode
}

type Verdict string

const (
	VerdictOK    Verdict = "OK"
	VerdictAlert Verdict = "ALERT"
	VerdictError Verdict = "ERROR"
)

// Field is one named context value extracted from a result row.
type Field struct {
	Name  string
	Value any
}

// Context preserves the column order of the source row, which a plain map
// would lose.
type Context []Field

func (c Context) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (c *Context) UnmarshalJSON(data []byte) error {
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil { // opening brace
		return err
	}
	out := Context{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			break
		}
		out = append(out, Field{Name: key, Value: m[key]})
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return err
		}
	}
	*c = out
	return nil
}

// Get looks a field up by name.
func (c Context) Get(name string) (any, bool) {
	for _, f := range c {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// ExecutionResult is the outcome of one (alert, run) pair. Produced by the
// executor/evaluator pipeline, then treated as read-only.
type ExecutionResult struct {
	RunID       string        `json:"runId"`
	AlertName   string        `json:"alertName"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt"`
	Verdict     Verdict       `json:"verdict"`
	ActualValue any           `json:"actualValue,omitempty"`
	Threshold   any           `json:"threshold,omitempty"`
	Context     Context       `json:"context,omitempty"`
	ErrKind     string        `json:"errKind,omitempty"`
	Err         string        `json:"error,omitempty"`
	TriggeredBy string        `json:"triggeredBy"`
	Duration    time.Duration `json:"-"`
}

func (r ExecutionResult) DurationMillis() float64 {
	return float64(r.Duration) / float64(time.Millisecond)
}
