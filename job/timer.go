package job

import (
	"encoding/json"
	"fmt"
)

// endDateKey is the handler configuration key holding an end-date
// expression that the timer start and boundary handlers re-evaluate each
// time the timer fires.
const endDateKey = "end_date"

// RecomputesEndDate reports whether timers of handlerType carry a
// re-evaluated end-date expression.
func RecomputesEndDate(handlerType string) bool {
	return handlerType == HandlerTimerStartEvent || handlerType == HandlerTimerBoundaryEvent
}

// EndDateExpression returns the end-date expression stored in a handler
// configuration, or "" if there is none or the configuration is not a
// JSON object.
func EndDateExpression(config string) string {
	if config == "" {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(config), &m); err != nil {
		return ""
	}
	s, _ := m[endDateKey].(string)
	return s
}

// WithEndDateExpression returns config with the end-date expression set.
// An empty config becomes a JSON object holding only the expression.
func WithEndDateExpression(config, expr string) (string, error) {
	m := map[string]any{}
	if config != "" {
		if err := json.Unmarshal([]byte(config), &m); err != nil {
			return "", fmt.Errorf("handler config is not a JSON object: %w", err)
		}
	}
	m[endDateKey] = expr
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal handler config: %w", err)
	}
	return string(data), nil
}
