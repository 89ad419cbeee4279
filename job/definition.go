package job

import (
	"context"
	"encoding/json"
	"fmt"
)

// Definition is a handler whose configuration string is JSON decoded
// into T before the handler runs.
type Definition[T any] struct {
	// HandlerType is the registry key.
	HandlerType string

	// Handler processes the job with its decoded configuration.
	Handler func(ctx context.Context, tx Tx, j *Job, config T) error
}

// NewDefinition creates a typed handler definition.
func NewDefinition[T any](handlerType string, handler func(ctx context.Context, tx Tx, j *Job, config T) error) *Definition[T] {
	return &Definition[T]{HandlerType: handlerType, Handler: handler}
}

// RegisterDefinition registers a typed definition. An empty configuration
// string decodes to the zero T.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	r.Register(def.HandlerType, func(ctx context.Context, tx Tx, j *Job, _ VariableScope) error {
		var cfg T
		if j.HandlerConfig != "" {
			if err := json.Unmarshal([]byte(j.HandlerConfig), &cfg); err != nil {
				return fmt.Errorf("unmarshal handler config for %q: %w", def.HandlerType, err)
			}
		}
		return def.Handler(ctx, tx, j, cfg)
	})
}

// EncodeConfig JSON encodes a handler configuration.
func EncodeConfig(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal handler config: %w", err)
	}
	return string(data), nil
}
