package engine

import (
	"fmt"
	"strings"
)

// PromptBuilder re-applies mandatory prompt content before each generation.
// The refiner is not trusted to preserve injected constraints, so the engine
// runs every prompt through the builder before a turn is appended.
type PromptBuilder interface {
	Compose(prompt string) string
}

// NoopBuilder passes prompts through unchanged.
type NoopBuilder struct{}

// Compose returns the prompt as-is.
func (NoopBuilder) Compose(prompt string) string {
	return prompt
}

const constraintHeading = "Mandatory constraints:"

// ConstraintBuilder appends a block of fixed constraint lines to any prompt
// that is missing one of them.
type ConstraintBuilder struct {
	constraints []string
}

// NewConstraintBuilder creates a builder for the given constraint lines.
// Blank lines are dropped.
func NewConstraintBuilder(constraints []string) *ConstraintBuilder {
	kept := make([]string, 0, len(constraints))
	for _, c := range constraints {
		c = strings.TrimSpace(c)
		if c != "" {
			kept = append(kept, c)
		}
	}
	return &ConstraintBuilder{constraints: kept}
}

// Compose returns the prompt with every missing constraint re-injected.
func (b *ConstraintBuilder) Compose(prompt string) string {
	if len(b.constraints) == 0 {
		return prompt
	}

	var missing []string
	for _, c := range b.constraints {
		if !strings.Contains(prompt, c) {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return prompt
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimRight(prompt, "\n"))
	sb.WriteString("\n\n")
	sb.WriteString(constraintHeading)
	for _, c := range missing {
		sb.WriteString(fmt.Sprintf("\n- %s", c))
	}
	return sb.String()
}
