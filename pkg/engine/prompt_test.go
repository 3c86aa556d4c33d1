package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstraintBuilderInjectsMissing(t *testing.T) {
	b := NewConstraintBuilder([]string{"no text in the image", "square composition"})

	out := b.Compose("a lighthouse at dusk")
	assert.Contains(t, out, "a lighthouse at dusk")
	assert.Contains(t, out, "Mandatory constraints:")
	assert.Contains(t, out, "- no text in the image")
	assert.Contains(t, out, "- square composition")
}

func TestConstraintBuilderIsIdempotent(t *testing.T) {
	b := NewConstraintBuilder([]string{"no text in the image"})

	once := b.Compose("a lighthouse")
	twice := b.Compose(once)
	assert.Equal(t, once, twice)
}

func TestConstraintBuilderPartialReinjection(t *testing.T) {
	b := NewConstraintBuilder([]string{"no text in the image", "square composition"})

	// the refiner kept one constraint but dropped the other
	out := b.Compose("a lighthouse, square composition")
	assert.Contains(t, out, "- no text in the image")
	assert.NotContains(t, out, "- square composition")
}

func TestConstraintBuilderDropsBlankLines(t *testing.T) {
	b := NewConstraintBuilder([]string{"", "  ", "keep this"})
	out := b.Compose("prompt")
	assert.Contains(t, out, "keep this")
}

func TestNoopBuilder(t *testing.T) {
	assert.Equal(t, "unchanged", NoopBuilder{}.Compose("unchanged"))
}
