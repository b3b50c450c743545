package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyIsDeterministic(t *testing.T) {
	a := Key("flux", "flux-dev", "a fox", map[string]any{"width": 1024, "height": 768, "seed": 42})
	b := Key("flux", "flux-dev", "a fox", map[string]any{"seed": 42, "height": 768, "width": 1024})

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestKeyTrimsPromptWhitespace(t *testing.T) {
	a := Key("flux", "flux-dev", "  a fox\n", nil)
	b := Key("flux", "flux-dev", "a fox", nil)
	assert.Equal(t, a, b)
}

func TestKeyVariesByField(t *testing.T) {
	base := Key("flux", "flux-dev", "a fox", nil)

	assert.NotEqual(t, base, Key("veo", "flux-dev", "a fox", nil))
	assert.NotEqual(t, base, Key("flux", "flux-pro", "a fox", nil))
	assert.NotEqual(t, base, Key("flux", "flux-dev", "a wolf", nil))
	assert.NotEqual(t, base, Key("flux", "flux-dev", "a fox", map[string]any{"seed": 1}))
}

func TestKeySeparatorsKeepFieldsDistinct(t *testing.T) {
	// "ab"+"c" must not collide with "a"+"bc"
	assert.NotEqual(t, Key("ab", "c", "p", nil), Key("a", "bc", "p", nil))
}
