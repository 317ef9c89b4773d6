package validation

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssertNotNil(t *testing.T) {
	t.Parallel()

	t.Run("Should panic with the dependency name", func(t *testing.T) {
		var ptr *int
		assert.PanicsWithValue(t, "critical error: engine cannot be nil", func() {
			AssertNotNil(ptr, "engine")
		})
	})

	t.Run("Should accept a non-nil pointer", func(t *testing.T) {
		v := 1
		assert.NotPanics(t, func() { AssertNotNil(&v, "value") })
	})
}

func TestAssertPresent(t *testing.T) {
	t.Parallel()

	t.Run("Should panic on a nil interface", func(t *testing.T) {
		var w io.Writer
		assert.Panics(t, func() { AssertPresent(w, "writer") })
	})

	t.Run("Should accept a concrete value", func(t *testing.T) {
		assert.NotPanics(t, func() { AssertPresent(io.Discard, "writer") })
	})
}
